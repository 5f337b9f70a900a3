package weaviate

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/cartography/internal/testutil/testweaviate"
	"github.com/stretchr/testify/require"
)

func TestClassName(t *testing.T) {
	require.Equal(t, "CartographySituation", ClassName("cartography", "situation"))
	require.Equal(t, "MyDocsChange", ClassName("my_docs", "change"))
}

func TestWeaviateIndexRoundTrip(t *testing.T) {
	url := testweaviate.StartWeaviate(t)
	ctx := context.Background()

	x, err := New(url)
	require.NoError(t, err)

	require.NoError(t, x.Index(ctx, "test", "situation", "s1", map[string]any{"title": "Student strike"}))
	require.NoError(t, x.Index(ctx, "test", "situation", "s2", map[string]any{"title": "Tuition hike"}))
	require.NoError(t, x.Index(ctx, "test", "situation", "s1", map[string]any{"title": "General student strike"}))

	require.Eventually(t, func() bool {
		hits, err := x.Search(ctx, "test", "situation", "strike", 10)
		return err == nil && len(hits) == 1 && hits[0].ID == "s1" &&
			hits[0].Summary["title"] == "General student strike"
	}, 10*time.Second, 200*time.Millisecond)

	require.NoError(t, x.Delete(ctx, "test", "situation", "s1"))
	require.NoError(t, x.Delete(ctx, "test", "situation", "s1"))

	require.Eventually(t, func() bool {
		hits, err := x.Search(ctx, "test", "situation", "strike", 10)
		return err == nil && len(hits) == 0
	}, 10*time.Second, 200*time.Millisecond)
}
