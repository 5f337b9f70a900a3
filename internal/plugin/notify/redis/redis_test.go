package redis

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/cartography/internal/model"
	registrynotify "github.com/chirino/cartography/internal/registry/notify"
	"github.com/chirino/cartography/internal/testutil/testredis"
	"github.com/stretchr/testify/require"
)

func TestRedisNotifierDeliversPublishedEvents(t *testing.T) {
	url := testredis.StartRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n, err := LoadFromURL(ctx, url, "test:events", 16)
	require.NoError(t, err)
	defer n.Close()

	events, err := n.Subscribe(ctx)
	require.NoError(t, err)

	n.Publish(ctx, registrynotify.Event{
		Kind:  registrynotify.Changed,
		Doc:   model.Ref{ID: "s1", Type: model.TypeSituation},
		Field: &model.FieldChange{Name: "title", To: "Grève"},
	})

	select {
	case e := <-events:
		require.Equal(t, registrynotify.Changed, e.Kind)
		require.Equal(t, "s1", e.Doc.ID)
		require.NotNil(t, e.Field)
		require.Equal(t, "title", e.Field.Name)
		require.Equal(t, "Grève", e.Field.To)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestRedisNotifierRequiresURL(t *testing.T) {
	_, err := load(context.Background())
	require.Error(t, err)
}
