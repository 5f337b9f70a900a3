package redis

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/cartography/internal/model"
	"github.com/chirino/cartography/internal/testutil/testredis"
	"github.com/stretchr/testify/require"
)

func TestAliasCacheRoundTrip(t *testing.T) {
	url := testredis.StartRedis(t)
	ctx := context.Background()

	c, err := LoadFromURL(ctx, url, "test", time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ref, err := c.Get(ctx, "casserole-protests")
	require.NoError(t, err)
	require.Nil(t, ref)

	owner := model.Ref{ID: "s1", Type: model.TypeSituation}
	require.NoError(t, c.Set(ctx, "casserole-protests", owner, 0))
	require.NoError(t, c.Set(ctx, "maple-spring", owner, 0))

	ref, err = c.Get(ctx, "casserole-protests")
	require.NoError(t, err)
	require.Equal(t, &owner, ref)

	require.NoError(t, c.Remove(ctx, "casserole-protests", "maple-spring"))
	ref, err = c.Get(ctx, "maple-spring")
	require.NoError(t, err)
	require.Nil(t, ref)
}

func TestAliasCacheExpires(t *testing.T) {
	url := testredis.StartRedis(t)
	ctx := context.Background()

	c, err := LoadFromURL(ctx, url, "ttl", time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Set(ctx, "short", model.Ref{ID: "s2"}, 50*time.Millisecond))
	require.Eventually(t, func() bool {
		ref, err := c.Get(ctx, "short")
		return err == nil && ref == nil
	}, 5*time.Second, 20*time.Millisecond)
}
