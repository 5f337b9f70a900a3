package channel

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/cartography/internal/model"
	registrynotify "github.com/chirino/cartography/internal/registry/notify"
	"github.com/stretchr/testify/require"
)

func TestChannelFanOut(t *testing.T) {
	n := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := n.Subscribe(ctx)
	require.NoError(t, err)
	b, err := n.Subscribe(ctx)
	require.NoError(t, err)

	n.Publish(ctx, registrynotify.Event{Kind: registrynotify.Created, Doc: model.Ref{ID: "s1"}})

	for _, ch := range []<-chan registrynotify.Event{a, b} {
		select {
		case e := <-ch:
			require.Equal(t, "s1", e.Doc.ID)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestChannelDropsWhenFull(t *testing.T) {
	n := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := n.Subscribe(ctx)
	require.NoError(t, err)

	n.Publish(ctx, registrynotify.Event{Kind: registrynotify.Created, Doc: model.Ref{ID: "first"}})
	n.Publish(ctx, registrynotify.Event{Kind: registrynotify.Created, Doc: model.Ref{ID: "second"}})

	e := <-ch
	require.Equal(t, "first", e.Doc.ID)
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %s", e.Doc.ID)
	default:
	}
}

func TestChannelClosesOnCancel(t *testing.T) {
	n := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := n.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestChannelRegistered(t *testing.T) {
	loader, err := registrynotify.Select("channel")
	require.NoError(t, err)
	n, err := loader(context.Background())
	require.NoError(t, err)
	require.NoError(t, n.Close())
}
