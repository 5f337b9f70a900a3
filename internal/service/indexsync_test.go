package service

import (
	"context"
	"testing"
	"time"

	"github.com/chirino/cartography/internal/entity"
	"github.com/chirino/cartography/internal/model"
	"github.com/chirino/cartography/internal/plugin/notify/channel"
	searchmemory "github.com/chirino/cartography/internal/plugin/search/memory"
	"github.com/chirino/cartography/internal/plugin/store/memory"
	registrynotify "github.com/chirino/cartography/internal/registry/notify"
	"github.com/chirino/cartography/internal/validate"
	"github.com/stretchr/testify/require"
)

func newSync(t *testing.T) (*entity.Engine, *searchmemory.Index, *IndexSync) {
	t.Helper()
	store, err := memory.New()
	require.NoError(t, err)
	pipeline, err := validate.New(context.Background(), store, "")
	require.NoError(t, err)
	notifier := channel.New(1024)
	t.Cleanup(func() { _ = notifier.Close() })
	engine := entity.New(store, pipeline, notifier, entity.Options{})
	index := searchmemory.New()
	return engine, index, NewIndexSync(engine, notifier, index, "test")
}

func search(t *testing.T, index *searchmemory.Index, docType, query string) []string {
	t.Helper()
	hits, err := index.Search(context.Background(), "test", docType, query, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	return ids
}

func TestIndexSyncFollowsDocumentLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine, index, sync := newSync(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sync.Start(ctx)
	}()
	// Start subscribes asynchronously; keep writing until an event lands.
	require.Eventually(t, func() bool {
		_ = engine.NewSituation().Create(ctx)
		cp, err := sync.Progress(ctx)
		return err == nil && cp.Position > 0
	}, 5*time.Second, 10*time.Millisecond)

	quebec := engine.NewSituation()
	require.NoError(t, quebec.Create(ctx))
	_, err := quebec.Title(ctx, "Quebec student protests")
	require.NoError(t, err)

	strike := engine.NewSituation()
	require.NoError(t, strike.Create(ctx))
	_, err = strike.Title(ctx, "Tuition hike")
	require.NoError(t, err)

	rel := engine.NewRelationship(strike.ID(), quebec.ID())
	require.NoError(t, rel.Create(ctx))
	_, err = rel.Description(ctx, "Tuition drove the strike")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(search(t, index, model.TypeSituation, "quebec")) == 1 &&
			len(search(t, index, model.TypeRelationship, "drove")) == 1 &&
			len(search(t, index, model.TypeChange, "protests")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, quebec.Delete(ctx))
	require.Eventually(t, func() bool {
		return len(search(t, index, model.TypeSituation, "quebec")) == 0 &&
			len(search(t, index, model.TypeRelationship, "drove")) == 0 &&
			len(search(t, index, model.TypeChange, "protests")) == 0
	}, 5*time.Second, 10*time.Millisecond)

	cp, err := sync.Progress(ctx)
	require.NoError(t, err)
	require.Zero(t, cp.Failed)
	require.Equal(t, cp.Position, cp.Indexed)

	cancel()
	<-done
}

func TestIndexSyncRefreshesRelationshipSummaries(t *testing.T) {
	ctx := context.Background()
	engine, index, sync := newSync(t)

	cause := engine.NewSituation()
	require.NoError(t, cause.Create(ctx))
	effect := engine.NewSituation()
	require.NoError(t, effect.Create(ctx))
	rel := engine.NewRelationship(cause.ID(), effect.ID())
	require.NoError(t, rel.Create(ctx))
	require.NoError(t, sync.Handle(ctx, eventFor(model.TypeRelationship, rel.ID())))
	require.Empty(t, search(t, index, model.TypeRelationship, "montreal"))

	change, err := cause.Location(ctx, "Montreal")
	require.NoError(t, err)
	require.NoError(t, sync.Handle(ctx, changedEvent(cause.Ref(), change.ID)))
	require.Equal(t, []string{rel.ID()}, search(t, index, model.TypeRelationship, "montreal"))

	adj, err := rel.Strengthen(ctx)
	require.NoError(t, err)
	require.NoError(t, sync.Handle(ctx, eventFor(model.TypeAdjustment, adj.ID)))
	hits, err := index.Search(ctx, "test", model.TypeRelationship, "montreal", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.EqualValues(t, 1, hits[0].Summary["strength"])
}

func TestIndexSyncDropsNonStringChangeValues(t *testing.T) {
	ctx := context.Background()
	engine, index, sync := newSync(t)

	s := engine.NewSituation()
	require.NoError(t, s.Create(ctx))
	change, err := s.Period(ctx, map[string]any{"from": "2012-02-13", "to": "2012-09-07"})
	require.NoError(t, err)
	require.NoError(t, sync.Handle(ctx, eventFor(model.TypeChange, change.ID)))

	hits, err := index.Search(ctx, "test", model.TypeChange, "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	field := hits[0].Summary["changed"].(map[string]any)["field"].(map[string]any)
	require.Equal(t, "period", field["name"])
	require.NotContains(t, field, "to")
}

func TestIndexSyncIgnoresVanishedDocuments(t *testing.T) {
	_, _, sync := newSync(t)
	require.NoError(t, sync.Handle(context.Background(), eventFor(model.TypeSituation, "missing")))
}

func eventFor(docType, id string) registrynotify.Event {
	return registrynotify.Event{Kind: registrynotify.Created, Doc: model.Ref{ID: id, Type: docType}}
}

func changedEvent(ref model.Ref, changeID string) registrynotify.Event {
	return registrynotify.Event{Kind: registrynotify.Changed, Doc: ref, ResultID: changeID}
}

func TestIndexSyncCheckpointCannotBeTakenByAlias(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine, _, sync := newSync(t)

	s := engine.NewSituation()
	require.NoError(t, s.Create(ctx))
	_, err := s.Alias(ctx, sync.CheckpointID())
	require.Error(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sync.Start(ctx)
	}()
	require.Eventually(t, func() bool {
		_, _ = s.Title(ctx, time.Now().String())
		cp, err := sync.Progress(ctx)
		return err == nil && cp.Position > 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
