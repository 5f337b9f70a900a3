package entity

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chirino/cartography/internal/model"
	"github.com/chirino/cartography/internal/plugin/notify/channel"
	"github.com/chirino/cartography/internal/plugin/store/memory"
	registrynotify "github.com/chirino/cartography/internal/registry/notify"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/validate"
	"github.com/stretchr/testify/require"
)

type harness struct {
	engine   *Engine
	store    registrystore.DocumentStore
	notifier *channel.Notifier
}

func newHarness(t *testing.T, wrap ...func(registrystore.DocumentStore) registrystore.DocumentStore) *harness {
	t.Helper()
	mem, err := memory.New()
	require.NoError(t, err)
	var store registrystore.DocumentStore = mem
	for _, w := range wrap {
		store = w(store)
	}
	pipeline, err := validate.New(context.Background(), store, "")
	require.NoError(t, err)

	var clock atomic.Int64
	clock.Store(time.Date(2012, 2, 13, 0, 0, 0, 0, time.UTC).UnixMilli())
	notifier := channel.New(1024)
	engine := New(store, pipeline, notifier, Options{
		MaxRetries:   3,
		RetryInitial: time.Millisecond,
		RetryMax:     5 * time.Millisecond,
		Now:          func() time.Time { return time.UnixMilli(clock.Add(1)) },
	})
	return &harness{engine: engine, store: store, notifier: notifier}
}

func (h *harness) situation(t *testing.T, title string) *Situation {
	t.Helper()
	s := h.engine.NewSituation()
	require.NoError(t, s.Create(context.Background()))
	if title != "" {
		_, err := s.Title(context.Background(), title)
		require.NoError(t, err)
	}
	return s
}

func (h *harness) relationship(t *testing.T, cause, effect *Situation) *Relationship {
	t.Helper()
	r := h.engine.NewRelationship(cause.ID(), effect.ID())
	require.NoError(t, r.Create(context.Background()))
	return r
}

func requireKind(t *testing.T, kind registrystore.Kind, err error) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, registrystore.KindOf(err), err.Error())
}

// flakyStore fails checkpoint writes with a conflict while conflicts > 0.
type flakyStore struct {
	registrystore.DocumentStore
	conflicts atomic.Int32
	puts      atomic.Int32
}

func (s *flakyStore) Put(ctx context.Context, doc *model.Document) (string, error) {
	if doc.Type == model.TypeCheckpoint {
		s.puts.Add(1)
		if s.conflicts.Add(-1) >= 0 {
			return "", &registrystore.ConflictError{Message: "document update conflict", ID: doc.ID}
		}
	}
	return s.DocumentStore.Put(ctx, doc)
}

func bumpCheckpoint(cur *model.Document) (*model.Document, error) {
	cp := model.Checkpoint{Header: model.Header{ID: "sync", Type: model.TypeCheckpoint}}
	if cur != nil {
		if err := cur.Decode(&cp); err != nil {
			return nil, err
		}
	}
	cp.Position++
	return model.NewDocument(cp)
}

func TestUpdateRetriesConflicts(t *testing.T) {
	flaky := &flakyStore{}
	h := newHarness(t, func(s registrystore.DocumentStore) registrystore.DocumentStore {
		flaky.DocumentStore = s
		return flaky
	})
	ctx := context.Background()

	flaky.conflicts.Store(2)
	doc, err := h.engine.Update(ctx, "sync", bumpCheckpoint)
	require.NoError(t, err)
	require.EqualValues(t, 3, flaky.puts.Load())

	var cp model.Checkpoint
	require.NoError(t, doc.Decode(&cp))
	require.EqualValues(t, 1, cp.Position)

	doc, err = h.engine.Update(ctx, "sync", bumpCheckpoint)
	require.NoError(t, err)
	require.NoError(t, doc.Decode(&cp))
	require.EqualValues(t, 2, cp.Position)
}

func TestUpdateGivesUpAfterMaxRetries(t *testing.T) {
	flaky := &flakyStore{}
	h := newHarness(t, func(s registrystore.DocumentStore) registrystore.DocumentStore {
		flaky.DocumentStore = s
		return flaky
	})
	flaky.conflicts.Store(1000)

	_, err := h.engine.Update(context.Background(), "sync", bumpCheckpoint)
	requireKind(t, registrystore.KindConflict, err)
	require.EqualValues(t, 4, flaky.puts.Load())
}

func TestUpdateRejectsImmutableAndRevisableDocs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.situation(t, "Tuition hike")

	identity := func(cur *model.Document) (*model.Document, error) { return cur, nil }

	_, err := h.engine.Update(ctx, s.ID(), identity)
	requireKind(t, registrystore.KindForbidden, err)

	_, err = s.Update(ctx, identity)
	requireKind(t, registrystore.KindForbidden, err)

	changes, err := s.Changes(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	_, err = h.engine.Update(ctx, changes[0].ID, identity)
	requireKind(t, registrystore.KindForbidden, err)
	require.EqualError(t, err, "Immutable docs cannot be updated.")
}

func TestUpdateMustKeepIdentity(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Update(context.Background(), "sync", func(*model.Document) (*model.Document, error) {
		return model.NewDocument(model.Checkpoint{Header: model.Header{ID: "other", Type: model.TypeCheckpoint}})
	})
	requireKind(t, registrystore.KindValidation, err)
}

func TestWritesPublishLifecycleEvents(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := h.notifier.Subscribe(ctx)
	require.NoError(t, err)

	s := h.situation(t, "Strike vote")

	next := func() registrynotify.Event {
		select {
		case e := <-events:
			return e
		case <-time.After(time.Second):
			t.Fatal("no event")
		}
		return registrynotify.Event{}
	}

	e := next()
	require.Equal(t, registrynotify.Created, e.Kind)
	require.Equal(t, model.Ref{ID: s.ID(), Type: model.TypeSituation}, e.Doc)

	e = next()
	require.Equal(t, registrynotify.Created, e.Kind)
	require.Equal(t, model.TypeChange, e.Doc.Type)
	changeID := e.Doc.ID

	e = next()
	require.Equal(t, registrynotify.Changed, e.Kind)
	require.Equal(t, s.ID(), e.Doc.ID)
	require.Equal(t, "title", e.Field.Name)
	require.Equal(t, "Strike vote", e.Field.To)
	require.Equal(t, changeID, e.ResultID)

	require.NoError(t, s.Delete(ctx))
	deleted := map[string]bool{}
	for range 2 {
		e := next()
		require.Equal(t, registrynotify.Deleted, e.Kind)
		deleted[e.Doc.ID] = true
	}
	require.True(t, deleted[s.ID()])
	require.True(t, deleted[changeID])
}
