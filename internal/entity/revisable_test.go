package entity

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chirino/cartography/internal/model"
	"github.com/chirino/cartography/internal/plugin/store/memory"
	registrynotify "github.com/chirino/cartography/internal/registry/notify"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadReturnsLastWritePerField(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.situation(t, "")

	fields, err := s.Read(ctx)
	require.NoError(t, err)
	require.NotContains(t, fields, "title")
	require.Equal(t, s.ID(), fields["id"])
	require.NotEmpty(t, fields["revision_token"])

	for i := 1; i <= 5; i++ {
		_, err := s.Title(ctx, fmt.Sprintf("title %d", i))
		require.NoError(t, err)
		_, err = s.Description(ctx, fmt.Sprintf("description %d", i))
		require.NoError(t, err)
		if i%2 == 0 {
			_, err = s.Location(ctx, fmt.Sprintf("location %d", i))
			require.NoError(t, err)
		}
	}

	fields, err = s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "title 5", fields["title"])
	assert.Equal(t, "description 5", fields["description"])
	assert.Equal(t, "location 4", fields["location"])
	assert.Equal(t, model.TypeSituation, fields["type"])
	assert.Equal(t, true, fields["revisable"])

	v, ok, err := s.ReadField(ctx, "title")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "title 5", v)

	v, ok, err = s.ReadField(ctx, "period")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, v)

	got, err := s.ReadFields(ctx, "title", "location", "period")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"title": "title 5", "location": "location 4"}, got)
}

func TestRepeatedChangeIsAlreadyIs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.situation(t, "")

	_, err := s.Title(ctx, "Manifestation")
	require.NoError(t, err)
	_, err = s.Title(ctx, "Manifestation")
	requireKind(t, registrystore.KindAlreadyIs, err)

	_, err = s.Period(ctx, map[string]any{"start": 2012})
	require.NoError(t, err)
	_, err = s.Period(ctx, map[string]int{"start": 2012})
	requireKind(t, registrystore.KindAlreadyIs, err)

	changes, err := s.Changes(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	require.Equal(t, "period", changes[0].Changed.Field.Name)
	require.Equal(t, "title", changes[1].Changed.Field.Name)
}

func TestConcurrentIdenticalChangesKeepOneRecord(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.situation(t, "")

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.Title(ctx, "Same title")
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		requireKind(t, registrystore.KindAlreadyIs, err)
	}
	require.Equal(t, 1, succeeded)

	changes, err := s.Changes(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
}

func TestProtectedFieldsAreForbidden(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.situation(t, "")

	for _, f := range model.ProtectedFields {
		_, err := s.Change(ctx, f, "x")
		requireKind(t, registrystore.KindForbidden, err)
	}

	missing := h.engine.Situation("does-not-exist")
	_, err := missing.Change(ctx, "id", "x")
	requireKind(t, registrystore.KindForbidden, err)
	_, err = missing.Change(ctx, "title", "x")
	requireKind(t, registrystore.KindForbidden, err)
	require.EqualError(t, err, "Changed doc doesn't exist.")
}

func TestRelationshipEndpointsCannotChange(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	r := h.relationship(t, h.situation(t, "a"), h.situation(t, "b"))

	for _, f := range []string{"cause", "effect"} {
		_, err := r.Change(ctx, f, map[string]any{"id": "x"})
		requireKind(t, registrystore.KindForbidden, err)
	}
}

func TestSituationFieldRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.situation(t, "")

	long := make([]byte, 116)
	for i := range long {
		long[i] = 'a'
	}
	_, err := s.Title(ctx, string(long))
	requireKind(t, registrystore.KindForbidden, err)

	_, err = s.Change(ctx, "tags", []any{"ok", 3})
	requireKind(t, registrystore.KindForbidden, err)

	changes, err := s.Changes(ctx)
	require.NoError(t, err)
	require.Empty(t, changes)
}

func TestArrayAndMapHelpers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.situation(t, "")

	_, err := s.Untag(ctx, "missing")
	requireKind(t, registrystore.KindForbidden, err)

	_, err = s.Tag(ctx, "education")
	require.NoError(t, err)
	_, err = s.Tag(ctx, "protest")
	require.NoError(t, err)
	_, err = s.Tag(ctx, "education")
	requireKind(t, registrystore.KindForbidden, err)

	state, err := s.State(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"education", "protest"}, state.Tags)

	_, err = s.Untag(ctx, "education")
	require.NoError(t, err)
	_, err = s.Untag(ctx, "protest")
	require.NoError(t, err)
	v, ok, err := s.ReadField(ctx, "tags")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []any{}, v)

	_, err = s.Unmark(ctx, "important")
	requireKind(t, registrystore.KindForbidden, err)
	_, err = s.Mark(ctx, "important")
	require.NoError(t, err)
	state, err = s.State(ctx)
	require.NoError(t, err)
	require.Contains(t, state.Marked, "important")
	require.Positive(t, state.Marked["important"])

	_, err = s.Unmark(ctx, "important")
	require.NoError(t, err)
	_, err = s.Unmark(ctx, "important")
	requireKind(t, registrystore.KindForbidden, err)
	v, _, err = s.ReadField(ctx, "marked")
	require.NoError(t, err)
	require.Equal(t, map[string]any{}, v)

	_, err = s.Title(ctx, "not an array")
	require.NoError(t, err)
	_, err = s.Add(ctx, "title", "x")
	requireKind(t, registrystore.KindForbidden, err)
	_, err = s.Set(ctx, "title", "k", 1)
	requireKind(t, registrystore.KindForbidden, err)
}

func TestChangeOptionsAreRecorded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s := h.situation(t, "")

	c, err := s.Description(ctx, "Students walk out", WithSummary("Changed description"), WithReason("press release"))
	require.NoError(t, err)
	require.Equal(t, "Changed description", c.Summary)

	changes, err := s.Changes(ctx)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, c.ID, changes[0].ID)
	require.Equal(t, "press release", changes[0].Reason)
	require.Equal(t, model.Ref{ID: s.ID(), Type: model.TypeSituation}, changes[0].Changed.Doc)
}

func TestSameTimestampChangesResolveByID(t *testing.T) {
	mem, err := memory.New()
	require.NoError(t, err)
	pipeline, err := validate.New(context.Background(), mem, "")
	require.NoError(t, err)

	ids := []string{"situation-1", "c-b", "c-a"}
	var next int
	fixed := time.Date(2012, 3, 22, 12, 0, 0, 0, time.UTC)
	engine := New(mem, pipeline, registrynotify.Discard, Options{
		Now: func() time.Time { return fixed },
		NewID: func() string {
			next++
			if next > len(ids) {
				return fmt.Sprintf("extra-%d", next)
			}
			return ids[next-1]
		},
	})
	ctx := context.Background()

	s := engine.NewSituation()
	require.NoError(t, s.Create(ctx))
	_, err = s.Title(ctx, "from b")
	require.NoError(t, err)
	_, err = s.Title(ctx, "from a")
	require.NoError(t, err)

	fields, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from b", fields["title"])

	v, ok, err := s.ReadField(ctx, "title")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "from b", v)
}
