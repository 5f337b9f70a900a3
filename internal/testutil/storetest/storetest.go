// Package storetest is a contract suite every DocumentStore plugin must pass.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/chirino/cartography/internal/model"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) (registrystore.DocumentStore, context.Context)

// Options tunes the suite to a store's guarantees.
type Options struct {
	// AtomicBulk is set when a failed bulk write leaves nothing applied.
	AtomicBulk bool
}

// Run executes the contract suite.
func Run(t *testing.T, factory Factory, opts Options) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, factory) })
	t.Run("CreateExistingConflicts", func(t *testing.T) { testCreateExistingConflicts(t, factory) })
	t.Run("UpdateChecksRevision", func(t *testing.T) { testUpdateChecksRevision(t, factory) })
	t.Run("DeleteLeavesTombstone", func(t *testing.T) { testDeleteLeavesTombstone(t, factory) })
	t.Run("BulkWrite", func(t *testing.T) { testBulkWrite(t, factory, opts) })
	t.Run("RangeQueries", func(t *testing.T) { testRangeQueries(t, factory) })
	t.Run("ReduceByGroup", func(t *testing.T) { testReduceByGroup(t, factory) })
	t.Run("IncludeDocs", func(t *testing.T) { testIncludeDocs(t, factory) })
	t.Run("DeletedDocsLeaveViews", func(t *testing.T) { testDeletedDocsLeaveViews(t, factory) })
}

func situation(t *testing.T, id string) *model.Document {
	t.Helper()
	doc, err := model.NewDocument(model.Situation{Header: model.Header{
		ID: id, Type: model.TypeSituation, Immutable: true, Revisable: true, CreationDate: 1,
	}})
	require.NoError(t, err)
	return doc
}

func change(t *testing.T, id, target, field string, to any, at int64) *model.Document {
	t.Helper()
	doc, err := model.NewDocument(model.Change{
		Header: model.Header{ID: id, Type: model.TypeChange, Immutable: true, CreationDate: at},
		Changed: model.ChangeTarget{
			Doc:   model.Ref{ID: target, Type: model.TypeSituation},
			Field: model.FieldChange{Name: field, To: to},
		},
	})
	require.NoError(t, err)
	return doc
}

func adjustment(t *testing.T, id, target string, by float64, at int64) *model.Document {
	t.Helper()
	doc, err := model.NewDocument(model.Adjustment{
		Header: model.Header{ID: id, Type: model.TypeAdjustment, Immutable: true, CreationDate: at},
		Adjusted: model.AdjustmentTarget{
			Doc:   model.Ref{ID: target, Type: model.TypeRelationship},
			Field: model.FieldDelta{Name: "strength", By: by},
		},
	})
	require.NoError(t, err)
	return doc
}

func testCreateAndGet(t *testing.T, factory Factory) {
	s, ctx := factory(t)
	doc := situation(t, "s1")

	rev, err := s.Put(ctx, doc)
	require.NoError(t, err)
	assert.NotEmpty(t, rev)

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, rev, got.Rev)
	assert.Equal(t, model.TypeSituation, got.Type)
	assert.JSONEq(t, string(doc.Body), string(got.Body))

	ok, err := s.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, "missing")
	assert.True(t, registrystore.IsNotFound(err), "got %v", err)
}

func testCreateExistingConflicts(t *testing.T, factory Factory) {
	s, ctx := factory(t)
	_, err := s.Put(ctx, situation(t, "s1"))
	require.NoError(t, err)

	_, err = s.Put(ctx, situation(t, "s1"))
	assert.True(t, registrystore.IsConflict(err), "got %v", err)
}

func testUpdateChecksRevision(t *testing.T, factory Factory) {
	s, ctx := factory(t)
	rev1, err := s.Put(ctx, situation(t, "s1"))
	require.NoError(t, err)

	doc := situation(t, "s1")
	doc.Rev = rev1
	rev2, err := s.Put(ctx, doc)
	require.NoError(t, err)
	assert.NotEqual(t, rev1, rev2)

	stale := situation(t, "s1")
	stale.Rev = rev1
	_, err = s.Put(ctx, stale)
	assert.True(t, registrystore.IsConflict(err), "got %v", err)

	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, rev2, got.Rev)
}

func testDeleteLeavesTombstone(t *testing.T, factory Factory) {
	s, ctx := factory(t)
	rev, err := s.Put(ctx, situation(t, "s1"))
	require.NoError(t, err)

	_, err = s.Put(ctx, &model.Document{ID: "s1", Rev: rev, Type: model.TypeSituation, Deleted: true})
	require.NoError(t, err)

	_, err = s.Get(ctx, "s1")
	assert.True(t, registrystore.IsNotFound(err), "got %v", err)
	ok, err := s.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Put(ctx, situation(t, "s1"))
	assert.True(t, registrystore.IsConflict(err), "deleted ids must not be resurrected, got %v", err)
}

func testBulkWrite(t *testing.T, factory Factory, opts Options) {
	s, ctx := factory(t)
	results, err := s.BulkWrite(ctx, []*model.Document{
		situation(t, "s1"),
		change(t, "c1", "s1", "title", "one", 10),
		change(t, "c2", "s1", "title", "two", 20),
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.NoError(t, registrystore.FirstError(results))
	for _, r := range results {
		assert.NotEmpty(t, r.Rev)
	}

	docs := make([]*model.Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, &model.Document{ID: r.ID, Rev: r.Rev, Deleted: true})
	}
	results, err = s.BulkWrite(ctx, docs)
	require.NoError(t, err)
	require.NoError(t, registrystore.FirstError(results))
	for _, id := range []string{"s1", "c1", "c2"} {
		ok, err := s.Exists(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, id)
	}

	// A bulk write containing a conflict.
	_, err = s.Put(ctx, situation(t, "s2"))
	require.NoError(t, err)
	results, err = s.BulkWrite(ctx, []*model.Document{
		situation(t, "s3"),
		situation(t, "s2"),
	})
	if opts.AtomicBulk {
		require.Error(t, err)
		assert.True(t, registrystore.IsConflict(err), "got %v", err)
		ok, err := s.Exists(ctx, "s3")
		require.NoError(t, err)
		assert.False(t, ok, "a failed atomic bulk write must not apply any document")
	} else {
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.NoError(t, results[0].Err)
		assert.True(t, registrystore.IsConflict(results[1].Err), "got %v", results[1].Err)
	}
}

func testRangeQueries(t *testing.T, factory Factory) {
	s, ctx := factory(t)
	_, err := s.Put(ctx, situation(t, "s1"))
	require.NoError(t, err)
	for i, title := range []string{"first", "second", "third"} {
		_, err := s.Put(ctx, change(t, fmt.Sprintf("c%d", i), "s1", "title", title, int64(100+i)))
		require.NoError(t, err)
	}
	_, err = s.Put(ctx, change(t, "cl", "s1", "location", "Montreal", 50))
	require.NoError(t, err)
	_, err = s.Put(ctx, change(t, "other", "s2", "title", "elsewhere", 500))
	require.NoError(t, err)

	rows, err := s.Query(ctx, view.ChangesByChanged, view.Query{
		StartKey:   view.Key{"s1", "title", view.High},
		EndKey:     view.Key{"s1", "title"},
		Descending: true,
		Limit:      1,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	var field model.FieldChange
	require.NoError(t, rows[0].DecodeValue(&field))
	assert.Equal(t, "third", field.To)
	assert.Equal(t, "c2", rows[0].ID)

	rows, err = s.Query(ctx, view.ChangesByChanged, view.Query{
		StartKey: view.Key{"s1"},
		EndKey:   view.Key{"s1", view.High},
	})
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "location", rows[0].Key[1])
	assert.Equal(t, []string{"cl", "c0", "c1", "c2"}, []string{rows[0].ID, rows[1].ID, rows[2].ID, rows[3].ID})

	rows, err = s.Query(ctx, view.ChangesByChanged, view.Query{
		StartKey:   view.Key{"s1", "nothing", view.High},
		EndKey:     view.Key{"s1", "nothing"},
		Descending: true,
		Limit:      1,
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testReduceByGroup(t *testing.T, factory Factory) {
	s, ctx := factory(t)
	_, err := s.BulkWrite(ctx, []*model.Document{
		change(t, "c1", "s1", "title", "old", 10),
		change(t, "c2", "s1", "title", "new", 20),
		change(t, "c3", "s1", "tags", []string{"a"}, 15),
		// Same timestamp: the higher change id wins.
		change(t, "c5", "s1", "location", "b", 30),
		change(t, "c4", "s1", "location", "a", 30),
	})
	require.NoError(t, err)

	rows, err := s.Query(ctx, view.ChangesByChanged, view.Query{
		StartKey:   view.Key{"s1"},
		EndKey:     view.Key{"s1", view.High},
		Reduce:     true,
		GroupLevel: 2,
	})
	require.NoError(t, err)
	got := map[string]any{}
	for _, r := range rows {
		var f model.FieldChange
		require.NoError(t, r.DecodeValue(&f))
		got[f.Name] = f.To
	}
	assert.Equal(t, map[string]any{
		"title":    "new",
		"tags":     []any{"a"},
		"location": "b",
	}, got)

	_, err = s.BulkWrite(ctx, []*model.Document{
		adjustment(t, "a1", "r1", 1, 10),
		adjustment(t, "a2", "r1", 1, 11),
		adjustment(t, "a3", "r1", -1, 12),
		adjustment(t, "a4", "r2", 5, 13),
	})
	require.NoError(t, err)
	rows, err = s.Query(ctx, view.AdjustmentsByAdjustedField, view.Query{
		StartKey: view.Key{"r1", "strength"},
		EndKey:   view.Key{"r1", "strength", view.High},
		Reduce:   true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	var sum float64
	require.NoError(t, json.Unmarshal(rows[0].Value, &sum))
	assert.Equal(t, 1.0, sum)
}

func testIncludeDocs(t *testing.T, factory Factory) {
	s, ctx := factory(t)
	_, err := s.BulkWrite(ctx, []*model.Document{
		change(t, "c1", "s1", "title", "a", 10),
		change(t, "c2", "s1", "description", "b", 11),
	})
	require.NoError(t, err)

	rows, err := s.Query(ctx, view.ChangesByDoc, view.Query{
		StartKey:    view.Key{"s1", view.High},
		EndKey:      view.Key{"s1"},
		Descending:  true,
		IncludeDocs: true,
	})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c2", rows[0].ID)
	require.NotNil(t, rows[0].Doc)
	assert.NotEmpty(t, rows[0].Doc.Rev)
	var c model.Change
	require.NoError(t, rows[0].Doc.Decode(&c))
	assert.Equal(t, "description", c.Changed.Field.Name)
}

func testDeletedDocsLeaveViews(t *testing.T, factory Factory) {
	s, ctx := factory(t)
	rev, err := s.Put(ctx, change(t, "c1", "s1", "title", "a", 10))
	require.NoError(t, err)
	_, err = s.Put(ctx, &model.Document{ID: "c1", Rev: rev, Type: model.TypeChange, Deleted: true})
	require.NoError(t, err)

	rows, err := s.Query(ctx, view.ChangesByChanged, view.Query{
		StartKey: view.Key{"s1"},
		EndKey:   view.Key{"s1", view.High},
	})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
