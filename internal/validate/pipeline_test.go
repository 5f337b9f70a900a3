package validate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/chirino/cartography/internal/model"
	"github.com/chirino/cartography/internal/plugin/store/memory"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Pipeline, registrystore.DocumentStore) {
	t.Helper()
	store, err := memory.New()
	require.NoError(t, err)
	p, err := New(context.Background(), store, "")
	require.NoError(t, err)
	return p, store
}

func situationDoc(t *testing.T, id string) *model.Document {
	t.Helper()
	doc, err := model.NewDocument(model.Situation{Header: model.Header{
		ID: id, Type: model.TypeSituation, Immutable: true, Revisable: true, CreationDate: 1,
	}})
	require.NoError(t, err)
	return doc
}

func changeDoc(t *testing.T, target model.Ref, field string, to any) *model.Document {
	t.Helper()
	doc, err := model.NewDocument(model.Change{
		Header:  model.Header{ID: "c-" + field, Type: model.TypeChange, Immutable: true, CreationDate: 2},
		Changed: model.ChangeTarget{Doc: target, Field: model.FieldChange{Name: field, To: to}},
	})
	require.NoError(t, err)
	return doc
}

func relationshipDoc(t *testing.T, id, cause, effect string) *model.Document {
	t.Helper()
	doc, err := model.NewDocument(model.Relationship{
		Header: model.Header{ID: id, Type: model.TypeRelationship, Immutable: true, Revisable: true, CreationDate: 3},
		Cause:  model.Ref{ID: cause, Type: model.TypeSituation},
		Effect: model.Ref{ID: effect, Type: model.TypeSituation},
	})
	require.NoError(t, err)
	return doc
}

func put(t *testing.T, store registrystore.DocumentStore, doc *model.Document) *model.Document {
	t.Helper()
	rev, err := store.Put(context.Background(), doc)
	require.NoError(t, err)
	stored := doc.Clone()
	stored.Rev = rev
	return stored
}

func requireForbidden(t *testing.T, err error, reason string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, registrystore.KindForbidden, registrystore.KindOf(err), err.Error())
	if reason != "" {
		require.EqualError(t, err, reason)
	}
}

func TestCheckAcceptsValidChange(t *testing.T) {
	p, store := setup(t)
	put(t, store, situationDoc(t, "s1"))

	err := p.Check(context.Background(), changeDoc(t, model.Ref{ID: "s1", Type: model.TypeSituation}, "title", "Grève"), nil)
	require.NoError(t, err)
}

func TestCheckRejectsChangeToMissingDoc(t *testing.T) {
	p, _ := setup(t)
	err := p.Check(context.Background(), changeDoc(t, model.Ref{ID: "nope", Type: model.TypeSituation}, "title", "x"), nil)
	requireForbidden(t, err, "Changed doc doesn't exist.")
}

func TestCheckRejectsChangeWithWrongTargetType(t *testing.T) {
	p, store := setup(t)
	put(t, store, situationDoc(t, "s1"))
	err := p.Check(context.Background(), changeDoc(t, model.Ref{ID: "s1", Type: model.TypeRelationship}, "description", "x"), nil)
	requireForbidden(t, err, "Changed doc is not a relationship.")
}

func TestCheckRejectsProtectedField(t *testing.T) {
	p, store := setup(t)
	put(t, store, situationDoc(t, "s1"))
	err := p.Check(context.Background(), changeDoc(t, model.Ref{ID: "s1", Type: model.TypeSituation}, "type", "relationship"), nil)
	requireForbidden(t, err, "Changes to a document's 'type' are not allowed.")
}

func TestCheckRejectsLongLocation(t *testing.T) {
	p, store := setup(t)
	put(t, store, situationDoc(t, "s1"))
	long := make([]byte, 65)
	for i := range long {
		long[i] = 'x'
	}
	err := p.Check(context.Background(), changeDoc(t, model.Ref{ID: "s1", Type: model.TypeSituation}, "location", string(long)), nil)
	requireForbidden(t, err, "A situation's location may be no more than 64 characters long.")
}

func TestCheckFlagConsistency(t *testing.T) {
	p, _ := setup(t)
	ctx := context.Background()

	doc := &model.Document{ID: "s1", Type: model.TypeSituation, Body: json.RawMessage(
		`{"id":"s1","type":"situation","immutable":false,"revisable":true,"creation_date":1}`)}
	requireForbidden(t, p.Check(ctx, doc, nil), "'immutable' may only be set to 'true'.")

	doc = &model.Document{ID: "s1", Type: model.TypeSituation, Body: json.RawMessage(
		`{"id":"s1","type":"situation","immutable":true,"revisable":true}`)}
	requireForbidden(t, p.Check(ctx, doc, nil), "Revisables must have a 'creation_date'.")

	doc = &model.Document{ID: "c1", Type: model.TypeChange, Body: json.RawMessage(
		`{"id":"c1","type":"change","creation_date":1,"changed":{"doc":{"id":"s1","type":"situation"},"field":{"name":"title","to":"x"}}}`)}
	requireForbidden(t, p.Check(ctx, doc, nil), "A change must be immutable.")
}

func TestCheckRequiredFields(t *testing.T) {
	p, _ := setup(t)
	doc := &model.Document{ID: "c1", Type: model.TypeChange, Body: json.RawMessage(
		`{"id":"c1","type":"change","immutable":true,"creation_date":1,"changed":{"doc":{"type":"situation"},"field":{"name":"title","to":"x"}}}`)}
	requireForbidden(t, p.Check(context.Background(), doc, nil), "'changed.doc.id' is required.")
}

func TestGuardBlocksImmutableUpdates(t *testing.T) {
	p, store := setup(t)
	cur := put(t, store, situationDoc(t, "s1"))

	next := situationDoc(t, "s1")
	next.Rev = cur.Rev
	requireForbidden(t, p.Check(context.Background(), next, cur), "Immutable docs cannot be updated.")

	require.NoError(t, p.Check(context.Background(), cur.Tombstone(), cur))
}

func TestCheckRelationshipProbes(t *testing.T) {
	p, store := setup(t)
	ctx := context.Background()
	put(t, store, situationDoc(t, "s1"))
	put(t, store, situationDoc(t, "s2"))

	require.NoError(t, p.Check(ctx, relationshipDoc(t, "r1", "s1", "s2"), nil))

	requireForbidden(t, p.Check(ctx, relationshipDoc(t, "r1", "s1", "missing"), nil), "'effect' is not a situation.")

	put(t, store, relationshipDoc(t, "r1", "s1", "s2"))
	requireForbidden(t, p.Check(ctx, relationshipDoc(t, "r2", "s1", "s2"), nil), "This relationship already exists.")

	requireForbidden(t, p.Check(ctx, relationshipDoc(t, "r3", "r1", "s2"), nil), "'cause' is not a situation.")
}

func TestCheckAliasProbes(t *testing.T) {
	p, store := setup(t)
	ctx := context.Background()
	put(t, store, situationDoc(t, "s1"))

	alias := func(label, target string) *model.Document {
		doc, err := model.NewDocument(model.Alias{
			Header: model.Header{ID: label, Type: model.TypeAlias, Immutable: true, CreationDate: 4},
			Target: model.AliasTarget{Doc: model.Ref{ID: target}},
		})
		require.NoError(t, err)
		return doc
	}

	require.NoError(t, p.Check(ctx, alias("strike", "s1"), nil))
	requireForbidden(t, p.Check(ctx, alias("strike", "missing"), nil), "Aliased doc doesn't exist.")

	put(t, store, alias("strike", "s1"))
	requireForbidden(t, p.Check(ctx, alias("other", "strike"), nil), "An alias cannot target another alias.")
}
