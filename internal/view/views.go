package view

import (
	"github.com/chirino/cartography/internal/model"
)

// View names.
const (
	ChangesByChanged              = "changes_by_changed"
	ChangesByDoc                  = "changes_by_doc"
	ChangesByAlias                = "changes_by_alias"
	AliasesByTarget               = "aliases_by_target"
	AdjustmentsByAdjustedField    = "adjustments_by_adjusted_field"
	AdjustmentsByDoc              = "adjustments_by_doc"
	RelationshipsByCauseOrEffect  = "relationships_by_cause_or_effect"
	RelationshipsByCauseAndEffect = "relationships_by_cause_and_effect"
	ByType                        = "by_type"
)

// AliasField is the field whose changes assign aliases.
const AliasField = "alias"

func init() {
	// [doc_id, field, creation_date, change_id] -> {name, to}
	Register(&View{Name: ChangesByChanged, Reducer: Last, Map: mapChanges(func(c *model.Change) []Emit {
		return []Emit{{
			Key:   Key{c.Changed.Doc.ID, c.Changed.Field.Name, c.CreationDate, c.ID},
			Value: c.Changed.Field,
		}}
	})})

	// [doc_id, creation_date, change_id] -> field name
	Register(&View{Name: ChangesByDoc, Reducer: Count, Map: mapChanges(func(c *model.Change) []Emit {
		return []Emit{{
			Key:   Key{c.Changed.Doc.ID, c.CreationDate, c.ID},
			Value: c.Changed.Field.Name,
		}}
	})})

	// [label, creation_date, change_id] -> owning doc
	Register(&View{Name: ChangesByAlias, Reducer: Last, Map: mapChanges(func(c *model.Change) []Emit {
		label, ok := c.Changed.Field.To.(string)
		if c.Changed.Field.Name != AliasField || !ok || label == "" {
			return nil
		}
		return []Emit{{
			Key:   Key{label, c.CreationDate, c.ID},
			Value: c.Changed.Doc,
		}}
	})})

	Register(&View{Name: AliasesByTarget, Reducer: Count, Map: func(doc *model.Document) ([]Emit, error) {
		if doc.Type != model.TypeAlias {
			return nil, nil
		}
		var a model.Alias
		if err := doc.Decode(&a); err != nil {
			return nil, err
		}
		return []Emit{{Key: Key{a.Target.Doc.ID, a.ID}}}, nil
	}})

	// [doc_id, field, creation_date, adjustment_id] -> by
	Register(&View{Name: AdjustmentsByAdjustedField, Reducer: Sum, Map: mapAdjustments(func(a *model.Adjustment) []Emit {
		return []Emit{{
			Key:   Key{a.Adjusted.Doc.ID, a.Adjusted.Field.Name, a.CreationDate, a.ID},
			Value: a.Adjusted.Field.By,
		}}
	})})

	Register(&View{Name: AdjustmentsByDoc, Reducer: Count, Map: mapAdjustments(func(a *model.Adjustment) []Emit {
		return []Emit{{Key: Key{a.Adjusted.Doc.ID, a.CreationDate, a.ID}}}
	})})

	Register(&View{Name: RelationshipsByCauseOrEffect, Reducer: Count, Map: mapRelationships(func(r *model.Relationship) []Emit {
		return []Emit{
			{Key: Key{r.Cause.ID, "cause"}, Value: r.Effect},
			{Key: Key{r.Effect.ID, "effect"}, Value: r.Cause},
		}
	})})

	Register(&View{Name: RelationshipsByCauseAndEffect, Reducer: Count, Map: mapRelationships(func(r *model.Relationship) []Emit {
		return []Emit{{Key: Key{r.Cause.ID, r.Effect.ID}}}
	})})

	// [type, creation_date, id]
	Register(&View{Name: ByType, Reducer: Count, Map: func(doc *model.Document) ([]Emit, error) {
		h, err := doc.Header()
		if err != nil {
			return nil, err
		}
		return []Emit{{Key: Key{h.Type, h.CreationDate, h.ID}}}, nil
	}})
}

func mapChanges(fn func(c *model.Change) []Emit) MapFunc {
	return func(doc *model.Document) ([]Emit, error) {
		if doc.Type != model.TypeChange {
			return nil, nil
		}
		var c model.Change
		if err := doc.Decode(&c); err != nil {
			return nil, err
		}
		return fn(&c), nil
	}
}

func mapAdjustments(fn func(a *model.Adjustment) []Emit) MapFunc {
	return func(doc *model.Document) ([]Emit, error) {
		if doc.Type != model.TypeAdjustment {
			return nil, nil
		}
		var a model.Adjustment
		if err := doc.Decode(&a); err != nil {
			return nil, err
		}
		return fn(&a), nil
	}
}

func mapRelationships(fn func(r *model.Relationship) []Emit) MapFunc {
	return func(doc *model.Document) ([]Emit, error) {
		if doc.Type != model.TypeRelationship {
			return nil, nil
		}
		var r model.Relationship
		if err := doc.Decode(&r); err != nil {
			return nil, err
		}
		return fn(&r), nil
	}
}
