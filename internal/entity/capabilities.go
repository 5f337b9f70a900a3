package entity

import (
	"context"

	"github.com/chirino/cartography/internal/model"
)

// Creatable entities store their base document once.
type Creatable interface {
	Ref() model.Ref
	Create(ctx context.Context) error
}

// FieldReconstructible entities rebuild their state from Change records.
type FieldReconstructible interface {
	ReadField(ctx context.Context, field string) (any, bool, error)
	ReadFields(ctx context.Context, fields ...string) (map[string]any, error)
	Read(ctx context.Context) (map[string]any, error)
	Change(ctx context.Context, field string, to any, opts ...ChangeOption) (*model.Change, error)
}

// Aliasable entities can be found by a human readable label.
type Aliasable interface {
	Alias(ctx context.Context, label string, opts ...ChangeOption) (*model.Change, error)
}

// CascadeDeletable entities remove their dependent records with themselves.
type CascadeDeletable interface {
	Delete(ctx context.Context) error
}

// Summarizer entities produce the document kept in the search index.
type Summarizer interface {
	Summarize(ctx context.Context) (map[string]any, error)
}

var (
	_ Creatable            = (*Situation)(nil)
	_ FieldReconstructible = (*Situation)(nil)
	_ Aliasable            = (*Situation)(nil)
	_ CascadeDeletable     = (*Situation)(nil)
	_ Summarizer           = (*Situation)(nil)

	_ Creatable            = (*Relationship)(nil)
	_ FieldReconstructible = (*Relationship)(nil)
	_ CascadeDeletable     = (*Relationship)(nil)
	_ Summarizer           = (*Relationship)(nil)
)
