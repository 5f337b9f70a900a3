package model

// FieldChange is the field half of a Change record.
type FieldChange struct {
	Name string `json:"name" validate:"required"`
	To   any    `json:"to"`
}

// ChangeTarget names the document and field a Change applies to.
type ChangeTarget struct {
	Doc   Ref         `json:"doc"   validate:"required"`
	Field FieldChange `json:"field" validate:"required"`
}

// Change is one immutable field mutation.
type Change struct {
	Header
	Changed ChangeTarget `json:"changed" validate:"required"`
	Summary string       `json:"summary,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}

// FieldDelta is the field half of an Adjustment record.
type FieldDelta struct {
	Name string  `json:"name" validate:"required"`
	By   float64 `json:"by"`
}

// AdjustmentTarget names the document and field an Adjustment applies to.
type AdjustmentTarget struct {
	Doc   Ref        `json:"doc"   validate:"required"`
	Field FieldDelta `json:"field" validate:"required"`
}

// Adjustment is an immutable signed delta on a numeric field.
type Adjustment struct {
	Header
	Adjusted AdjustmentTarget `json:"adjusted" validate:"required"`
}

// AliasTarget names the aliased document.
type AliasTarget struct {
	Doc Ref `json:"doc" validate:"required"`
}

// Alias binds a label (its ID) to a target document.
type Alias struct {
	Header
	Target AliasTarget `json:"target" validate:"required"`
}

// Situation is the reconstructed state of a situation.
type Situation struct {
	Header
	Rev         string           `json:"revision_token,omitempty"`
	Title       string           `json:"title,omitempty"`
	Description string           `json:"description,omitempty"`
	Location    string           `json:"location,omitempty"`
	Period      any              `json:"period,omitempty"`
	Alias       string           `json:"alias,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Marked      map[string]int64 `json:"marked,omitempty"`
}

// Relationship is the reconstructed state of a relationship.
type Relationship struct {
	Header
	Rev         string           `json:"revision_token,omitempty"`
	Cause       Ref              `json:"cause"                 validate:"required"`
	Effect      Ref              `json:"effect"                validate:"required"`
	Description string           `json:"description,omitempty"`
	Marked      map[string]int64 `json:"marked,omitempty"`
}

// Checkpoint records how far the search index sync has progressed.
// It is the only mutable document type.
type Checkpoint struct {
	Header
	Position  int64 `json:"position"`
	Indexed   int64 `json:"indexed"`
	Failed    int64 `json:"failed"`
	UpdatedAt int64 `json:"updated_at"`
}
