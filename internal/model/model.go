package model

import (
	"encoding/json"
	"fmt"
)

// Document types handled by the service.
const (
	TypeSituation    = "situation"
	TypeRelationship = "relationship"
	TypeChange       = "change"
	TypeAdjustment   = "adjustment"
	TypeAlias        = "alias"
	TypeCheckpoint   = "checkpoint"
)

// Field names that a Change may never target.
var ProtectedFields = []string{"id", "revision_token", "type", "revisable", "creation_date", "immutable"}

// IsProtected reports whether name is a protected document field.
func IsProtected(name string) bool {
	for _, p := range ProtectedFields {
		if p == name {
			return true
		}
	}
	return false
}

// Ref points at another document.
type Ref struct {
	ID   string `json:"id"             validate:"required"`
	Type string `json:"type,omitempty"`
}

// Header holds the fields every stored document carries.
type Header struct {
	ID           string `json:"id"                      validate:"required"`
	Type         string `json:"type"                    validate:"required"`
	Immutable    bool   `json:"immutable,omitempty"`
	Revisable    bool   `json:"revisable,omitempty"`
	CreationDate int64  `json:"creation_date,omitempty"`
}

// Document is the storage envelope. Rev is the optimistic revision token and is
// authoritative; Body never carries it.
type Document struct {
	ID      string          `json:"id"`
	Rev     string          `json:"revision_token,omitempty"`
	Type    string          `json:"type"`
	Deleted bool            `json:"deleted,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
}

// NewDocument marshals v into an envelope. v must carry a Header with ID and Type set.
func NewDocument(v any) (*Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	var h Header
	if err := json.Unmarshal(body, &h); err != nil {
		return nil, fmt.Errorf("decode document header: %w", err)
	}
	if h.ID == "" || h.Type == "" {
		return nil, fmt.Errorf("document requires id and type")
	}
	return &Document{ID: h.ID, Type: h.Type, Body: body}, nil
}

// Tombstone returns a deletion marker for d at its current revision.
func (d *Document) Tombstone() *Document {
	return &Document{ID: d.ID, Rev: d.Rev, Type: d.Type, Deleted: true}
}

// Decode unmarshals the body into v.
func (d *Document) Decode(v any) error {
	if len(d.Body) == 0 {
		return fmt.Errorf("document %s has no body", d.ID)
	}
	return json.Unmarshal(d.Body, v)
}

// Header decodes the common header fields.
func (d *Document) Header() (Header, error) {
	var h Header
	err := d.Decode(&h)
	return h, err
}

// Fields decodes the body into a generic field map.
func (d *Document) Fields() (map[string]any, error) {
	fields := map[string]any{}
	if err := d.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.Body != nil {
		c.Body = append(json.RawMessage(nil), d.Body...)
	}
	return &c
}
