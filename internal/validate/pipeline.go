// Package validate runs every document write through ordered gates: the
// immutability guard, structural checks, the Rego policy and, for new
// documents, referential probes against the store. The first failing gate
// rejects the write before anything is stored.
package validate

import (
	"context"

	"github.com/chirino/cartography/internal/model"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/go-playground/validator/v10"
)

// Pipeline validates documents before they are written.
type Pipeline struct {
	store     registrystore.DocumentStore
	validator *validator.Validate
	policy    *Policy
}

// New creates a Pipeline whose referential probes read from store.
func New(ctx context.Context, store registrystore.DocumentStore, policyDir string) (*Pipeline, error) {
	policy, err := NewPolicy(ctx, policyDir)
	if err != nil {
		return nil, err
	}
	return &Pipeline{store: store, validator: newValidator(), policy: policy}, nil
}

// Check validates doc. cur is the stored document being replaced, or nil
// when doc is new.
func (p *Pipeline) Check(ctx context.Context, doc, cur *model.Document) error {
	if err := Guard(doc, cur); err != nil {
		return err
	}
	if doc.Deleted {
		return nil
	}

	fields, err := doc.Fields()
	if err != nil {
		return registrystore.Forbidden("Malformed document: %v", err)
	}
	if err := p.structural(doc, fields); err != nil {
		return err
	}
	msgs, err := p.policy.Deny(ctx, fields)
	if err != nil {
		return err
	}
	if len(msgs) > 0 {
		return registrystore.Forbidden("%s", msgs[0])
	}
	if cur == nil {
		return p.referential(ctx, doc)
	}
	return nil
}

// Guard rejects any write to an existing immutable document other than its
// deletion.
func Guard(doc, cur *model.Document) error {
	if cur == nil || cur.Deleted || doc.Deleted {
		return nil
	}
	h, err := cur.Header()
	if err != nil {
		return err
	}
	if h.Immutable {
		return registrystore.Forbidden("Immutable docs cannot be updated.")
	}
	return nil
}
