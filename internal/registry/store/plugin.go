package store

import (
	"context"
	"fmt"

	"github.com/chirino/cartography/internal/model"
	"github.com/chirino/cartography/internal/view"
)

// BulkResult is the per-document outcome of a bulk write.
type BulkResult struct {
	ID  string
	Rev string
	Err error
}

// DocumentStore is the storage contract consumed by the engine.
//
// Put creates the document when doc.Rev is empty; an existing id, live or
// deleted, is a Conflict. With a revision it replaces (or, when doc.Deleted is
// set, deletes) the document if the revision still matches. Deleted ids are
// never resurrected.
type DocumentStore interface {
	Get(ctx context.Context, id string) (*model.Document, error)
	Exists(ctx context.Context, id string) (bool, error)
	Put(ctx context.Context, doc *model.Document) (string, error)
	// BulkWrite applies docs with Put semantics. Transactional stores apply
	// all or nothing and return the first failure as the error.
	BulkWrite(ctx context.Context, docs []*model.Document) ([]BulkResult, error)
	Query(ctx context.Context, viewName string, q view.Query) ([]view.Row, error)
	Close() error
}

// Loader creates a DocumentStore from config.
type Loader func(ctx context.Context) (DocumentStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}

// FirstError returns the first per-document failure of a bulk write.
func FirstError(results []BulkResult) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
