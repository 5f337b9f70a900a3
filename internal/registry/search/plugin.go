package search

import (
	"context"
	"fmt"
)

// Hit is one search result.
type Hit struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Score   float64        `json:"score"`
	Summary map[string]any `json:"summary,omitempty"`
}

// Index is the full-text search index kept in sync with the document store.
// Documents are addressed by (collection, type, id).
type Index interface {
	// Index creates or replaces the summary stored for id.
	Index(ctx context.Context, collection, docType, id string, summary map[string]any) error
	// Delete removes id. Deleting an absent id is not an error.
	Delete(ctx context.Context, collection, docType, id string) error
	Search(ctx context.Context, collection, docType, query string, limit int) ([]Hit, error)
	Close() error
}

// Loader creates an Index from config.
type Loader func(ctx context.Context) (Index, error)

// Plugin represents a search index plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a search plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered search plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named search plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown search index %q; valid: %v", name, Names())
}

// Content joins the string values of a summary for full-text matching.
func Content(summary map[string]any) string {
	var out []byte
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if len(out) > 0 {
				out = append(out, ' ')
			}
			out = append(out, t...)
		case []any:
			for _, e := range t {
				walk(e)
			}
		case []string:
			for _, e := range t {
				walk(e)
			}
		case map[string]any:
			for _, k := range sortedKeys(t) {
				walk(t[k])
			}
		}
	}
	walk(summary)
	return string(out)
}
