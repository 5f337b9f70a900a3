package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/cartography/internal/model"
)

// AliasCache remembers which document an alias label resolves to. A label
// keeps its owner until that owner is deleted, so entries only need to be
// dropped on deletion.
type AliasCache interface {
	Available() bool
	// Get returns the cached owner of label, or nil on a miss.
	Get(ctx context.Context, label string) (*model.Ref, error)
	Set(ctx context.Context, label string, owner model.Ref, ttl time.Duration) error
	Remove(ctx context.Context, labels ...string) error
}

// Loader creates a cache from config.
type Loader func(ctx context.Context) (AliasCache, error)

// Plugin represents a cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown cache %q; valid: %v", name, Names())
}
