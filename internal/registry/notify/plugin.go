package notify

import (
	"context"
	"fmt"

	"github.com/chirino/cartography/internal/model"
)

// Kind is the lifecycle signal carried by an Event.
type Kind string

const (
	Created Kind = "created"
	Changed Kind = "changed"
	Deleted Kind = "deleted"
)

// Event is emitted after a successful store write. Delivery is best effort:
// a failed or dropped event never fails the write that produced it.
type Event struct {
	Kind Kind      `json:"kind"`
	Doc  model.Ref `json:"doc"`
	// Field is set on Changed events.
	Field *model.FieldChange `json:"field,omitempty"`
	// ResultID names the Change or Adjustment record the write produced.
	ResultID string `json:"result_id,omitempty"`
	At       int64  `json:"at"`
}

// Notifier carries lifecycle events from the engine to asynchronous consumers.
type Notifier interface {
	// Publish never blocks on consumers.
	Publish(ctx context.Context, e Event)
	// Subscribe returns a channel that receives events until ctx is done.
	Subscribe(ctx context.Context) (<-chan Event, error)
	Close() error
}

// Discard is a Notifier that drops every event.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Publish(context.Context, Event) {}
func (discard) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}
func (discard) Close() error { return nil }

// Loader creates a Notifier from config.
type Loader func(ctx context.Context) (Notifier, error)

// Plugin represents a notifier plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a notifier plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered notifier plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named notifier plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown notifier %q; valid: %v", name, Names())
}
