package entity

import (
	"context"
	"fmt"

	"github.com/chirino/cartography/internal/model"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/view"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/sync/errgroup"
)

// Situation is a revisable description of something that happened.
type Situation struct {
	*Revisable
}

// Situation returns a handle on the situation id.
func (e *Engine) Situation(id string) *Situation {
	return &Situation{Revisable: e.Revisable(model.Ref{ID: id, Type: model.TypeSituation})}
}

// NewSituation returns a handle with a fresh id. Call Create to store it.
func (e *Engine) NewSituation() *Situation {
	return e.Situation(e.newID())
}

// Create stores the base document.
func (s *Situation) Create(ctx context.Context) error {
	return s.createBase(ctx, &model.Situation{Header: s.header()})
}

func (s *Situation) Title(ctx context.Context, title string, opts ...ChangeOption) (*model.Change, error) {
	return s.Change(ctx, "title", title, opts...)
}

func (s *Situation) Description(ctx context.Context, description string, opts ...ChangeOption) (*model.Change, error) {
	return s.Change(ctx, "description", description, opts...)
}

func (s *Situation) Location(ctx context.Context, location string, opts ...ChangeOption) (*model.Change, error) {
	return s.Change(ctx, "location", location, opts...)
}

// Period accepts any JSON value, for example {"start": ..., "end": ...}.
func (s *Situation) Period(ctx context.Context, period any, opts ...ChangeOption) (*model.Change, error) {
	return s.Change(ctx, "period", period, opts...)
}

// Alias assigns label to the situation.
func (s *Situation) Alias(ctx context.Context, label string, opts ...ChangeOption) (*model.Change, error) {
	return s.engine.Aliases().Assign(ctx, s.ref, label, opts...)
}

func (s *Situation) Tag(ctx context.Context, tag string) (*model.Change, error) {
	return s.Add(ctx, "tags", tag)
}

func (s *Situation) Untag(ctx context.Context, tag string) (*model.Change, error) {
	return s.Remove(ctx, "tags", tag)
}

// Mark records when the marker was set.
func (s *Situation) Mark(ctx context.Context, mark string) (*model.Change, error) {
	return s.Set(ctx, "marked", mark, s.engine.now())
}

func (s *Situation) Unmark(ctx context.Context, mark string) (*model.Change, error) {
	return s.Unset(ctx, "marked", mark)
}

// State reads the situation into its typed form.
func (s *Situation) State(ctx context.Context) (*model.Situation, error) {
	fields, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}
	var out model.Situation
	if err := decodeState(fields, &out); err != nil {
		return nil, fmt.Errorf("situation %s: %w", s.ref.ID, err)
	}
	return &out, nil
}

// Summarize returns the document the search index stores for the situation.
func (s *Situation) Summarize(ctx context.Context) (map[string]any, error) {
	fields, err := s.Read(ctx)
	if err != nil {
		return nil, err
	}
	delete(fields, "revision_token")
	return fields, nil
}

// Link is a relationship attached to a situation.
type Link struct {
	// Relationship is the relationship id.
	Relationship string `json:"relationship"`
	// Role is "cause" or "effect": the part the situation plays.
	Role  string    `json:"role"`
	Other model.Ref `json:"other"`
}

// Relationships lists the relationships in which the situation is a cause
// or an effect.
func (s *Situation) Relationships(ctx context.Context) ([]Link, error) {
	rows, err := s.engine.store.Query(ctx, view.RelationshipsByCauseOrEffect, view.Query{
		StartKey: view.Key{s.ref.ID},
		EndKey:   view.Key{s.ref.ID, view.High},
	})
	if err != nil {
		return nil, err
	}
	links := make([]Link, 0, len(rows))
	for _, row := range rows {
		l := Link{Relationship: row.ID}
		if len(row.Key) > 1 {
			l.Role, _ = row.Key[1].(string)
		}
		if err := row.DecodeValue(&l.Other); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, nil
}

// Delete removes every relationship of the situation concurrently, then the
// situation itself. If a relationship cannot be deleted the situation is
// kept, but relationships already removed stay removed.
func (s *Situation) Delete(ctx context.Context) error {
	if _, err := s.base(ctx); err != nil {
		return err
	}
	links, err := s.Relationships(ctx)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range links {
		if seen[l.Relationship] {
			continue
		}
		seen[l.Relationship] = true
		g.Go(func() error {
			err := s.engine.Relationship(l.Relationship).Delete(gctx)
			if registrystore.IsNotFound(err) {
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("delete relationships of %s: %w", s.ref.ID, err)
	}
	return s.Revisable.Delete(ctx)
}

func decodeState(fields map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Squash:           true,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(fields)
}
