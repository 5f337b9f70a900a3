package entity

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/cartography/internal/model"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/security"
	"github.com/chirino/cartography/internal/view"
)

// Aliases resolves and assigns alias labels.
type Aliases struct {
	engine *Engine
}

// Aliases returns the alias resolver.
func (e *Engine) Aliases() *Aliases { return &Aliases{engine: e} }

// Identify returns the document that most recently took label. Superseded
// aliases keep resolving to their last owner.
func (a *Aliases) Identify(ctx context.Context, label string) (model.Ref, error) {
	cache := a.engine.opts.Cache
	if cache != nil && cache.Available() {
		ref, err := cache.Get(ctx, label)
		switch {
		case err != nil:
			security.CountAliasCacheLookup("error")
			log.Warn("Alias cache read failed", "label", label, "err", err)
		case ref != nil:
			security.CountAliasCacheLookup("hit")
			return *ref, nil
		default:
			security.CountAliasCacheLookup("miss")
		}
	}
	owner, err := a.identify(ctx, label)
	if err != nil {
		return owner, err
	}
	if cache != nil && cache.Available() {
		if err := cache.Set(ctx, label, owner, 0); err != nil {
			log.Warn("Alias cache write failed", "label", label, "err", err)
		}
	}
	return owner, nil
}

func (a *Aliases) identify(ctx context.Context, label string) (model.Ref, error) {
	rows, err := a.engine.store.Query(ctx, view.ChangesByAlias, view.Query{
		StartKey:   view.Key{label, view.High},
		EndKey:     view.Key{label},
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return model.Ref{}, err
	}
	if len(rows) == 0 {
		return model.Ref{}, &registrystore.NotFoundError{Resource: "alias", ID: label}
	}
	var owner model.Ref
	if err := rows[0].DecodeValue(&owner); err != nil {
		return model.Ref{}, err
	}
	return owner, nil
}

// Assign gives ref the alias label. A label owned by another document, or
// retired with a deleted one, is Taken.
func (a *Aliases) Assign(ctx context.Context, ref model.Ref, label string, opts ...ChangeOption) (*model.Change, error) {
	if label == "" {
		return nil, registrystore.Forbidden("An alias must be a non-empty string.")
	}

	owner, err := a.Identify(ctx, label)
	switch {
	case registrystore.IsNotFound(err):
		if err := a.reserve(ctx, ref, label); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case owner.ID != ref.ID:
		return nil, &registrystore.TakenError{Alias: label, Owner: owner.ID}
	}
	return a.engine.Revisable(ref).change(ctx, view.AliasField, label, opts...)
}

// reserve creates the Alias document whose id is the label. Losing the race
// to another writer means the label is taken.
func (a *Aliases) reserve(ctx context.Context, ref model.Ref, label string) error {
	_, err := a.engine.create(ctx, &model.Alias{
		Header: model.Header{
			ID:           label,
			Type:         model.TypeAlias,
			Immutable:    true,
			CreationDate: a.engine.now(),
		},
		Target: model.AliasTarget{Doc: model.Ref{ID: ref.ID, Type: ref.Type}},
	})
	if !registrystore.IsConflict(err) {
		return err
	}

	existing, getErr := a.engine.store.Get(ctx, label)
	if registrystore.IsNotFound(getErr) {
		return &registrystore.TakenError{Alias: label}
	}
	if getErr != nil {
		return getErr
	}
	var held model.Alias
	if err := existing.Decode(&held); err != nil {
		return err
	}
	if held.Target.Doc.ID != ref.ID {
		return &registrystore.TakenError{Alias: label, Owner: held.Target.Doc.ID}
	}
	return nil
}

// Lookup reads the current state of the document that owns label.
func (a *Aliases) Lookup(ctx context.Context, label string) (map[string]any, error) {
	owner, err := a.Identify(ctx, label)
	if err != nil {
		return nil, err
	}
	return a.engine.Revisable(owner).Read(ctx)
}

// forget drops cached owners of the given labels.
func (a *Aliases) forget(ctx context.Context, labels []string) {
	cache := a.engine.opts.Cache
	if cache == nil || !cache.Available() || len(labels) == 0 {
		return
	}
	if err := cache.Remove(ctx, labels...); err != nil {
		log.Warn("Alias cache invalidation failed", "labels", labels, "err", err)
	}
}
