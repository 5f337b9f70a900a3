package validate

import (
	"context"

	"github.com/chirino/cartography/internal/model"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/view"
	"golang.org/x/sync/errgroup"
)

// referential runs the existence probes a new document depends on.
func (p *Pipeline) referential(ctx context.Context, doc *model.Document) error {
	switch doc.Type {
	case model.TypeChange:
		var c model.Change
		if err := doc.Decode(&c); err != nil {
			return err
		}
		return p.expectType(ctx, c.Changed.Doc, "Changed doc doesn't exist.", "Changed doc is not a %s.")
	case model.TypeAdjustment:
		var a model.Adjustment
		if err := doc.Decode(&a); err != nil {
			return err
		}
		return p.expectType(ctx, a.Adjusted.Doc, "Adjusted doc doesn't exist.", "Adjusted doc is not a %s.")
	case model.TypeAlias:
		var a model.Alias
		if err := doc.Decode(&a); err != nil {
			return err
		}
		target, err := p.probe(ctx, a.Target.Doc.ID)
		if err != nil {
			return err
		}
		if target == nil {
			return registrystore.Forbidden("Aliased doc doesn't exist.")
		}
		if target.Type == model.TypeAlias {
			return registrystore.Forbidden("An alias cannot target another alias.")
		}
		return nil
	case model.TypeRelationship:
		var r model.Relationship
		if err := doc.Decode(&r); err != nil {
			return err
		}
		return p.relationship(ctx, &r)
	}
	return nil
}

func (p *Pipeline) relationship(ctx context.Context, r *model.Relationship) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		key := view.Key{r.Cause.ID, r.Effect.ID}
		rows, err := p.store.Query(gctx, view.RelationshipsByCauseAndEffect, view.Query{StartKey: key, EndKey: key, Limit: 1})
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			return registrystore.Forbidden("This relationship already exists.")
		}
		return nil
	})
	for relation, ref := range map[string]model.Ref{"cause": r.Cause, "effect": r.Effect} {
		g.Go(func() error {
			d, err := p.probe(gctx, ref.ID)
			if err != nil {
				return err
			}
			if d == nil || d.Type != model.TypeSituation {
				return registrystore.Forbidden("'%s' is not a situation.", relation)
			}
			return nil
		})
	}
	return g.Wait()
}

func (p *Pipeline) expectType(ctx context.Context, ref model.Ref, missing, mismatch string) error {
	d, err := p.probe(ctx, ref.ID)
	if err != nil {
		return err
	}
	if d == nil {
		return registrystore.Forbidden("%s", missing)
	}
	if ref.Type != "" && d.Type != ref.Type {
		return registrystore.Forbidden(mismatch, ref.Type)
	}
	return nil
}

// probe returns the live document or nil when it does not exist.
func (p *Pipeline) probe(ctx context.Context, id string) (*model.Document, error) {
	d, err := p.store.Get(ctx, id)
	if registrystore.IsNotFound(err) {
		return nil, nil
	}
	return d, err
}
