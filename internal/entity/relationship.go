package entity

import (
	"context"
	"fmt"
	"strings"

	"github.com/chirino/cartography/internal/model"
	"golang.org/x/sync/errgroup"
)

const strengthField = "strength"

// summaryFields are the endpoint fields embedded in a relationship summary.
var summaryFields = []string{"title", "location", "period", "alias"}

// Relationship is a revisable causal link from one situation to another.
type Relationship struct {
	*Revisable
	cause, effect string
}

// Relationship returns a handle on the relationship id.
func (e *Engine) Relationship(id string) *Relationship {
	return &Relationship{Revisable: e.Revisable(model.Ref{ID: id, Type: model.TypeRelationship})}
}

// NewRelationship returns a handle with a fresh id linking cause to effect.
// Call Create to store it.
func (e *Engine) NewRelationship(cause, effect string) *Relationship {
	r := e.Relationship(e.newID())
	r.cause, r.effect = cause, effect
	return r
}

// Create stores the base document. Both endpoints must be situations and
// no other relationship may link the same pair.
func (r *Relationship) Create(ctx context.Context) error {
	return r.createBase(ctx, &model.Relationship{
		Header: r.header(),
		Cause:  model.Ref{ID: r.cause, Type: model.TypeSituation},
		Effect: model.Ref{ID: r.effect, Type: model.TypeSituation},
	})
}

func (r *Relationship) Description(ctx context.Context, description string) (*model.Change, error) {
	return r.Change(ctx, "description", description, WithSummary("Changed description"))
}

func (r *Relationship) Mark(ctx context.Context, mark string) (*model.Change, error) {
	return r.Set(ctx, "marked", mark, r.engine.now(),
		WithSummary(fmt.Sprintf("Marked '%s'", strings.ReplaceAll(mark, "_", " "))))
}

func (r *Relationship) Unmark(ctx context.Context, mark string) (*model.Change, error) {
	return r.Unset(ctx, "marked", mark,
		WithSummary(fmt.Sprintf("Removed mark '%s'", strings.ReplaceAll(mark, "_", " "))))
}

func (r *Relationship) Strengthen(ctx context.Context) (*model.Adjustment, error) {
	return r.engine.Adjust(ctx, r.ref, strengthField, 1)
}

func (r *Relationship) Weaken(ctx context.Context) (*model.Adjustment, error) {
	return r.engine.Adjust(ctx, r.ref, strengthField, -1)
}

// Strength is the sum of all strengthen and weaken adjustments.
func (r *Relationship) Strength(ctx context.Context) (float64, error) {
	return r.engine.CurrentValue(ctx, r.ref.ID, strengthField)
}

// State reads the relationship into its typed form.
func (r *Relationship) State(ctx context.Context) (*model.Relationship, error) {
	fields, err := r.Read(ctx)
	if err != nil {
		return nil, err
	}
	var out model.Relationship
	if err := decodeState(fields, &out); err != nil {
		return nil, fmt.Errorf("relationship %s: %w", r.ref.ID, err)
	}
	return &out, nil
}

// Summarize returns the relationship with its strength and the headline
// fields of both endpoints.
func (r *Relationship) Summarize(ctx context.Context) (map[string]any, error) {
	fields, err := r.Read(ctx)
	if err != nil {
		return nil, err
	}
	delete(fields, "revision_token")
	var rel model.Relationship
	if err := decodeState(fields, &rel); err != nil {
		return nil, fmt.Errorf("relationship %s: %w", r.ref.ID, err)
	}

	var strength float64
	var cause, effect map[string]any
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		strength, err = r.Strength(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		cause, err = r.engine.Revisable(rel.Cause).ReadFields(gctx, summaryFields...)
		return err
	})
	g.Go(func() error {
		var err error
		effect, err = r.engine.Revisable(rel.Effect).ReadFields(gctx, summaryFields...)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cause["id"], cause["type"] = rel.Cause.ID, rel.Cause.Type
	effect["id"], effect["type"] = rel.Effect.ID, rel.Effect.Type
	fields["cause"] = cause
	fields["effect"] = effect
	fields[strengthField] = strength
	return fields, nil
}
