package entity

import (
	"context"

	"github.com/chirino/cartography/internal/model"
	"github.com/chirino/cartography/internal/view"
)

// Adjust appends a signed delta to a numeric field of ref. The running total
// is not checked.
func (e *Engine) Adjust(ctx context.Context, ref model.Ref, field string, by float64) (*model.Adjustment, error) {
	a := &model.Adjustment{
		Header: model.Header{
			ID:           e.newID(),
			Type:         model.TypeAdjustment,
			Immutable:    true,
			CreationDate: e.now(),
		},
		Adjusted: model.AdjustmentTarget{Doc: ref, Field: model.FieldDelta{Name: field, By: by}},
	}
	if _, err := e.create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// CurrentValue sums every Adjustment of the field. A field never adjusted is zero.
func (e *Engine) CurrentValue(ctx context.Context, id, field string) (float64, error) {
	rows, err := e.store.Query(ctx, view.AdjustmentsByAdjustedField, view.Query{
		StartKey: view.Key{id, field},
		EndKey:   view.Key{id, field, view.High},
		Reduce:   true,
	})
	if err != nil || len(rows) == 0 {
		return 0, err
	}
	var total float64
	if err := rows[0].DecodeValue(&total); err != nil {
		return 0, err
	}
	return total, nil
}
