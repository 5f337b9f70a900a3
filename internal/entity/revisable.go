package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/chirino/cartography/internal/model"
	registrynotify "github.com/chirino/cartography/internal/registry/notify"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/security"
	"github.com/chirino/cartography/internal/view"
	"golang.org/x/sync/errgroup"
)

// ChangeOption decorates the Change record a write appends.
type ChangeOption func(*model.Change)

// WithSummary attaches a human readable summary to the Change.
func WithSummary(s string) ChangeOption {
	return func(c *model.Change) { c.Summary = s }
}

// WithReason records why the change was made.
func WithReason(s string) ChangeOption {
	return func(c *model.Change) { c.Reason = s }
}

// At overrides the creation date of the Change.
func At(t time.Time) ChangeOption {
	return func(c *model.Change) { c.CreationDate = t.UnixMilli() }
}

// Revisable is a handle on a revisable document. Holding a handle does not
// imply the document exists.
type Revisable struct {
	engine *Engine
	ref    model.Ref
}

// Revisable returns a handle on the revisable document ref.
func (e *Engine) Revisable(ref model.Ref) *Revisable {
	return &Revisable{engine: e, ref: ref}
}

func (r *Revisable) ID() string     { return r.ref.ID }
func (r *Revisable) Ref() model.Ref { return r.ref }

// Exists reports whether the base document is stored.
func (r *Revisable) Exists(ctx context.Context) (bool, error) {
	return r.engine.store.Exists(ctx, r.ref.ID)
}

// createBase stores the base document of a new revisable entity.
func (r *Revisable) createBase(ctx context.Context, v any) error {
	_, err := r.engine.create(ctx, v)
	return err
}

// base loads the stored base document. A document of another type, or one
// that is not revisable, is reported as not found.
func (r *Revisable) base(ctx context.Context) (*model.Document, error) {
	doc, err := r.engine.store.Get(ctx, r.ref.ID)
	if err != nil {
		return nil, err
	}
	resource := r.ref.Type
	if resource == "" {
		resource = "revisable document"
	}
	if r.ref.Type != "" && doc.Type != r.ref.Type {
		return nil, &registrystore.NotFoundError{Resource: resource, ID: r.ref.ID}
	}
	h, err := doc.Header()
	if err != nil {
		return nil, err
	}
	if !h.Revisable {
		return nil, &registrystore.NotFoundError{Resource: resource, ID: r.ref.ID}
	}
	return doc, nil
}

func (r *Revisable) header() model.Header {
	return model.Header{
		ID:           r.ref.ID,
		Type:         r.ref.Type,
		Immutable:    true,
		Revisable:    true,
		CreationDate: r.engine.now(),
	}
}

// Change appends a Change setting field to to. It fails with AlreadyIs when
// the field already holds an equal value.
func (r *Revisable) Change(ctx context.Context, field string, to any, opts ...ChangeOption) (*model.Change, error) {
	if err := r.changeable(field); err != nil {
		return nil, err
	}
	if field == view.AliasField {
		label, ok := to.(string)
		if !ok {
			return nil, registrystore.Forbidden("An alias must be a non-empty string.")
		}
		return r.engine.Aliases().Assign(ctx, r.ref, label, opts...)
	}
	return r.change(ctx, field, to, opts...)
}

func (r *Revisable) changeable(field string) error {
	if model.IsProtected(field) {
		return registrystore.Forbidden("Changes to a document's '%s' are not allowed.", field)
	}
	if r.ref.Type == model.TypeRelationship && (field == "cause" || field == "effect") {
		return registrystore.Forbidden("A relationship's '%s' cannot be changed.", field)
	}
	return nil
}

// change is the write path shared by Change and alias assignment.
func (r *Revisable) change(ctx context.Context, field string, to any, opts ...ChangeOption) (*model.Change, error) {
	if err := r.changeable(field); err != nil {
		return nil, err
	}
	value, err := normalize(to)
	if err != nil {
		return nil, &registrystore.ValidationError{Field: field, Message: err.Error()}
	}

	mu := r.engine.stripe(r.ref.ID, field)
	mu.Lock()
	defer mu.Unlock()

	cur, _, err := r.ReadField(ctx, field)
	if err != nil {
		return nil, err
	}
	if reflect.DeepEqual(cur, value) {
		return nil, &registrystore.AlreadyIsError{Field: field, Value: value}
	}

	c := &model.Change{
		Header: model.Header{
			ID:           r.engine.newID(),
			Type:         model.TypeChange,
			Immutable:    true,
			CreationDate: r.engine.now(),
		},
		Changed: model.ChangeTarget{Doc: r.ref, Field: model.FieldChange{Name: field, To: value}},
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, err := r.engine.create(ctx, c); err != nil {
		return nil, err
	}
	security.CountChange(r.ref.Type, field)
	r.engine.publish(ctx, registrynotify.Event{
		Kind:     registrynotify.Changed,
		Doc:      r.ref,
		Field:    &c.Changed.Field,
		ResultID: c.ID,
	})
	return c, nil
}

// normalize gives v the shape it has once read back from the store.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadField returns the latest value of field. ok is false when the field
// was never changed.
func (r *Revisable) ReadField(ctx context.Context, field string) (value any, ok bool, err error) {
	rows, err := r.engine.store.Query(ctx, view.ChangesByChanged, view.Query{
		StartKey:   view.Key{r.ref.ID, field, view.High},
		EndKey:     view.Key{r.ref.ID, field},
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	var fc model.FieldChange
	if err := rows[0].DecodeValue(&fc); err != nil {
		return nil, false, fmt.Errorf("read %s.%s: %w", r.ref.ID, field, err)
	}
	return fc.To, true, nil
}

// ReadFields reads several fields concurrently. Fields never changed are
// left out of the result.
func (r *Revisable) ReadFields(ctx context.Context, fields ...string) (map[string]any, error) {
	var mu sync.Mutex
	out := make(map[string]any, len(fields))
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range fields {
		g.Go(func() error {
			v, ok, err := r.ReadField(gctx, f)
			if err != nil || !ok {
				return err
			}
			mu.Lock()
			out[f] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Read reconstructs the current state: the base document with the latest
// value of every changed field merged in.
func (r *Revisable) Read(ctx context.Context) (map[string]any, error) {
	var base *model.Document
	var latest []view.Row
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		base, err = r.engine.store.Get(gctx, r.ref.ID)
		return err
	})
	g.Go(func() error {
		var err error
		latest, err = r.engine.store.Query(gctx, view.ChangesByChanged, view.Query{
			StartKey:   view.Key{r.ref.ID},
			EndKey:     view.Key{r.ref.ID, view.High},
			Reduce:     true,
			GroupLevel: 2,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fields, err := base.Fields()
	if err != nil {
		return nil, err
	}
	for _, row := range latest {
		var fc model.FieldChange
		if err := row.DecodeValue(&fc); err != nil {
			return nil, fmt.Errorf("read %s: %w", r.ref.ID, err)
		}
		if model.IsProtected(fc.Name) {
			continue
		}
		if _, shadowed := fields[fc.Name]; shadowed {
			continue
		}
		fields[fc.Name] = fc.To
	}
	fields["revision_token"] = base.Rev
	return fields, nil
}

// Changes lists every Change of the document, newest first.
func (r *Revisable) Changes(ctx context.Context) ([]model.Change, error) {
	rows, err := r.engine.store.Query(ctx, view.ChangesByDoc, view.Query{
		StartKey:    view.Key{r.ref.ID, view.High},
		EndKey:      view.Key{r.ref.ID},
		Descending:  true,
		IncludeDocs: true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]model.Change, 0, len(rows))
	for _, row := range rows {
		if row.Doc == nil {
			continue
		}
		var c model.Change
		if err := row.Doc.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Update always fails: revisable documents change only through Change.
func (r *Revisable) Update(context.Context, UpdateFunc) (*model.Document, error) {
	return nil, registrystore.Forbidden("Revisable docs cannot be updated. Use change instead.")
}

// Delete removes the base document together with its Change, Adjustment and
// Alias records in one bulk write.
func (r *Revisable) Delete(ctx context.Context) error {
	base, err := r.base(ctx)
	if err != nil {
		return err
	}

	dependents := []string{view.ChangesByDoc, view.AdjustmentsByDoc, view.AliasesByTarget}
	found := make([][]*model.Document, len(dependents))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range dependents {
		g.Go(func() error {
			rows, err := r.engine.store.Query(gctx, name, view.Query{
				StartKey:    view.Key{r.ref.ID},
				EndKey:      view.Key{r.ref.ID, view.High},
				IncludeDocs: true,
			})
			if err != nil {
				return err
			}
			for _, row := range rows {
				if row.Doc != nil {
					found[i] = append(found[i], row.Doc)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var tombstones []*model.Document
	for _, docs := range found {
		for _, d := range docs {
			tombstones = append(tombstones, d.Tombstone())
		}
	}
	tombstones = append(tombstones, base.Tombstone())

	results, err := r.engine.store.BulkWrite(ctx, tombstones)
	if err != nil {
		return err
	}
	if err := registrystore.FirstError(results); err != nil {
		return err
	}
	var labels []string
	for _, t := range tombstones {
		if t.Type == model.TypeAlias {
			labels = append(labels, t.ID)
		}
		r.engine.publish(ctx, registrynotify.Event{Kind: registrynotify.Deleted, Doc: model.Ref{ID: t.ID, Type: t.Type}})
	}
	r.engine.Aliases().forget(ctx, labels)
	return nil
}

// Add appends element to the array field.
func (r *Revisable) Add(ctx context.Context, field string, element any, opts ...ChangeOption) (*model.Change, error) {
	elem, err := normalize(element)
	if err != nil {
		return nil, err
	}
	cur, _, err := r.ReadField(ctx, field)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		cur = []any{}
	}
	arr, ok := cur.([]any)
	if !ok {
		return nil, registrystore.Forbidden("Field '%s' is not an array.", field)
	}
	if indexOf(arr, elem) >= 0 {
		return nil, registrystore.Forbidden("Element is already in field '%s'.", field)
	}
	return r.change(ctx, field, append(arr, elem), opts...)
}

// Remove drops element from the array field. Removing the last element
// leaves an empty array.
func (r *Revisable) Remove(ctx context.Context, field string, element any, opts ...ChangeOption) (*model.Change, error) {
	elem, err := normalize(element)
	if err != nil {
		return nil, err
	}
	cur, _, err := r.ReadField(ctx, field)
	if err != nil {
		return nil, err
	}
	arr, ok := cur.([]any)
	if !ok {
		return nil, registrystore.Forbidden("Field '%s' is not an array.", field)
	}
	i := indexOf(arr, elem)
	if i < 0 {
		return nil, registrystore.Forbidden("Element is not in field '%s'.", field)
	}
	next := make([]any, 0, len(arr)-1)
	next = append(next, arr[:i]...)
	next = append(next, arr[i+1:]...)
	return r.change(ctx, field, next, opts...)
}

// Set stores value under key in the map field.
func (r *Revisable) Set(ctx context.Context, field, key string, value any, opts ...ChangeOption) (*model.Change, error) {
	cur, _, err := r.ReadField(ctx, field)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		cur = map[string]any{}
	}
	m, ok := cur.(map[string]any)
	if !ok {
		return nil, registrystore.Forbidden("Field '%s' is not an object.", field)
	}
	m[key] = value
	return r.change(ctx, field, m, opts...)
}

// Unset deletes key from the map field. Unsetting the last key leaves an
// empty object.
func (r *Revisable) Unset(ctx context.Context, field, key string, opts ...ChangeOption) (*model.Change, error) {
	cur, _, err := r.ReadField(ctx, field)
	if err != nil {
		return nil, err
	}
	m, ok := cur.(map[string]any)
	if !ok {
		return nil, registrystore.Forbidden("Field '%s' is not an object.", field)
	}
	if _, set := m[key]; !set {
		return nil, registrystore.Forbidden("'%s' field '%s' is not set.", field, key)
	}
	delete(m, key)
	return r.change(ctx, field, m, opts...)
}

func indexOf(arr []any, elem any) int {
	for i, v := range arr {
		if reflect.DeepEqual(v, elem) {
			return i
		}
	}
	return -1
}
