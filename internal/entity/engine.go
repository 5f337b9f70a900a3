// Package entity implements revisable documents on top of a DocumentStore.
//
// Base documents are written once and never mutated. Every field mutation is
// an immutable Change record, and the current state of a document is rebuilt
// on each read from the latest Change per field. Numeric fields that
// accumulate (relationship strength) are kept as Adjustment records reduced
// by sum. Aliases resolve labels to documents through the Change history.
package entity

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/chirino/cartography/internal/model"
	registrycache "github.com/chirino/cartography/internal/registry/cache"
	registrynotify "github.com/chirino/cartography/internal/registry/notify"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/security"
	"github.com/chirino/cartography/internal/validate"
	"github.com/chirino/cartography/internal/view"
	"github.com/google/uuid"
)

const lockStripes = 64

// Options tunes an Engine. Zero values select defaults.
type Options struct {
	// MaxRetries bounds the conflict retries of Update.
	MaxRetries   int
	RetryInitial time.Duration
	RetryMax     time.Duration
	// Now is the clock used for creation dates.
	Now func() time.Time
	// NewID generates document ids.
	NewID func() string
	// Cache holds resolved aliases. Nil disables caching.
	Cache registrycache.AliasCache
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 16
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = 10 * time.Millisecond
	}
	if o.RetryMax <= 0 {
		o.RetryMax = time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	return o
}

// Engine writes and reconstructs documents. It is safe for concurrent use.
type Engine struct {
	store    registrystore.DocumentStore
	pipeline *validate.Pipeline
	notifier registrynotify.Notifier
	opts     Options

	// Serializes read-compare-append per (doc, field) so that concurrent
	// identical changes produce one record.
	stripes [lockStripes]sync.Mutex
}

// New creates an Engine. A nil notifier discards events.
func New(store registrystore.DocumentStore, pipeline *validate.Pipeline, notifier registrynotify.Notifier, opts Options) *Engine {
	if notifier == nil {
		notifier = registrynotify.Discard
	}
	return &Engine{store: store, pipeline: pipeline, notifier: notifier, opts: opts.withDefaults()}
}

// Store returns the underlying document store.
func (e *Engine) Store() registrystore.DocumentStore { return e.store }

func (e *Engine) now() int64 { return e.opts.Now().UnixMilli() }

func (e *Engine) newID() string { return e.opts.NewID() }

func (e *Engine) stripe(docID, field string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(docID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(field))
	return &e.stripes[h.Sum32()%lockStripes]
}

func (e *Engine) publish(ctx context.Context, ev registrynotify.Event) {
	if ev.At == 0 {
		ev.At = e.now()
	}
	e.notifier.Publish(ctx, ev)
}

// create validates and stores a new document and announces it.
func (e *Engine) create(ctx context.Context, v any) (*model.Document, error) {
	doc, err := model.NewDocument(v)
	if err != nil {
		return nil, err
	}
	if err := e.pipeline.Check(ctx, doc, nil); err != nil {
		return nil, err
	}
	rev, err := e.store.Put(ctx, doc)
	if err != nil {
		return nil, err
	}
	doc.Rev = rev
	e.publish(ctx, registrynotify.Event{Kind: registrynotify.Created, Doc: model.Ref{ID: doc.ID, Type: doc.Type}})
	return doc, nil
}

// Get returns the stored base document.
func (e *Engine) Get(ctx context.Context, id string) (*model.Document, error) {
	return e.store.Get(ctx, id)
}

// UpdateFunc derives the next version of a document. cur is nil when the
// document does not exist yet. It may be called several times and must not
// have side effects.
type UpdateFunc func(cur *model.Document) (*model.Document, error)

// Update runs a read-transform-write cycle on a mutable document, retrying
// the whole cycle with exponential backoff while the store reports a
// revision conflict. Immutable and revisable documents cannot be updated.
func (e *Engine) Update(ctx context.Context, id string, fn UpdateFunc) (*model.Document, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.opts.RetryInitial
	b.MaxInterval = e.opts.RetryMax
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(e.opts.MaxRetries)), ctx)

	var out *model.Document
	var docType string
	attempt := 0
	err := backoff.Retry(func() error {
		if attempt > 0 {
			security.CountConflictRetry(docType)
		}
		attempt++
		doc, err := e.tryUpdate(ctx, id, fn)
		if doc != nil {
			docType = doc.Type
		}
		if registrystore.IsConflict(err) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		out = doc
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) tryUpdate(ctx context.Context, id string, fn UpdateFunc) (*model.Document, error) {
	cur, err := e.store.Get(ctx, id)
	if registrystore.IsNotFound(err) {
		cur = nil
	} else if err != nil {
		return nil, err
	}
	if cur != nil {
		h, err := cur.Header()
		if err != nil {
			return nil, err
		}
		if h.Revisable {
			return nil, registrystore.Forbidden("Revisable docs cannot be updated. Use change instead.")
		}
	}

	var input *model.Document
	if cur != nil {
		input = cur.Clone()
	}
	next, err := fn(input)
	if err != nil {
		return nil, err
	}
	if next == nil || next.ID != id {
		return nil, &registrystore.ValidationError{Field: "id", Message: "update must not change the document id"}
	}
	if cur != nil {
		if next.Type != cur.Type {
			return nil, &registrystore.ValidationError{Field: "type", Message: "update must not change the document type"}
		}
		next.Rev = cur.Rev
	} else {
		next.Rev = ""
	}

	if err := e.pipeline.Check(ctx, next, cur); err != nil {
		return nil, err
	}
	rev, err := e.store.Put(ctx, next)
	if err != nil {
		return next, err
	}
	next.Rev = rev
	return next, nil
}

// List returns the ids of live documents of docType, newest first.
func (e *Engine) List(ctx context.Context, docType string, limit int) ([]string, error) {
	rows, err := e.store.Query(ctx, view.ByType, view.Query{
		StartKey:   view.Key{docType, view.High},
		EndKey:     view.Key{docType},
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}
