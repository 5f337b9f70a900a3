package metrics

import (
	"context"
	"time"

	"github.com/chirino/cartography/internal/model"
	"github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/security"
	"github.com/chirino/cartography/internal/view"
)

// Wrap returns a DocumentStore that records StoreLatency for every operation.
func Wrap(inner store.DocumentStore) store.DocumentStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.DocumentStore
}

func observe(op string, start time.Time) {
	security.ObserveStore(op, start)
}

func (m *metricsStore) Get(ctx context.Context, id string) (*model.Document, error) {
	defer observe("get", time.Now())
	return m.inner.Get(ctx, id)
}

func (m *metricsStore) Exists(ctx context.Context, id string) (bool, error) {
	defer observe("exists", time.Now())
	return m.inner.Exists(ctx, id)
}

func (m *metricsStore) Put(ctx context.Context, doc *model.Document) (string, error) {
	defer observe("put", time.Now())
	return m.inner.Put(ctx, doc)
}

func (m *metricsStore) BulkWrite(ctx context.Context, docs []*model.Document) ([]store.BulkResult, error) {
	defer observe("bulk_write", time.Now())
	return m.inner.BulkWrite(ctx, docs)
}

func (m *metricsStore) Query(ctx context.Context, viewName string, q view.Query) ([]view.Row, error) {
	defer observe("query:"+viewName, time.Now())
	return m.inner.Query(ctx, viewName, q)
}

func (m *metricsStore) Close() error {
	return m.inner.Close()
}
