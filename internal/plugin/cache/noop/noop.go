package noop

import (
	"context"
	"time"

	"github.com/chirino/cartography/internal/model"
	"github.com/chirino/cartography/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.AliasCache, error) {
			return Cache{}, nil
		},
	})
}

// Cache never holds anything.
type Cache struct{}

func (Cache) Available() bool { return false }
func (Cache) Get(context.Context, string) (*model.Ref, error) { return nil, nil }
func (Cache) Set(context.Context, string, model.Ref, time.Duration) error { return nil }
func (Cache) Remove(context.Context, ...string) error { return nil }

var _ cache.AliasCache = Cache{}
