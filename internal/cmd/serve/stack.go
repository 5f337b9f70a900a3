package serve

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/chirino/cartography/internal/config"
	"github.com/chirino/cartography/internal/entity"
	storemetrics "github.com/chirino/cartography/internal/plugin/store/metrics"
	registrycache "github.com/chirino/cartography/internal/registry/cache"
	registrymigrate "github.com/chirino/cartography/internal/registry/migrate"
	registrynotify "github.com/chirino/cartography/internal/registry/notify"
	registrysearch "github.com/chirino/cartography/internal/registry/search"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/validate"

	// Import all plugins to trigger init() registration
	_ "github.com/chirino/cartography/internal/plugin/cache/noop"
	_ "github.com/chirino/cartography/internal/plugin/cache/redis"
	_ "github.com/chirino/cartography/internal/plugin/notify/channel"
	_ "github.com/chirino/cartography/internal/plugin/notify/redis"
	_ "github.com/chirino/cartography/internal/plugin/route/system"
	_ "github.com/chirino/cartography/internal/plugin/search/memory"
	_ "github.com/chirino/cartography/internal/plugin/search/none"
	_ "github.com/chirino/cartography/internal/plugin/search/weaviate"
	_ "github.com/chirino/cartography/internal/plugin/store/memory"
	_ "github.com/chirino/cartography/internal/plugin/store/mongo"
	_ "github.com/chirino/cartography/internal/plugin/store/postgres"
	_ "github.com/chirino/cartography/internal/plugin/store/sqlite"
)

// Stack is the engine with the backends selected by configuration.
type Stack struct {
	Config   *config.Config
	Store    registrystore.DocumentStore
	Notifier registrynotify.Notifier
	Index    registrysearch.Index
	Cache    registrycache.AliasCache
	Engine   *entity.Engine
}

// Open runs migrations and loads the configured store, notifier, search
// index and alias cache. ctx must carry cfg.
func Open(ctx context.Context, cfg *config.Config) (*Stack, error) {
	if err := registrymigrate.RunAll(ctx); err != nil {
		return nil, fmt.Errorf("migrations failed: %w", err)
	}

	storeLoader, err := registrystore.Select(cfg.DatastoreKind())
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	s := &Stack{Config: cfg, Store: storemetrics.Wrap(store)}

	pipeline, err := validate.New(ctx, s.Store, cfg.PolicyDir)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to load validation policy: %w", err)
	}

	notifyLoader, err := registrynotify.Select(cfg.NotifyType)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if s.Notifier, err = notifyLoader(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize notifier: %w", err)
	}

	searchLoader, err := registrysearch.Select(cfg.SearchType)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if s.Index, err = searchLoader(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize search index: %w", err)
	}

	cacheLoader, err := registrycache.Select(cfg.CacheType)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if s.Cache, err = cacheLoader(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	s.Engine = entity.New(s.Store, pipeline, s.Notifier, entity.Options{
		MaxRetries:   cfg.MaxConflictRetries,
		RetryInitial: cfg.ConflictRetryInitial,
		RetryMax:     cfg.ConflictRetryMax,
		Cache:        s.Cache,
	})
	log.Info("Stack ready", "db", cfg.DatastoreKind(), "notify", cfg.NotifyType, "search", cfg.SearchType, "cache", cfg.CacheType)
	return s, nil
}

// Close releases the backends in reverse order of opening.
func (s *Stack) Close() error {
	var errs []error
	if c, ok := s.Cache.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if s.Index != nil {
		errs = append(errs, s.Index.Close())
	}
	if s.Notifier != nil {
		errs = append(errs, s.Notifier.Close())
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	return errors.Join(errs...)
}
