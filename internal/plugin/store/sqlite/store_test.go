package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/chirino/cartography/internal/config"
	"github.com/chirino/cartography/internal/plugin/store/sqlite"
	registrymigrate "github.com/chirino/cartography/internal/registry/migrate"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/testutil/storetest"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (registrystore.DocumentStore, context.Context) {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "sqlite"
	cfg.DBURL = filepath.Join(t.TempDir(), "cartography.db")
	ctx := config.WithContext(context.Background(), &cfg)

	// Ensure sqlite store plugin is registered
	_ = sqlite.ForceImport

	require.NoError(t, registrymigrate.RunAll(ctx))

	loader, err := registrystore.Select("sqlite")
	require.NoError(t, err)
	store, err := loader(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, ctx
}

func TestSQLiteStoreContract(t *testing.T) {
	storetest.Run(t, setupTestStore, storetest.Options{AtomicBulk: true})
}

func TestDSNKeepsExplicitOptions(t *testing.T) {
	require.Equal(t, "file:x.db?mode=ro", sqlite.DSN("file:x.db?mode=ro"))
	require.Contains(t, sqlite.DSN("/tmp/x.db"), "_busy_timeout=5000")
}
