package mongo_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/chirino/cartography/internal/config"
	"github.com/chirino/cartography/internal/plugin/store/mongo"
	registrymigrate "github.com/chirino/cartography/internal/registry/migrate"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/testutil/storetest"
	"github.com/chirino/cartography/internal/testutil/testmongo"
	"github.com/stretchr/testify/require"
)

func TestMongoStoreContract(t *testing.T) {
	runContract(t, testmongo.StartMongo(t), storetest.Options{AtomicBulk: false})
}

// A replica set runs every write in a transaction, so bulk writes are atomic.
func TestMongoReplicaSetStoreContract(t *testing.T) {
	runContract(t, testmongo.StartMongoReplicaSet(t), storetest.Options{AtomicBulk: true})
}

func runContract(t *testing.T, uri string, opts storetest.Options) {
	var n atomic.Int32

	storetest.Run(t, func(t *testing.T) (registrystore.DocumentStore, context.Context) {
		t.Helper()

		cfg := config.DefaultConfig()
		cfg.DatastoreType = "mongo"
		cfg.DBURL = uri
		// A database per subtest keeps them isolated.
		cfg.MongoDatabase = fmt.Sprintf("cartography_%d", n.Add(1))
		ctx := config.WithContext(context.Background(), &cfg)

		// Ensure mongo store plugin is registered
		_ = mongo.ForceImport

		require.NoError(t, registrymigrate.RunAll(ctx))

		loader, err := registrystore.Select("mongo")
		require.NoError(t, err)
		store, err := loader(ctx)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store, ctx
	}, opts)
}
