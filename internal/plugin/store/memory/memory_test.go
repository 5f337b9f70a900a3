package memory_test

import (
	"context"
	"testing"

	"github.com/chirino/cartography/internal/plugin/store/memory"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/testutil/storetest"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) (registrystore.DocumentStore, context.Context) {
		s, err := memory.New()
		require.NoError(t, err)
		return s, context.Background()
	}, storetest.Options{AtomicBulk: true})
}

func TestMemoryStoreIsRegistered(t *testing.T) {
	loader, err := registrystore.Select("memory")
	require.NoError(t, err)
	s, err := loader(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
