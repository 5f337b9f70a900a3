package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_UsesMemoryDatastore(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, "memory", cfg.DatastoreKind())
	require.Equal(t, 16, cfg.MaxConflictRetries)
	require.Equal(t, "channel", cfg.NotifyType)
}

func TestDatastoreKind_Normalizes(t *testing.T) {
	cfg := Config{DatastoreType: " Postgres "}
	require.Equal(t, "postgres", cfg.DatastoreKind())

	var nilCfg *Config
	require.Equal(t, "", nilCfg.DatastoreKind())
}

func TestFromContext_RoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	ctx := WithContext(context.Background(), &cfg)
	require.Same(t, &cfg, FromContext(ctx))
	require.Nil(t, FromContext(context.Background()))
}
