package bdd

import (
	"testing"

	"github.com/chirino/cartography/internal/config"
	"github.com/chirino/cartography/internal/testutil/testpg"
	"github.com/chirino/cartography/internal/testutil/testweaviate"
)

func TestFeaturesPostgres(t *testing.T) {
	dbURL := testpg.StartPostgres(t)
	weaviateURL := testweaviate.StartWeaviate(t)

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "postgres"
	cfg.DBURL = dbURL
	cfg.SearchType = "weaviate"
	cfg.WeaviateURL = weaviateURL
	cfg.SearchCollection = "Bdd"
	runFeatures(t, &cfg)
}
