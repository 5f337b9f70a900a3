package bdd

import (
	"testing"

	"github.com/chirino/cartography/internal/config"
	"github.com/chirino/cartography/internal/testutil/testmongo"
	"github.com/chirino/cartography/internal/testutil/testredis"
)

func TestFeaturesMongo(t *testing.T) {
	mongoURL := testmongo.StartMongo(t)
	redisURL := testredis.StartRedis(t)

	cfg := config.DefaultConfig()
	cfg.DatastoreType = "mongo"
	cfg.DBURL = mongoURL
	cfg.MongoDatabase = "cartography_bdd"
	cfg.NotifyType = "redis"
	cfg.RedisURL = redisURL
	cfg.CacheType = "redis"
	cfg.SearchType = "memory"
	runFeatures(t, &cfg)
}
