package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/cartography/internal/config"
	"github.com/chirino/cartography/internal/model"
	registrycache "github.com/chirino/cartography/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 10 * time.Minute

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.AliasCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil {
		return nil, fmt.Errorf("redis cache: missing config")
	}
	url := cfg.CacheRedisURL
	if url == "" {
		url = cfg.RedisURL
	}
	if url == "" {
		return nil, fmt.Errorf("redis cache: CARTOGRAPHY_CACHE_REDIS_URL is required")
	}
	return LoadFromURL(ctx, url, cfg.SearchCollection, cfg.CacheTTL)
}

// LoadFromURL creates an alias cache whose keys live under prefix.
func LoadFromURL(ctx context.Context, redisURL, prefix string, ttl time.Duration) (*Cache, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}, nil
}

// Cache stores alias owners as JSON strings with a TTL.
type Cache struct {
	client *goredis.Client
	prefix string
	ttl    time.Duration
}

func (c *Cache) key(label string) string {
	return fmt.Sprintf("%s:alias:%s", c.prefix, label)
}

func (c *Cache) Available() bool { return true }

func (c *Cache) Get(ctx context.Context, label string) (*model.Ref, error) {
	data, err := c.client.Get(ctx, c.key(label)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ref model.Ref
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (c *Cache) Set(ctx context.Context, label string, owner model.Ref, ttl time.Duration) error {
	data, err := json.Marshal(owner)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, c.key(label), data, ttl).Err()
}

func (c *Cache) Remove(ctx context.Context, labels ...string) error {
	if len(labels) == 0 {
		return nil
	}
	keys := make([]string, len(labels))
	for i, l := range labels {
		keys[i] = c.key(l)
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *Cache) Close() error { return c.client.Close() }

var _ registrycache.AliasCache = (*Cache)(nil)
