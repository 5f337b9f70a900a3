package config

import (
	"context"
	"strings"
	"time"
)

// ListenerConfig holds the network settings for the HTTP listener.
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

// Config holds all configuration for the cartography service.
type Config struct {
	// Datastore backend type: "memory", "postgres", "sqlite" or "mongo".
	DatastoreType string

	// Database URL (postgres DSN, sqlite file path or mongodb:// URI).
	DBURL string

	// MongoDatabase is the database name used by the mongo datastore.
	MongoDatabase string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// DB pool
	DBMaxOpenConns int
	DBMaxIdleConns int

	// Search index type: "none", "memory" or "weaviate".
	SearchType string

	// SearchCollection is the logical index collection name.
	SearchCollection string

	// Weaviate endpoint, e.g. "http://localhost:8081".
	WeaviateURL string

	// Notification transport: "channel" or "redis".
	NotifyType string

	// Redis
	RedisURL string

	// NotifyStream is the redis stream key lifecycle events are appended to.
	NotifyStream string

	// NotifyBuffer bounds the in-process notification queue.
	NotifyBuffer int

	// Alias cache: "none" or "redis". CacheRedisURL defaults to RedisURL.
	CacheType     string
	CacheRedisURL string
	CacheTTL      time.Duration

	// Optimistic update retries before a Conflict is surfaced.
	MaxConflictRetries   int
	ConflictRetryInitial time.Duration
	ConflictRetryMax     time.Duration

	// PolicyDir optionally overrides the embedded validation policy.
	PolicyDir string

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR} expansion.
	// Defaults to "service=cartography".
	MetricsLabels string

	// LogLevel is one of debug, info, warn, error.
	LogLevel string

	// Server
	Listener ListenerConfig

	// MaxBodySize bounds request bodies in bytes.
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DatastoreType:           "memory",
		MongoDatabase:           "cartography",
		DatastoreMigrateAtStart: true,
		DBMaxOpenConns:          25,
		DBMaxIdleConns:          5,
		SearchType:              "none",
		SearchCollection:        "cartography",
		WeaviateURL:             "http://localhost:8081",
		NotifyType:              "channel",
		NotifyStream:            "cartography:events",
		NotifyBuffer:            1024,
		CacheType:               "none",
		CacheTTL:                10 * time.Minute,
		MaxConflictRetries:      16,
		ConflictRetryInitial:    10 * time.Millisecond,
		ConflictRetryMax:        time.Second,
		LogLevel:                "info",
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:  1 << 20,
		DrainTimeout: 30,
	}
}

// DatastoreKind returns the normalized datastore type.
func (c *Config) DatastoreKind() string {
	if c == nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(c.DatastoreType))
}
