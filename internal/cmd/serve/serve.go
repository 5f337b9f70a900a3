package serve

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/cartography/internal/config"
	registrycache "github.com/chirino/cartography/internal/registry/cache"
	registrynotify "github.com/chirino/cartography/internal/registry/notify"
	registrysearch "github.com/chirino/cartography/internal/registry/search"
	registrystore "github.com/chirino/cartography/internal/registry/store"
	"github.com/chirino/cartography/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v3"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the cartography HTTP server",
		Flags: append(StackFlags(&cfg), serverFlags(&cfg, &readHeaderTimeoutSecs)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := security.SetLogLevel(cfg.LogLevel); err != nil {
				return err
			}
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func serverFlags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("CARTOGRAPHY_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("CARTOGRAPHY_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.Int64Flag{
			Name:        "max-body-size",
			Category:    "Server:",
			Sources:     cli.EnvVars("CARTOGRAPHY_MAX_BODY_SIZE"),
			Destination: &cfg.MaxBodySize,
			Value:       cfg.MaxBodySize,
			Usage:       "Maximum request body size in bytes",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("CARTOGRAPHY_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Seconds to wait for in-flight requests on shutdown",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("CARTOGRAPHY_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       "service=cartography",
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

// StackFlags configures the store, notifier, search index and engine. Shared
// by every command that opens a Stack.
func StackFlags(cfg *config.Config) []cli.Flag {
	return []cli.Flag{

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("CARTOGRAPHY_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-url",
			Category:    "Database:",
			Sources:     cli.EnvVars("CARTOGRAPHY_DB_URL"),
			Destination: &cfg.DBURL,
			Usage:       "Database connection URL (postgres DSN, sqlite file or mongodb:// URI)",
		},
		&cli.StringFlag{
			Name:        "db-mongo-database",
			Category:    "Database:",
			Sources:     cli.EnvVars("CARTOGRAPHY_DB_MONGO_DATABASE"),
			Destination: &cfg.MongoDatabase,
			Value:       cfg.MongoDatabase,
			Usage:       "MongoDB database name",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("CARTOGRAPHY_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Apply schema migrations on startup",
		},
		&cli.IntFlag{
			Name:        "db-max-open-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("CARTOGRAPHY_DB_MAX_OPEN_CONNS"),
			Destination: &cfg.DBMaxOpenConns,
			Value:       cfg.DBMaxOpenConns,
			Usage:       "Maximum number of open database connections",
		},
		&cli.IntFlag{
			Name:        "db-max-idle-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("CARTOGRAPHY_DB_MAX_IDLE_CONNS"),
			Destination: &cfg.DBMaxIdleConns,
			Value:       cfg.DBMaxIdleConns,
			Usage:       "Maximum number of idle database connections",
		},

		// ── Search ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "search-kind",
			Category:    "Search:",
			Sources:     cli.EnvVars("CARTOGRAPHY_SEARCH_KIND"),
			Destination: &cfg.SearchType,
			Value:       cfg.SearchType,
			Usage:       "Search index (" + strings.Join(registrysearch.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "search-collection",
			Category:    "Search:",
			Sources:     cli.EnvVars("CARTOGRAPHY_SEARCH_COLLECTION"),
			Destination: &cfg.SearchCollection,
			Value:       cfg.SearchCollection,
			Usage:       "Index collection documents are written to",
		},
		&cli.StringFlag{
			Name:        "search-weaviate-url",
			Category:    "Search:",
			Sources:     cli.EnvVars("CARTOGRAPHY_SEARCH_WEAVIATE_URL"),
			Destination: &cfg.WeaviateURL,
			Value:       cfg.WeaviateURL,
			Usage:       "Weaviate endpoint",
		},

		// ── Notifications ─────────────────────────────────────────
		&cli.StringFlag{
			Name:        "notify-kind",
			Category:    "Notifications:",
			Sources:     cli.EnvVars("CARTOGRAPHY_NOTIFY_KIND"),
			Destination: &cfg.NotifyType,
			Value:       cfg.NotifyType,
			Usage:       "Lifecycle event transport (" + strings.Join(registrynotify.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "notify-redis-url",
			Category:    "Notifications:",
			Sources:     cli.EnvVars("CARTOGRAPHY_NOTIFY_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL",
		},
		&cli.StringFlag{
			Name:        "notify-stream",
			Category:    "Notifications:",
			Sources:     cli.EnvVars("CARTOGRAPHY_NOTIFY_STREAM"),
			Destination: &cfg.NotifyStream,
			Value:       cfg.NotifyStream,
			Usage:       "Redis stream key for lifecycle events",
		},
		&cli.IntFlag{
			Name:        "notify-buffer",
			Category:    "Notifications:",
			Sources:     cli.EnvVars("CARTOGRAPHY_NOTIFY_BUFFER"),
			Destination: &cfg.NotifyBuffer,
			Value:       cfg.NotifyBuffer,
			Usage:       "Events buffered per subscriber before new ones are dropped",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CARTOGRAPHY_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Alias resolution cache (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "cache-redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CARTOGRAPHY_CACHE_REDIS_URL"),
			Destination: &cfg.CacheRedisURL,
			Usage:       "Redis connection URL for the cache (defaults to --notify-redis-url)",
		},
		&cli.DurationFlag{
			Name:        "cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("CARTOGRAPHY_CACHE_TTL"),
			Destination: &cfg.CacheTTL,
			Value:       cfg.CacheTTL,
			Usage:       "How long a resolved alias stays cached",
		},

		// ── Engine ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "conflict-max-retries",
			Category:    "Engine:",
			Sources:     cli.EnvVars("CARTOGRAPHY_CONFLICT_MAX_RETRIES"),
			Destination: &cfg.MaxConflictRetries,
			Value:       cfg.MaxConflictRetries,
			Usage:       "Optimistic update retries before a conflict is returned",
		},
		&cli.DurationFlag{
			Name:        "conflict-retry-initial",
			Category:    "Engine:",
			Sources:     cli.EnvVars("CARTOGRAPHY_CONFLICT_RETRY_INITIAL"),
			Destination: &cfg.ConflictRetryInitial,
			Value:       cfg.ConflictRetryInitial,
			Usage:       "First conflict retry delay",
		},
		&cli.DurationFlag{
			Name:        "conflict-retry-max",
			Category:    "Engine:",
			Sources:     cli.EnvVars("CARTOGRAPHY_CONFLICT_RETRY_MAX"),
			Destination: &cfg.ConflictRetryMax,
			Value:       cfg.ConflictRetryMax,
			Usage:       "Upper bound of the conflict retry delay",
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Category:    "Engine:",
			Sources:     cli.EnvVars("CARTOGRAPHY_POLICY_DIR"),
			Destination: &cfg.PolicyDir,
			Usage:       "Directory holding a validate.rego that replaces the built-in validation policy",
		},

		// ── Logging ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "log-level",
			Category:    "Logging:",
			Sources:     cli.EnvVars("CARTOGRAPHY_LOG_LEVEL"),
			Destination: &cfg.LogLevel,
			Value:       cfg.LogLevel,
			Usage:       "Log level (debug|info|warn|error)",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if maxBodySize > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		}
		c.Next()
	}
}
