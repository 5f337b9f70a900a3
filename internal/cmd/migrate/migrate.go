package migrate

import (
	"context"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/cartography/internal/config"
	registrymigrate "github.com/chirino/cartography/internal/registry/migrate"
	"github.com/chirino/cartography/internal/security"
	"github.com/urfave/cli/v3"

	// Import plugins to trigger init() registration of their migrators.
	// Store and search plugins register their own migrators alongside their primary interface.
	_ "github.com/chirino/cartography/internal/plugin/search/weaviate"
	_ "github.com/chirino/cartography/internal/plugin/store/mongo"
	_ "github.com/chirino/cartography/internal/plugin/store/postgres"
	_ "github.com/chirino/cartography/internal/plugin/store/sqlite"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create store schemas and search index classes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("CARTOGRAPHY_DB_URL"),
				Usage:    "Database connection URL",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "db-kind",
				Sources: cli.EnvVars("CARTOGRAPHY_DB_KIND"),
				Usage:   "Store backend (postgres|sqlite|mongo)",
				Value:   "postgres",
			},
			&cli.StringFlag{
				Name:    "db-mongo-database",
				Sources: cli.EnvVars("CARTOGRAPHY_DB_MONGO_DATABASE"),
				Usage:   "MongoDB database name",
				Value:   "cartography",
			},
			&cli.StringFlag{
				Name:    "search-kind",
				Sources: cli.EnvVars("CARTOGRAPHY_SEARCH_KIND"),
				Usage:   "Search index to prepare (none|weaviate)",
				Value:   "none",
			},
			&cli.StringFlag{
				Name:    "search-collection",
				Sources: cli.EnvVars("CARTOGRAPHY_SEARCH_COLLECTION"),
				Usage:   "Index collection",
				Value:   "cartography",
			},
			&cli.StringFlag{
				Name:    "search-weaviate-url",
				Sources: cli.EnvVars("CARTOGRAPHY_SEARCH_WEAVIATE_URL"),
				Usage:   "Weaviate endpoint",
				Value:   "http://localhost:8081",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Sources: cli.EnvVars("CARTOGRAPHY_LOG_LEVEL"),
				Value:   "info",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := security.SetLogLevel(cmd.String("log-level")); err != nil {
				return err
			}
			cfg := config.DefaultConfig()
			cfg.DatastoreMigrateAtStart = true
			cfg.DBURL = cmd.String("db-url")
			cfg.DatastoreType = cmd.String("db-kind")
			cfg.MongoDatabase = cmd.String("db-mongo-database")
			cfg.SearchType = cmd.String("search-kind")
			cfg.SearchCollection = cmd.String("search-collection")
			cfg.WeaviateURL = cmd.String("search-weaviate-url")
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...", "migrators", strings.Join(registrymigrate.Names(), ","))
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
