package sample

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/chirino/cartography/internal/cmd/serve"
	"github.com/chirino/cartography/internal/config"
	"github.com/chirino/cartography/internal/sample"
	"github.com/chirino/cartography/internal/security"
	"github.com/urfave/cli/v3"
)

// Command returns the sample sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	return &cli.Command{
		Name:  "sample",
		Usage: "Load the Quebec 2012 sample map into the configured store",
		Flags: serve.StackFlags(&cfg),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := security.SetLogLevel(cfg.LogLevel); err != nil {
				return err
			}
			ctx = config.WithContext(ctx, &cfg)
			stack, err := serve.Open(ctx, &cfg)
			if err != nil {
				return err
			}
			defer stack.Close()

			res, err := sample.Load(ctx, stack.Engine)
			if err != nil {
				return err
			}
			log.Info("Sample data loaded", "situations", len(res.Situations), "relationships", len(res.Relationships))
			return nil
		},
	}
}
