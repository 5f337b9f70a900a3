package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/chirino/cartography/internal/cmd/migrate"
	"github.com/chirino/cartography/internal/cmd/sample"
	"github.com/chirino/cartography/internal/cmd/serve"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "cartography",
		Usage: "Revisable maps of situations and the relationships between them",
		Commands: []*cli.Command{
			serve.Command(),
			migrate.Command(),
			sample.Command(),
		},
	}
	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
