package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrSnakeDoc/devhost/internal/app"
	"github.com/MrSnakeDoc/devhost/internal/config"
	"github.com/MrSnakeDoc/devhost/internal/logger"
	"github.com/MrSnakeDoc/devhost/internal/version"
)

type cli struct {
	cfg  *config.Config
	log  logger.Logger
	core *app.Core
}

// load builds the shared components for one-shot commands.
func (c *cli) load() error {
	if c.core != nil {
		return nil
	}
	core, err := app.NewCore(c.cfg, c.log)
	if err != nil {
		return err
	}
	c.core = core
	return nil
}

// loadRoutes is load plus a registry seeded from the store and live
// process state, so the caddy sync after a mutation keeps every other site.
func (c *cli) loadRoutes(ctx context.Context) error {
	if err := c.load(); err != nil {
		return err
	}
	if err := c.core.Orch.RebuildRoutes(ctx); err != nil {
		// A failed caddy reload still leaves the registry seeded.
		c.log.Warn("route rebuild incomplete", logger.Error(err))
	}
	return nil
}

// notify asks a running daemon to refresh its in-memory router. Nothing
// to do when no daemon is running: it rebuilds routes on startup.
func (c *cli) notify(ctx context.Context) {
	if !app.NotifyDaemon(ctx, c.cfg.ControlAddr) {
		c.log.Debug("no daemon answered, routes apply on next start")
	}
}

func main() {
	c := &cli{cfg: config.Load()}
	c.log = app.NewLogger(c.cfg)
	defer func() { _ = c.log.Sync() }()

	root := &cobra.Command{
		Use:           "devhost",
		Short:         "Run local development services behind friendly hostnames",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		serveCmd(c),
		versionCmd(),
		instanceCmd(c),
		domainCmd(c),
		binaryCmd(c),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy, the control API and the reconciler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(c.cfg, c.log)
			if err != nil {
				return err
			}
			return a.Run()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
