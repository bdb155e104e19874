// Command payctl is the operator CLI for the billing service.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"marketplace-billing/internal/bootstrap"
	"marketplace-billing/internal/config"
	"marketplace-billing/internal/infra/logging"
)

var Version = "dev"

type globalFlags struct {
	configPath string
	dev        bool
}

func main() {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "payctl",
		Short:         "payctl - operate the marketplace billing service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&g.configPath, "config", "config.yaml", "path to config yaml")
	rootCmd.PersistentFlags().BoolVar(&g.dev, "dev", false, "development mode")

	rootCmd.AddCommand(migrateCmd(g))
	rootCmd.AddCommand(sweepCmd(g))
	rootCmd.AddCommand(reopenCmd(g))
	rootCmd.AddCommand(refundCmd(g))
	rootCmd.AddCommand(plansCmd())
	rootCmd.AddCommand(tokenCmd(g))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func (g *globalFlags) load() (*config.Config, *zerolog.Logger, error) {
	cfg, err := config.Load(g.configPath, g.dev)
	if err != nil {
		return nil, nil, err
	}
	cfg.Log.Format = "console"
	return cfg, logging.New(cfg.Log, cfg.Runtime.Dev), nil
}

// withApp builds the full wiring, runs fn and drains pending notifications.
func (g *globalFlags) withApp(ctx context.Context, fn func(ctx context.Context, app *bootstrap.App) error) error {
	cfg, logger, err := g.load()
	if err != nil {
		return err
	}
	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	app.Workers.Start(ctx)
	return fn(ctx, app)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
