// Package cmd defines the CLI commands for the crawlsched executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-scheduler/internal/app"
	"github.com/JakeFAU/crawl-scheduler/internal/config"
)

// App is the part of the application the commands drive. Tests inject a fake.
type App interface {
	Run(ctx context.Context) error
	Close()
	Logger() *zap.Logger
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.Build(ctx, cfg)
}

// loadConfig is replaced in tests.
var loadConfig = config.Load

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawlsched",
		Short: "A concurrent crawl scheduler with pluggable middlewares and output stages.",
		Long: `crawlsched drives a crawl from seed URLs: requests are deduplicated,
prioritized and fetched by a bounded worker pool, and every record a page
yields flows through the configured output stages.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (YAML, TOML or JSON)")
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "crawlsched:", err)
		os.Exit(1)
	}
}
