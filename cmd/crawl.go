package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-scheduler/internal/config"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl to
// completion or until interrupted.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs a crawl from the configured seeds",
		Long: `Loads configuration, builds the downloader, middlewares and output
stages, and crawls until the frontier drains. SIGINT or SIGTERM stops the
workers and closes every stage before exiting.`,
		RunE: runCrawlCommand,
	}
	cmd.Flags().StringSlice("seed", nil, "seed URL, repeatable (replaces crawler.seeds)")
	cmd.Flags().Int("concurrency", 0, "number of workers (overrides crawler.concurrency)")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appInstance, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer appInstance.Close()

	logger := appInstance.Logger()
	if err := appInstance.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("crawl interrupted")
			return nil
		}
		return err
	}
	logger.Info("crawl command finished", zap.Strings("seeds", cfg.Crawler.Seeds))
	return nil
}

// resolveConfig loads the config file and applies flag overrides.
func resolveConfig(cmd *cobra.Command) (config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, fmt.Errorf("read --config: %w", err)
	}
	cfg, err := loadConfig(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	seeds, err := cmd.Flags().GetStringSlice("seed")
	if err != nil {
		return config.Config{}, fmt.Errorf("read --seed: %w", err)
	}
	if len(seeds) > 0 {
		cfg.Crawler.Seeds = seeds
	}
	concurrency, err := cmd.Flags().GetInt("concurrency")
	if err != nil {
		return config.Config{}, fmt.Errorf("read --concurrency: %w", err)
	}
	if cmd.Flags().Changed("concurrency") {
		cfg.Crawler.Concurrency = concurrency
	}
	if len(cfg.Crawler.Seeds) == 0 {
		return config.Config{}, errors.New("no seeds: set crawler.seeds or pass --seed")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
