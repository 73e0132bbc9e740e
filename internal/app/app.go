// Package app builds the crawl from configuration and owns its long-lived
// services: the logger, the scheduler, the spider and the status server.
package app

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"

	"github.com/JakeFAU/crawl-scheduler/internal/api"
	"github.com/JakeFAU/crawl-scheduler/internal/config"
	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
	collydownloader "github.com/JakeFAU/crawl-scheduler/internal/downloader/colly"
	"github.com/JakeFAU/crawl-scheduler/internal/downloader/headless"
	"github.com/JakeFAU/crawl-scheduler/internal/downloader/promote"
	"github.com/JakeFAU/crawl-scheduler/internal/id/uuid"
	"github.com/JakeFAU/crawl-scheduler/internal/logging"
	"github.com/JakeFAU/crawl-scheduler/internal/middleware"
	"github.com/JakeFAU/crawl-scheduler/internal/pipeline"
	"github.com/JakeFAU/crawl-scheduler/internal/pipeline/gcs"
	"github.com/JakeFAU/crawl-scheduler/internal/pipeline/jsonl"
	"github.com/JakeFAU/crawl-scheduler/internal/pipeline/postgres"
	"github.com/JakeFAU/crawl-scheduler/internal/pipeline/pubsub"
	"github.com/JakeFAU/crawl-scheduler/internal/scheduler"
	"github.com/JakeFAU/crawl-scheduler/internal/spider"
)

// App holds the services of one crawl process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	scheduler *scheduler.Scheduler
	spider    *spider.Links
	server    *api.Server
}

// Option customizes Build. Used by tests to point cloud clients at fakes.
type Option func(*buildOptions)

type buildOptions struct {
	logger        *zap.Logger
	storageOpts   []option.ClientOption
	pubsubOpts    []option.ClientOption
	schedulerOpts []scheduler.Option
}

// WithLogger skips building a logger from the logging section.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithStorageOptions passes client options to the GCS client.
func WithStorageOptions(opts ...option.ClientOption) Option {
	return func(o *buildOptions) { o.storageOpts = append(o.storageOpts, opts...) }
}

// WithPubSubOptions passes client options to the Pub/Sub client.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(o *buildOptions) { o.pubsubOpts = append(o.pubsubOpts, opts...) }
}

// WithSchedulerOptions appends scheduler options after the configured ones.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(o *buildOptions) { o.schedulerOpts = append(o.schedulerOpts, opts...) }
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Scheduler returns the configured scheduler.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// Build validates cfg and constructs every service. It fails fast: any stage
// already created is closed before the error is returned.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := buildOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}

	policy, err := scheduler.ParsePriorityPolicy(cfg.Crawler.PriorityPolicy)
	if err != nil {
		return nil, err
	}

	links, err := spider.NewLinks(spider.Config{
		Seeds:          cfg.Crawler.Seeds,
		AllowedDomains: cfg.Crawler.AllowedDomains,
		DenyDomains:    cfg.Crawler.DenyDomains,
		MaxDepth:       cfg.Crawler.MaxDepth,
	}, spider.WithLogger(logger.Named("spider")))
	if err != nil {
		return nil, fmt.Errorf("spider init failed: %w", err)
	}

	dl, err := buildDownloader(cfg.Downloader, logger.Named("downloader"))
	if err != nil {
		return nil, err
	}

	stages, err := buildStages(ctx, cfg.Pipeline, o, logger)
	if err != nil {
		return nil, err
	}

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(logger.Named("scheduler")),
		scheduler.WithMiddlewares(buildMiddlewares(cfg, logger.Named("middleware"))...),
		scheduler.WithStages(stages...),
		scheduler.WithPriorityPolicy(policy),
		scheduler.WithHeartbeat(cfg.Crawler.HeartbeatInterval),
	}
	schedOpts = append(schedOpts, o.schedulerOpts...)
	sched := scheduler.New(dl, schedOpts...)

	a := &App{
		cfg:       cfg,
		logger:    logger,
		scheduler: sched,
		spider:    links,
	}
	if cfg.Server.Addr != "" {
		a.server = api.NewServer(sched, logger.Named("api"))
	}

	logger.Info("application built",
		zap.String("downloader", cfg.Downloader.Kind),
		zap.Int("seeds", len(cfg.Crawler.Seeds)),
		zap.Int("concurrency", cfg.Crawler.Concurrency),
		zap.Int("max_depth", cfg.Crawler.MaxDepth),
		zap.Int("stages", len(stages)),
		zap.Bool("status_server", a.server != nil),
	)
	return a, nil
}

// Run crawls until the frontier drains or ctx is canceled. The status
// server, when configured, runs alongside and stops with the crawl.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	if a.server != nil {
		g.Go(func() error {
			return a.server.Serve(serverCtx, a.cfg.Server.Addr)
		})
	}
	g.Go(func() error {
		defer stopServer()
		if err := a.scheduler.Run(gctx, a.spider, a.cfg.Crawler.Concurrency); err != nil {
			return fmt.Errorf("run crawl: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Close flushes the logger.
func (a *App) Close() {
	a.logger.Info("shutting down application services")
	if err := a.logger.Sync(); err != nil {
		// stdout/stderr may not support fsync.
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func buildDownloader(cfg config.DownloaderConfig, logger *zap.Logger) (crawler.Downloader, error) {
	switch cfg.Kind {
	case config.DownloaderHeadless:
		dl, err := newHeadless(cfg, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("using headless downloader", zap.Int("max_parallel", cfg.Headless.MaxParallel))
		return dl, nil
	case config.DownloaderAuto:
		render, err := newHeadless(cfg, logger.Named("headless"))
		if err != nil {
			return nil, err
		}
		dl, err := promote.New(newColly(cfg, logger.Named("colly")), render,
			promote.NewHeuristic(cfg.Headless.PromotionMinText), logger)
		if err != nil {
			return nil, fmt.Errorf("auto downloader init failed: %w", err)
		}
		logger.Info("using colly downloader with headless promotion",
			zap.Int("max_parallel", cfg.Headless.MaxParallel),
			zap.Int("promotion_min_text", cfg.Headless.PromotionMinText),
		)
		return dl, nil
	case config.DownloaderColly, "":
		logger.Info("using colly downloader",
			zap.String("user_agent", cfg.UserAgent),
			zap.Bool("respect_robots", cfg.RespectRobots),
		)
		return newColly(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown downloader kind: %s", cfg.Kind)
	}
}

func newColly(cfg config.DownloaderConfig, logger *zap.Logger) *collydownloader.Downloader {
	return collydownloader.New(collydownloader.Config{
		UserAgent:     cfg.UserAgent,
		RespectRobots: cfg.RespectRobots,
		Timeout:       cfg.Timeout,
		MaxBodySize:   cfg.MaxBodySize,
	}, logger)
}

func newHeadless(cfg config.DownloaderConfig, logger *zap.Logger) (*headless.Downloader, error) {
	dl, err := headless.NewChromedp(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.UserAgent,
		NavigationTimeout: cfg.Headless.NavigationTimeout,
		SettleDelay:       cfg.Headless.SettleDelay,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("headless downloader init failed: %w", err)
	}
	return dl, nil
}

// buildMiddlewares orders the stock middlewares. StatusFilter precedes Retry
// so status errors reach Retry's exception hook.
func buildMiddlewares(cfg config.Config, logger *zap.Logger) []any {
	mws := []any{middleware.NewDefaultHeaders(cfg.Downloader.UserAgent, cfg.Middleware.DefaultHeaders)}
	if cfg.Middleware.RateLimit.Enabled {
		mws = append(mws, middleware.NewRateLimit(middleware.RateLimitConfig{
			RPS:   cfg.Middleware.RateLimit.RPS,
			Burst: cfg.Middleware.RateLimit.Burst,
		}))
		logger.Info("rate limiter enabled",
			zap.Float64("rps", cfg.Middleware.RateLimit.RPS),
			zap.Int("burst", cfg.Middleware.RateLimit.Burst),
		)
	}
	mws = append(mws, middleware.NewStatusFilter(cfg.Middleware.AllowedStatuses...))
	if cfg.Middleware.Retry.Enabled {
		r := cfg.Middleware.Retry
		mws = append(mws, middleware.NewRetry(middleware.RetryConfig{
			MaxAttempts:    r.MaxAttempts,
			BaseDelay:      r.BaseDelay,
			MaxDelay:       r.MaxDelay,
			RetryCodes:     r.RetryCodes,
			PriorityAdjust: r.PriorityAdjust,
		}, logger))
		logger.Info("retry enabled", zap.Int("max_attempts", r.MaxAttempts), zap.Ints("retry_codes", r.RetryCodes))
	}
	return mws
}

func buildStages(ctx context.Context, cfg config.PipelineConfig, o buildOptions, logger *zap.Logger) (stages []any, err error) {
	defer func() {
		if err == nil {
			return
		}
		var errs []error
		for _, s := range stages {
			if c, ok := s.(crawler.Closer); ok {
				if cerr := c.Close(ctx); cerr != nil {
					errs = append(errs, cerr)
				}
			}
		}
		if len(errs) > 0 {
			logger.Warn("closing partially built stages failed", zap.Error(errors.Join(errs...)))
		}
	}()

	ids := uuid.New()
	if len(cfg.RequireFields) > 0 {
		stages = append(stages, pipeline.NewRequireFields(cfg.RequireFields...))
	}
	if cfg.JSONL.Path != "" {
		w, err := jsonl.New(cfg.JSONL)
		if err != nil {
			return stages, fmt.Errorf("jsonl stage init failed: %w", err)
		}
		stages = append(stages, w)
		logger.Info("jsonl stage enabled", zap.String("path", cfg.JSONL.Path))
	}
	if cfg.GCS.Bucket != "" {
		client, err := storage.NewClient(ctx, o.storageOpts...)
		if err != nil {
			return stages, fmt.Errorf("gcs client init failed: %w", err)
		}
		s, err := gcs.New(client, cfg.GCS, ids)
		if err != nil {
			_ = client.Close()
			return stages, fmt.Errorf("gcs stage init failed: %w", err)
		}
		stages = append(stages, s)
		logger.Info("gcs stage enabled", zap.String("bucket", cfg.GCS.Bucket), zap.String("prefix", cfg.GCS.Prefix))
	}
	if cfg.Postgres.DSN != "" {
		s, err := postgres.New(ctx, cfg.Postgres, ids)
		if err != nil {
			return stages, fmt.Errorf("postgres stage init failed: %w", err)
		}
		stages = append(stages, s)
		logger.Info("postgres stage enabled", zap.String("table", cfg.Postgres.Table))
	}
	if cfg.PubSub.Topic != "" {
		p, err := pubsub.New(ctx, cfg.PubSub, o.pubsubOpts...)
		if err != nil {
			return stages, fmt.Errorf("pubsub stage init failed: %w", err)
		}
		stages = append(stages, p)
		logger.Info("pubsub stage enabled",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.Topic),
		)
	}
	if len(stages) == 0 {
		logger.Warn("no output stages configured, records will be discarded")
	}
	return stages, nil
}
