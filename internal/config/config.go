// Package config loads and validates crawl configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crawl-scheduler/internal/pipeline/gcs"
	"github.com/JakeFAU/crawl-scheduler/internal/pipeline/jsonl"
	"github.com/JakeFAU/crawl-scheduler/internal/pipeline/postgres"
	"github.com/JakeFAU/crawl-scheduler/internal/pipeline/pubsub"
)

// Downloader kinds.
const (
	DownloaderColly    = "colly"
	DownloaderHeadless = "headless"
	// DownloaderAuto probes with colly and renders flagged pages headlessly.
	DownloaderAuto = "auto"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler    CrawlerConfig    `mapstructure:"crawler"`
	Downloader DownloaderConfig `mapstructure:"downloader"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// CrawlerConfig scopes the crawl and sizes the worker pool.
type CrawlerConfig struct {
	Seeds             []string      `mapstructure:"seeds"`
	AllowedDomains    []string      `mapstructure:"allowed_domains"`
	DenyDomains       []string      `mapstructure:"deny_domains"`
	MaxDepth          int           `mapstructure:"max_depth"`
	Concurrency       int           `mapstructure:"concurrency"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PriorityPolicy    string        `mapstructure:"priority_policy"`
}

// DownloaderConfig selects and tunes the downloader.
type DownloaderConfig struct {
	Kind          string         `mapstructure:"kind"`
	UserAgent     string         `mapstructure:"user_agent"`
	Timeout       time.Duration  `mapstructure:"timeout"`
	RespectRobots bool           `mapstructure:"respect_robots"`
	MaxBodySize   int            `mapstructure:"max_body_size"`
	Headless      HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the headless rendering downloader.
type HeadlessConfig struct {
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	// PromotionMinText is the visible text size below which the auto
	// downloader considers a script-heavy page client-rendered.
	PromotionMinText int `mapstructure:"promotion_min_text"`
}

// MiddlewareConfig toggles the stock downloader middlewares.
type MiddlewareConfig struct {
	Retry          RetryConfig       `mapstructure:"retry"`
	RateLimit      RateLimitConfig   `mapstructure:"rate_limit"`
	DefaultHeaders map[string]string `mapstructure:"default_headers"`
	// AllowedStatuses are error statuses passed to callbacks instead of failing.
	AllowedStatuses []int `mapstructure:"allowed_statuses"`
}

// RetryConfig configures retries of failed requests.
type RetryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	RetryCodes     []int         `mapstructure:"retry_codes"`
	PriorityAdjust int           `mapstructure:"priority_adjust"`
}

// RateLimitConfig configures per-host politeness.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// PipelineConfig declares the output stages. A stage is enabled when its
// destination is set.
type PipelineConfig struct {
	RequireFields []string        `mapstructure:"require_fields"`
	JSONL         jsonl.Config    `mapstructure:"jsonl"`
	GCS           gcs.Config      `mapstructure:"gcs"`
	Postgres      postgres.Config `mapstructure:"postgres"`
	PubSub        pubsub.Config   `mapstructure:"pubsub"`
}

// ServerConfig controls the status server. Empty Addr disables it.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLSCHED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.seeds", []string{})
	v.SetDefault("crawler.allowed_domains", []string{})
	v.SetDefault("crawler.deny_domains", []string{})
	v.SetDefault("crawler.max_depth", 1)
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.heartbeat_interval", "10s")
	v.SetDefault("crawler.priority_policy", "depth_first")
	v.SetDefault("downloader.kind", DownloaderColly)
	v.SetDefault("downloader.user_agent", "crawlsched/0.1")
	v.SetDefault("downloader.timeout", "15s")
	v.SetDefault("downloader.respect_robots", true)
	v.SetDefault("downloader.max_body_size", 10*1024*1024)
	v.SetDefault("downloader.headless.max_parallel", 2)
	v.SetDefault("downloader.headless.navigation_timeout", "45s")
	v.SetDefault("downloader.headless.settle_delay", "500ms")
	v.SetDefault("downloader.headless.promotion_min_text", 2048)
	v.SetDefault("middleware.retry.enabled", true)
	v.SetDefault("middleware.retry.max_attempts", 3)
	v.SetDefault("middleware.retry.base_delay", "250ms")
	v.SetDefault("middleware.retry.max_delay", "5s")
	v.SetDefault("middleware.retry.retry_codes", []int{408, 429, 500, 502, 503, 504})
	v.SetDefault("middleware.retry.priority_adjust", 0)
	v.SetDefault("middleware.rate_limit.enabled", true)
	v.SetDefault("middleware.rate_limit.rps", 2.0)
	v.SetDefault("middleware.rate_limit.burst", 1)
	v.SetDefault("middleware.allowed_statuses", []int{})
	v.SetDefault("pipeline.require_fields", []string{})
	v.SetDefault("pipeline.jsonl.path", "")
	v.SetDefault("pipeline.gcs.bucket", "")
	v.SetDefault("pipeline.gcs.prefix", "records")
	v.SetDefault("pipeline.postgres.dsn", "")
	v.SetDefault("pipeline.postgres.table", "crawl_records")
	v.SetDefault("pipeline.postgres.create_table", true)
	v.SetDefault("pipeline.postgres.max_conns", 4)
	v.SetDefault("pipeline.pubsub.project_id", "")
	v.SetDefault("pipeline.pubsub.topic", "")
	v.SetDefault("server.addr", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("crawler.concurrency must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("crawler.max_depth must be >= 0")
	}
	for _, seed := range c.Crawler.Seeds {
		u, err := url.Parse(seed)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("crawler.seeds: invalid url %q", seed)
		}
	}
	switch c.Crawler.PriorityPolicy {
	case "depth_first", "breadth_first":
	default:
		return fmt.Errorf("crawler.priority_policy must be depth_first or breadth_first, got %q", c.Crawler.PriorityPolicy)
	}
	switch c.Downloader.Kind {
	case DownloaderColly:
	case DownloaderHeadless, DownloaderAuto:
		if c.Downloader.Headless.MaxParallel <= 0 {
			return fmt.Errorf("downloader.headless.max_parallel must be > 0 for the %s downloader", c.Downloader.Kind)
		}
	default:
		return fmt.Errorf("downloader.kind must be %s, %s or %s, got %q",
			DownloaderColly, DownloaderHeadless, DownloaderAuto, c.Downloader.Kind)
	}
	if c.Downloader.Timeout <= 0 {
		return fmt.Errorf("downloader.timeout must be > 0")
	}
	if c.Middleware.Retry.Enabled && c.Middleware.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("middleware.retry.max_attempts must be > 0 when retry is enabled")
	}
	if c.Middleware.RateLimit.Enabled && c.Middleware.RateLimit.RPS < 0 {
		return fmt.Errorf("middleware.rate_limit.rps must be >= 0")
	}
	if c.Pipeline.PubSub.Topic != "" && c.Pipeline.PubSub.ProjectID == "" {
		return fmt.Errorf("pipeline.pubsub.project_id must be set when a topic is configured")
	}
	return nil
}
