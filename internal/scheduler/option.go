package scheduler

import (
	"time"

	"go.uber.org/zap"

	dedupmemory "github.com/JakeFAU/crawl-scheduler/internal/dedup/memory"
	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
	"github.com/JakeFAU/crawl-scheduler/internal/hash/sha256"
	"github.com/JakeFAU/crawl-scheduler/internal/id/uuid"
	queuememory "github.com/JakeFAU/crawl-scheduler/internal/queue/memory"
)

type options struct {
	logger        *zap.Logger
	middlewares   []any
	stages        []any
	fingerprinter crawler.Fingerprinter
	newQueue      func() (crawler.WorkQueue, error)
	newDedup      func() crawler.DedupSet
	priority      PriorityPolicy
	heartbeat     time.Duration
	ids           crawler.IDGenerator
}

var defaultOptions = options{
	logger:        zap.NewNop(),
	fingerprinter: sha256.New(),
	newQueue:      queuememory.New,
	newDedup:      dedupmemory.New,
	priority:      DepthFirst,
	heartbeat:     10 * time.Second,
	ids:           uuid.New(),
}

// Option configures a Scheduler.
type Option func(opts *options)

// WithLogger sets the logger. Each run adds a run_id field.
func WithLogger(logger *zap.Logger) Option {
	return func(opts *options) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithMiddlewares sets the downloader middlewares, in chain order.
func WithMiddlewares(middlewares ...any) Option {
	return func(opts *options) {
		opts.middlewares = middlewares
	}
}

// WithStages sets the output pipeline stages, in processing order.
func WithStages(stages ...any) Option {
	return func(opts *options) {
		opts.stages = stages
	}
}

// WithFingerprinter replaces the SHA-256 request fingerprinter.
func WithFingerprinter(f crawler.Fingerprinter) Option {
	return func(opts *options) {
		opts.fingerprinter = f
	}
}

// WithQueueFactory sets how each run builds its work queue.
func WithQueueFactory(f func() (crawler.WorkQueue, error)) Option {
	return func(opts *options) {
		opts.newQueue = f
	}
}

// WithDedupFactory sets how each run builds its dedup set.
func WithDedupFactory(f func() crawler.DedupSet) Option {
	return func(opts *options) {
		opts.newDedup = f
	}
}

// WithPriorityPolicy sets the default priority for requests without one.
func WithPriorityPolicy(p PriorityPolicy) Option {
	return func(opts *options) {
		opts.priority = p
	}
}

// WithHeartbeat sets how often progress is reported. Zero disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(opts *options) {
		opts.heartbeat = d
	}
}

// WithIDGenerator sets the run ID source.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(opts *options) {
		opts.ids = ids
	}
}
