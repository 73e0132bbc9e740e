package middleware

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// Meta keys written by Retry.
const (
	MetaRetryTimes = "retry_times"
	MetaRetryDelay = "retry_delay"
)

// RetryConfig tunes the Retry middleware.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	RetryCodes  []int
	// PriorityAdjust is added to the priority of a retried request.
	PriorityAdjust int
}

// Retry re-submits failed requests as fresh, unfiltered copies.
type Retry struct {
	policy RetryPolicy
	adjust int
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetry builds the middleware with an ExponentialRetryPolicy.
func NewRetry(cfg RetryConfig, logger *zap.Logger) *Retry {
	return NewRetryWithPolicy(
		NewExponentialRetryPolicy(cfg.MaxAttempts, cfg.BaseDelay, cfg.MaxDelay, cfg.RetryCodes),
		cfg.PriorityAdjust,
		logger,
	)
}

// NewRetryWithPolicy builds the middleware around an arbitrary policy.
func NewRetryWithPolicy(policy RetryPolicy, priorityAdjust int, logger *zap.Logger) *Retry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retry{
		policy: policy,
		adjust: priorityAdjust,
		logger: logger,
		sleep:  sleepContext,
	}
}

// ProcessRequest waits out the backoff recorded on a retried request.
func (r *Retry) ProcessRequest(ctx context.Context, req *crawler.Request) (crawler.Action, error) {
	delay, ok := req.Meta[MetaRetryDelay].(time.Duration)
	if !ok || delay <= 0 {
		return crawler.Continue(), nil
	}
	delete(req.Meta, MetaRetryDelay)
	if err := r.sleep(ctx, delay); err != nil {
		return crawler.Action{}, err
	}
	return crawler.Continue(), nil
}

// ProcessException reschedules a copy of req while the policy allows it.
func (r *Retry) ProcessException(_ context.Context, req *crawler.Request, err error) (crawler.Action, error) {
	attempt := req.MetaInt(MetaRetryTimes)
	if !r.policy.ShouldRetry(err, attempt+1) {
		if attempt > 0 {
			r.logger.Warn("giving up on request",
				zap.String("url", req.URL),
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
		}
		return crawler.Continue(), nil
	}

	retry := req.Copy()
	retry.DontFilter = true
	retry.SetMeta(MetaRetryTimes, attempt+1)
	retry.SetMeta(MetaRetryDelay, r.policy.Backoff(attempt))
	retry.WithPriority(req.Priority() + r.adjust)

	r.logger.Debug("retrying request",
		zap.String("url", req.URL),
		zap.Int("attempt", attempt+1),
		zap.Error(err),
	)
	return crawler.Reschedule(retry), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
