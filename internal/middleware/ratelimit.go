package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
	"github.com/JakeFAU/crawl-scheduler/internal/metrics"
)

// RateLimitConfig holds per-host token bucket settings.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// RateLimit delays requests so each host sees at most RPS requests per second.
type RateLimit struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimit creates the middleware. RPS <= 0 disables limiting.
func NewRateLimit(cfg RateLimitConfig) *RateLimit {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimit{
		limiters: make(map[string]*rate.Limiter),
		limit:    r,
		burst:    burst,
	}
}

// Open discards buckets left over from a previous crawl.
func (l *RateLimit) Open(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters = make(map[string]*rate.Limiter)
	return nil
}

// ProcessRequest blocks until a token is available for the request host.
func (l *RateLimit) ProcessRequest(ctx context.Context, req *crawler.Request) (crawler.Action, error) {
	host := crawler.Hostname(req.URL)
	if host == "" {
		host = "unknown"
	}

	start := time.Now()
	if err := l.limiter(host).Wait(ctx); err != nil {
		return crawler.Action{}, fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return crawler.Continue(), nil
}

func (l *RateLimit) limiter(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = lim
	}
	return lim
}
