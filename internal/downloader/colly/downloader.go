// Package collydownloader implements crawler.Downloader using gocolly.
package collydownloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	MaxBodySize   int
}

// Downloader implements crawler.Downloader using the Colly collector.
type Downloader struct {
	cfg           Config
	transport     *http.Transport
	robots        *robotsProbeState
	baseCollector *colly.Collector
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Downloader.
func New(cfg Config, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	// Retries and dont_filter requests revisit URLs; dedup belongs to the scheduler.
	c.AllowURLRevisit = true
	// Error statuses are delivered as responses and judged by middleware.
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}

	transport := newHTTPTransport()
	d := &Downloader{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
		logger:        logger,
	}
	// Clones share the collector backend, so the transport is installed once.
	if cfg.RespectRobots {
		d.robots = newRobotsProbeState()
		c.WithTransport(&robotsAwareTransport{base: transport, state: d.robots})
	} else {
		c.WithTransport(transport)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	c.SetRequestTimeout(timeout)
	return d
}

// Fetch executes req using a per-request clone of the base collector.
func (d *Downloader) Fetch(ctx context.Context, req *crawler.Request) (*crawler.Response, error) {
	var (
		result   crawler.Response
		fetchErr error
		received bool
	)
	start := time.Now()
	collector := d.buildCollector(start, &result, &received, &fetchErr)

	if err := d.runCollector(ctx, collector, req, &fetchErr); err != nil {
		return nil, err
	}
	if reason, ok := d.robots.indeterminate(crawler.Hostname(req.URL)); ok {
		d.logger.Debug("robots.txt unreachable, assuming allow-all",
			zap.String("url", req.URL),
			zap.String("reason", reason))
	}
	if !received {
		return nil, fmt.Errorf("colly fetch %s: no response received", req.URL)
	}
	result.Request = req
	return &result, nil
}

func (d *Downloader) buildCollector(
	start time.Time,
	result *crawler.Response,
	received *bool,
	fetchErr *error,
) *colly.Collector {
	collector := d.baseCollector.Clone()
	if d.cfg.UserAgent != "" {
		collector.UserAgent = d.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !d.cfg.RespectRobots

	configureCollectorHooks(collector, start, result, received, fetchErr)
	return collector
}

func configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.Response,
	received *bool,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		if r.Headers != nil {
			result.Header = r.Headers.Clone()
		}
		*received = true
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (d *Downloader) runCollector(ctx context.Context, collector *colly.Collector, req *crawler.Request, fetchErr *error) error {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	header := req.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}

	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method, req.URL, body, nil, header)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

// Close releases idle connections.
func (d *Downloader) Close() error {
	d.transport.CloseIdleConnections()
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
