// Package promote combines a fast HTTP downloader with a headless browser,
// re-fetching only the pages a detector flags as client-rendered.
package promote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
	"github.com/JakeFAU/crawl-scheduler/internal/metrics"
)

// Detector decides whether a probed response needs a browser render.
type Detector interface {
	NeedsRender(resp *crawler.Response) bool
}

// Downloader fetches with probe and promotes to render when the detector
// asks for it. A failed render falls back to the probe response.
type Downloader struct {
	probe    crawler.Downloader
	render   crawler.Downloader
	detector Detector
	logger   *zap.Logger
}

// New builds a promoting downloader. A nil detector uses NewHeuristic(0).
func New(probe, render crawler.Downloader, detector Detector, logger *zap.Logger) (*Downloader, error) {
	if probe == nil || render == nil {
		return nil, errors.New("probe and render downloaders are required")
	}
	if detector == nil {
		detector = NewHeuristic(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{probe: probe, render: render, detector: detector, logger: logger}, nil
}

// Fetch implements crawler.Downloader.
func (d *Downloader) Fetch(ctx context.Context, req *crawler.Request) (*crawler.Response, error) {
	resp, err := d.probe.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return resp, nil
	}
	if !d.detector.NeedsRender(resp) {
		return resp, nil
	}

	metrics.IncHeadlessPromotions()
	d.logger.Debug("promoting to headless render", zap.String("url", req.URL))
	rendered, err := d.render.Fetch(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("render %s: %w", req.URL, err)
		}
		d.logger.Warn("headless render failed, keeping probe response",
			zap.String("url", req.URL),
			zap.Error(err),
		)
		return resp, nil
	}
	return rendered, nil
}

// Close closes both downloaders.
func (d *Downloader) Close() error {
	var errs []error
	for _, dl := range []crawler.Downloader{d.probe, d.render} {
		if c, ok := dl.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
