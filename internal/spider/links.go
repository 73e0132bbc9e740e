// Package spider provides the link-following spider used by the crawl command.
package spider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// Record fields produced by Links.
const (
	FieldURL       = "url"
	FieldStatus    = "status"
	FieldTitle     = "title"
	FieldDepth     = "depth"
	FieldFetchedAt = "fetched_at"
	FieldRunID     = "run_id"
	FieldLinks     = "links"
)

// Config scopes a Links crawl.
type Config struct {
	Seeds          []string
	AllowedDomains []string
	// DenyDomains wins over AllowedDomains.
	DenyDomains []string
	// MaxDepth is the deepest level links are followed to. Seeds are depth 0.
	MaxDepth int
}

// Links fetches the seeds, emits one record per HTML page and follows
// in-scope anchors until MaxDepth.
type Links struct {
	cfg     Config
	allowed []string
	denied  *denylist
	clock   crawler.Clock
	logger  *zap.Logger
}

// Option configures a Links spider.
type Option func(l *Links)

// WithClock overrides the time source for fetched_at.
func WithClock(c crawler.Clock) Option {
	return func(l *Links) {
		if c != nil {
			l.clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Links) {
		if logger != nil {
			l.logger = logger
		}
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewLinks validates cfg and builds the spider. With no allowed domains the
// crawl is confined to the seed hosts.
func NewLinks(cfg Config, opts ...Option) (*Links, error) {
	if len(cfg.Seeds) == 0 {
		return nil, errors.New("at least one seed url is required")
	}
	if cfg.MaxDepth < 0 {
		return nil, fmt.Errorf("max depth must be >= 0, got %d", cfg.MaxDepth)
	}
	l := &Links{
		cfg:    cfg,
		denied: newDenylist(cfg.DenyDomains),
		clock:  systemClock{},
		logger: zap.NewNop(),
	}
	for _, seed := range cfg.Seeds {
		u, err := url.Parse(seed)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid seed url %q", seed)
		}
		if len(cfg.AllowedDomains) == 0 {
			l.allowed = append(l.allowed, strings.ToLower(u.Hostname()))
		}
	}
	for _, d := range cfg.AllowedDomains {
		l.allowed = append(l.allowed, strings.ToLower(strings.TrimPrefix(d, ".")))
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// StartRequests yields one request per seed.
func (l *Links) StartRequests(context.Context) crawler.Seq {
	return func(yield func(crawler.Result, error) bool) {
		for _, seed := range l.cfg.Seeds {
			if !yield(crawler.NewRequest(seed, l.Parse), nil) {
				return
			}
		}
	}
}

// Parse is the page callback. It yields the page record first, then the
// follow-up requests, parsing nothing until the scheduler starts pulling.
func (l *Links) Parse(ctx context.Context, resp *crawler.Response) (crawler.Seq, error) {
	if !isHTML(resp) {
		l.logger.Debug("skipping non-html response", zap.String("url", resp.URL))
		return nil, nil
	}
	depth := 0
	if resp.Request != nil {
		depth = resp.Request.Depth
	}
	return func(yield func(crawler.Result, error) bool) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			yield(nil, fmt.Errorf("parse html %s: %w", resp.URL, err))
			return
		}

		links := l.links(doc, resp.URL)
		rec := crawler.Record{
			FieldURL:       resp.URL,
			FieldStatus:    resp.StatusCode,
			FieldTitle:     strings.TrimSpace(doc.Find("title").First().Text()),
			FieldDepth:     depth,
			FieldFetchedAt: l.clock.Now(),
			FieldRunID:     crawler.RunIDFromContext(ctx),
			FieldLinks:     len(links),
		}
		if !yield(rec, nil) {
			return
		}

		if depth >= l.cfg.MaxDepth {
			return
		}
		for _, link := range links {
			if ctx.Err() != nil {
				return
			}
			if !yield(crawler.NewRequest(link, l.Parse), nil) {
				return
			}
		}
	}, nil
}

// links returns the distinct in-scope absolute links on the page, in
// document order.
func (l *Links) links(doc *goquery.Document, base string) []string {
	seen := make(map[string]struct{})
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		abs, err := crawler.ResolveURL(base, href)
		if err != nil {
			return
		}
		if !l.inScope(abs) {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	})
	return out
}

func (l *Links) inScope(rawURL string) bool {
	host := crawler.Hostname(rawURL)
	if host == "" || l.denied.denies(host) {
		return false
	}
	for _, d := range l.allowed {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func isHTML(resp *crawler.Response) bool {
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		return true
	}
	return strings.Contains(ct, "html")
}
