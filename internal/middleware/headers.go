package middleware

import (
	"context"
	"net/http"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// DefaultHeaders fills in headers a request does not already carry.
type DefaultHeaders struct {
	headers http.Header
}

// NewDefaultHeaders sets User-Agent (when non-empty) plus the given headers.
func NewDefaultHeaders(userAgent string, headers map[string]string) *DefaultHeaders {
	h := make(http.Header, len(headers)+1)
	for k, v := range headers {
		h.Set(k, v)
	}
	if userAgent != "" {
		h.Set("User-Agent", userAgent)
	}
	return &DefaultHeaders{headers: h}
}

// ProcessRequest copies missing defaults onto req.
func (d *DefaultHeaders) ProcessRequest(_ context.Context, req *crawler.Request) (crawler.Action, error) {
	if req.Header == nil {
		req.Header = make(http.Header, len(d.headers))
	}
	for k, v := range d.headers {
		if req.Header.Get(k) == "" {
			req.Header[k] = append([]string(nil), v...)
		}
	}
	return crawler.Continue(), nil
}
