package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// HTTPStatusError reports a response whose status was not accepted.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d %s", e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// StatusFilter turns responses with status >= 400 into errors so later
// middlewares and the terminal-failure accounting see them.
type StatusFilter struct {
	allowed map[int]struct{}
}

// NewStatusFilter returns a filter that lets the given error statuses through.
func NewStatusFilter(allowed ...int) *StatusFilter {
	f := &StatusFilter{allowed: make(map[int]struct{}, len(allowed))}
	for _, code := range allowed {
		f.allowed[code] = struct{}{}
	}
	return f
}

// ProcessResponse rejects unexpected statuses.
func (f *StatusFilter) ProcessResponse(_ context.Context, req *crawler.Request, resp *crawler.Response) (crawler.Action, error) {
	if resp.StatusCode < http.StatusBadRequest {
		return crawler.Continue(), nil
	}
	if _, ok := f.allowed[resp.StatusCode]; ok {
		return crawler.Continue(), nil
	}
	return crawler.Action{}, &HTTPStatusError{URL: req.URL, StatusCode: resp.StatusCode}
}
