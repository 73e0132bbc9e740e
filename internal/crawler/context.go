package crawler

import "context"

type runIDKey struct{}

// WithRunID returns a context carrying the crawl run ID.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFromContext returns the crawl run ID, or "" outside a crawl.
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
