package pipeline

import (
	"context"
	"fmt"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// RequireFields drops records that lack any of the listed keys.
type RequireFields struct {
	fields []string
}

// NewRequireFields builds the stage.
func NewRequireFields(fields ...string) *RequireFields {
	return &RequireFields{fields: fields}
}

// ProcessRecord passes rec through unchanged when every field is present.
func (r *RequireFields) ProcessRecord(_ context.Context, rec crawler.Record) (crawler.Record, error) {
	for _, f := range r.fields {
		if v, ok := rec[f]; !ok || v == nil {
			return nil, fmt.Errorf("missing field %q: %w", f, ErrDropRecord)
		}
	}
	return rec, nil
}
