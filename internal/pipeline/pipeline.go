// Package pipeline composes output stages that records pass through in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// ErrDropRecord is returned by a stage that deliberately discards a record.
var ErrDropRecord = errors.New("record dropped")

type stage struct {
	name  string
	proc  crawler.RecordProcessor
	open  crawler.Opener
	close crawler.Closer
}

// Pipeline runs records through every stage sequentially, feeding each
// stage the record returned by the previous one.
type Pipeline struct {
	stages []stage
}

// New detects the hooks each stage implements once.
func New(stages ...any) *Pipeline {
	p := &Pipeline{stages: make([]stage, 0, len(stages))}
	for _, s := range stages {
		if s == nil {
			continue
		}
		st := stage{name: fmt.Sprintf("%T", s)}
		st.proc, _ = s.(crawler.RecordProcessor)
		st.open, _ = s.(crawler.Opener)
		st.close, _ = s.(crawler.Closer)
		p.stages = append(p.stages, st)
	}
	return p
}

// Len returns the number of stages.
func (p *Pipeline) Len() int {
	return len(p.stages)
}

// Open runs stage open hooks in order and stops at the first failure.
func (p *Pipeline) Open(ctx context.Context) error {
	for _, s := range p.stages {
		if s.open == nil {
			continue
		}
		if err := s.open.Open(ctx); err != nil {
			return fmt.Errorf("open %s: %w", s.name, err)
		}
	}
	return nil
}

// Close runs every stage close hook once and joins their errors.
func (p *Pipeline) Close(ctx context.Context) error {
	var errs []error
	for _, s := range p.stages {
		if s.close == nil {
			continue
		}
		if err := s.close.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Process threads rec through the stages. A stage returning a nil record is
// treated as a drop.
func (p *Pipeline) Process(ctx context.Context, rec crawler.Record) (crawler.Record, error) {
	for _, s := range p.stages {
		if s.proc == nil {
			continue
		}
		out, err := s.proc.ProcessRecord(ctx, rec)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		if out == nil {
			return nil, fmt.Errorf("%s: %w", s.name, ErrDropRecord)
		}
		rec = out
	}
	return rec, nil
}
