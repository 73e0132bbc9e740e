package scheduler

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// Stats is a point-in-time snapshot of a crawl run. Reporting only.
type Stats struct {
	RunID             string    `json:"run_id"`
	Running           bool      `json:"running"`
	StartedAt         time.Time `json:"started_at"`
	RequestsProcessed int64     `json:"requests_processed"`
	RecordsEmitted    int64     `json:"records_emitted"`
	RecordsDropped    int64     `json:"records_dropped"`
	RequestsFiltered  int64     `json:"requests_filtered"`
	TerminalFailures  int64     `json:"terminal_failures"`
	CallbackFailures  int64     `json:"callback_failures"`
	PipelineFailures  int64     `json:"pipeline_failures"`
	UnknownResults    int64     `json:"unknown_results"`
	InFlight          int64     `json:"in_flight"`
	QueueDepth        int       `json:"queue_depth"`
	Outstanding       int       `json:"outstanding"`
	Seen              int       `json:"seen"`
}

// run is the state owned by one Crawl invocation.
type run struct {
	id        string
	startedAt time.Time
	logger    *zap.Logger
	active    atomic.Bool

	queue crawler.WorkQueue
	dedup crawler.DedupSet

	processed        atomic.Int64
	emitted          atomic.Int64
	dropped          atomic.Int64
	filtered         atomic.Int64
	terminal         atomic.Int64
	callbackFailures atomic.Int64
	pipelineFailures atomic.Int64
	unknown          atomic.Int64
	inFlight         atomic.Int64
}

func (r *run) snapshot() Stats {
	st := Stats{
		RunID:             r.id,
		Running:           r.active.Load(),
		StartedAt:         r.startedAt,
		RequestsProcessed: r.processed.Load(),
		RecordsEmitted:    r.emitted.Load(),
		RecordsDropped:    r.dropped.Load(),
		RequestsFiltered:  r.filtered.Load(),
		TerminalFailures:  r.terminal.Load(),
		CallbackFailures:  r.callbackFailures.Load(),
		PipelineFailures:  r.pipelineFailures.Load(),
		UnknownResults:    r.unknown.Load(),
		InFlight:          r.inFlight.Load(),
	}
	if r.queue != nil {
		st.QueueDepth = r.queue.Len()
		st.Outstanding = r.queue.Outstanding()
	}
	if r.dedup != nil {
		st.Seen = r.dedup.Len()
	}
	return st
}

func (st Stats) fields() []zap.Field {
	return []zap.Field{
		zap.Int64("requests_processed", st.RequestsProcessed),
		zap.Int64("records_emitted", st.RecordsEmitted),
		zap.Int64("records_dropped", st.RecordsDropped),
		zap.Int64("requests_filtered", st.RequestsFiltered),
		zap.Int64("terminal_failures", st.TerminalFailures),
		zap.Int64("callback_failures", st.CallbackFailures),
		zap.Int64("in_flight", st.InFlight),
		zap.Int("queue_depth", st.QueueDepth),
		zap.Int("outstanding", st.Outstanding),
	}
}
