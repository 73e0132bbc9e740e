// Package scheduler drives a crawl: it owns the work queue and the dedup set,
// runs a fixed pool of workers that push requests through the middleware
// chain and the downloader, hands responses to callbacks and routes what the
// callbacks produce back into the queue or through the output pipeline.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
	"github.com/JakeFAU/crawl-scheduler/internal/metrics"
	"github.com/JakeFAU/crawl-scheduler/internal/middleware"
	"github.com/JakeFAU/crawl-scheduler/internal/pipeline"
)

var (
	// ErrAlreadyRunning is returned when Crawl is called on a busy scheduler.
	ErrAlreadyRunning = errors.New("scheduler: crawl already running")
	// ErrInvalidConcurrency is returned for a worker count below one.
	ErrInvalidConcurrency = errors.New("scheduler: concurrency must be positive")
	// ErrTerminalFailure marks a request whose failure no middleware recovered.
	ErrTerminalFailure = errors.New("terminal request failure")
	// ErrRescheduled is returned by DownloadRequest when a middleware
	// replaced the request with a new one.
	ErrRescheduled = errors.New("request rescheduled")
)

// Scheduler coordinates crawl runs. A Scheduler runs at most one crawl at a
// time but may be reused for sequential crawls.
type Scheduler struct {
	downloader crawler.Downloader
	chain      *middleware.Chain
	pipeline   *pipeline.Pipeline
	opts       options

	running atomic.Bool
	mu      sync.RWMutex
	current *run
}

// New builds a scheduler around downloader.
func New(downloader crawler.Downloader, opts ...Option) *Scheduler {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.priority == nil {
		o.priority = DepthFirst
	}
	return &Scheduler{
		downloader: downloader,
		chain:      middleware.NewChain(o.middlewares...),
		pipeline:   pipeline.New(o.stages...),
		opts:       o,
	}
}

// Run crawls starting from the spider's seed requests.
func (s *Scheduler) Run(ctx context.Context, spider crawler.Spider, concurrency int) error {
	return s.Crawl(ctx, spider.StartRequests(ctx), concurrency)
}

// Crawl processes seeds and everything reachable from them with concurrency
// workers. It returns once the queue drains, ctx is canceled or a lifecycle
// hook fails. Individual request failures never end the crawl.
func (s *Scheduler) Crawl(ctx context.Context, seeds crawler.Seq, concurrency int) (err error) {
	if concurrency <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidConcurrency, concurrency)
	}
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	r, err := s.newRun()
	if err != nil {
		return err
	}
	s.setCurrent(r)

	workCtx, cancel := context.WithCancel(crawler.WithRunID(ctx, r.id))
	group, groupCtx := errgroup.WithContext(workCtx)

	defer func() {
		cancel()
		if waitErr := group.Wait(); waitErr != nil && err == nil {
			err = waitErr
		}
		r.active.Store(false)
		s.teardown(context.WithoutCancel(ctx), r)
		r.logger.Info("crawl finished", r.snapshot().fields()...)
	}()

	r.logger.Info("crawl starting",
		zap.Int("concurrency", concurrency),
		zap.Int("middlewares", s.chain.Len()),
		zap.Int("stages", s.pipeline.Len()))

	if err := s.pipeline.Open(ctx); err != nil {
		return fmt.Errorf("open output stages: %w", err)
	}
	if err := s.chain.Open(ctx); err != nil {
		return fmt.Errorf("open middlewares: %w", err)
	}

	s.processResults(groupCtx, r, seeds, nil)

	for i := 0; i < concurrency; i++ {
		group.Go(func() error {
			s.worker(groupCtx, r)
			return nil
		})
	}
	if s.opts.heartbeat > 0 {
		group.Go(func() error {
			s.heartbeat(groupCtx, r)
			return nil
		})
	}

	if err := r.queue.Join(groupCtx); err != nil {
		return fmt.Errorf("wait for crawl: %w", err)
	}
	return nil
}

func (s *Scheduler) newRun() (*run, error) {
	id, err := s.opts.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	r := &run{
		id:        id,
		startedAt: time.Now().UTC(),
		logger:    s.opts.logger.With(zap.String("run_id", id)),
		dedup:     s.opts.newDedup(),
	}
	r.active.Store(true)

	r.queue, err = s.opts.newQueue()
	if err != nil {
		r.active.Store(false)
		s.teardown(context.Background(), r)
		return nil, fmt.Errorf("create work queue: %w", err)
	}
	return r, nil
}

// teardown runs the close hooks and releases the downloader. Failures are
// logged, never returned.
func (s *Scheduler) teardown(ctx context.Context, r *run) {
	if err := s.pipeline.Close(ctx); err != nil {
		r.logger.Warn("close output stages", zap.Error(err))
	}
	if err := s.chain.Close(ctx); err != nil {
		r.logger.Warn("close middlewares", zap.Error(err))
	}
	if closer, ok := s.downloader.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			r.logger.Warn("close downloader", zap.Error(err))
		}
	}
}

func (s *Scheduler) setCurrent(r *run) {
	s.mu.Lock()
	s.current = r
	s.mu.Unlock()
}

func (s *Scheduler) currentRun() *run {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Stats reports the current or most recent run. The zero value is returned
// before the first crawl.
func (s *Scheduler) Stats() Stats {
	r := s.currentRun()
	if r == nil {
		return Stats{}
	}
	return r.snapshot()
}

// Running reports whether a crawl is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Submit enqueues req unless an equivalent request was already seen. parent
// is the response req was produced from, or nil. It reports whether the
// request was enqueued. Submit is a no-op outside a crawl.
func (s *Scheduler) Submit(req *crawler.Request, parent *crawler.Response) bool {
	r := s.currentRun()
	if r == nil || !r.active.Load() {
		return false
	}
	return s.submit(r, req, parent)
}

func (s *Scheduler) submit(r *run, req *crawler.Request, parent *crawler.Response) bool {
	// Rejected requests are left untouched.
	if !req.DontFilter {
		if !r.dedup.Add(req.Fingerprint(s.opts.fingerprinter)) {
			r.filtered.Add(1)
			metrics.IncRequestsFiltered()
			r.logger.Debug("duplicate request filtered", zap.String("url", req.URL))
			return false
		}
	}
	if parent != nil && parent.Request != nil {
		req.Depth = parent.Request.Depth + 1
	}
	req.DefaultPriority(s.opts.priority(parent))
	r.queue.Put(req)
	return true
}

// ProcessResults drains seq, enqueuing requests and sending records through
// the output pipeline. It is a no-op outside a crawl.
func (s *Scheduler) ProcessResults(ctx context.Context, seq crawler.Seq, parent *crawler.Response) {
	r := s.currentRun()
	if r == nil || !r.active.Load() {
		return
	}
	s.processResults(ctx, r, seq, parent)
}

func (s *Scheduler) processResults(ctx context.Context, r *run, seq crawler.Seq, parent *crawler.Response) {
	defer func() {
		if p := recover(); p != nil {
			r.callbackFailures.Add(1)
			metrics.IncCallbackFailures()
			r.logger.Error("result sequence panicked",
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	s.drain(ctx, r, seq, parent)
}

// drain reports false when the sequence had to stop early.
func (s *Scheduler) drain(ctx context.Context, r *run, seq crawler.Seq, parent *crawler.Response) bool {
	if seq == nil {
		return true
	}
	for item, err := range seq {
		if err != nil {
			r.callbackFailures.Add(1)
			metrics.IncCallbackFailures()
			r.logger.Error("result sequence failed", zap.String("parent", parentURL(parent)), zap.Error(err))
			return false
		}
		switch v := item.(type) {
		case *crawler.Request:
			if v == nil {
				s.unknownResult(r, item)
				continue
			}
			s.submit(r, v, parent)
		case crawler.Record:
			if !s.emit(ctx, r, v) {
				return false
			}
		case crawler.Seq:
			if !s.drain(ctx, r, v, parent) {
				return false
			}
		default:
			s.unknownResult(r, item)
		}
	}
	return true
}

func (s *Scheduler) emit(ctx context.Context, r *run, rec crawler.Record) bool {
	_, err := s.pipeline.Process(ctx, rec)
	switch {
	case errors.Is(err, pipeline.ErrDropRecord):
		r.dropped.Add(1)
		metrics.IncRecordsDropped()
		r.logger.Debug("record dropped", zap.Error(err))
		return true
	case err != nil:
		r.pipelineFailures.Add(1)
		r.logger.Error("output pipeline failed", zap.Error(err))
		return false
	default:
		r.emitted.Add(1)
		metrics.IncRecordsEmitted()
		return true
	}
}

func (s *Scheduler) unknownResult(r *run, item crawler.Result) {
	r.unknown.Add(1)
	r.logger.Warn("ignoring unsupported result", zap.String("type", fmt.Sprintf("%T", item)))
}

// DownloadRequest pushes req through the middleware chain and the
// downloader. A rescheduled request is enqueued and ErrRescheduled returned.
func (s *Scheduler) DownloadRequest(ctx context.Context, req *crawler.Request) (*crawler.Response, error) {
	r := s.currentRun()
	if r == nil {
		return nil, errors.New("scheduler: no crawl in progress")
	}
	return s.download(ctx, r, req)
}

func (s *Scheduler) download(ctx context.Context, r *run, req *crawler.Request) (*crawler.Response, error) {
	resp, next, err := s.chain.Execute(ctx, req, s.downloader)
	switch {
	case next != nil:
		s.processResults(ctx, r, crawler.Results(next), nil)
		return nil, ErrRescheduled
	case err != nil:
		r.terminal.Add(1)
		metrics.IncTerminalFailures()
		r.logger.Warn("request failed", zap.String("url", req.URL), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrTerminalFailure, req.URL, err)
	}
	if resp.Request == nil {
		resp.Request = req
	}
	metrics.ObserveFetch(resp.URL, resp.StatusCode, len(resp.Body), resp.Duration)
	return resp, nil
}

func (s *Scheduler) worker(ctx context.Context, r *run) {
	for {
		req, err := r.queue.Get(ctx)
		if err != nil {
			return
		}
		s.handle(ctx, r, req)
	}
}

func (s *Scheduler) handle(ctx context.Context, r *run, req *crawler.Request) {
	r.inFlight.Add(1)
	metrics.IncActiveWorkers()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("worker panicked",
				zap.String("url", req.URL),
				zap.Any("panic", p),
				zap.ByteString("stack", debug.Stack()))
		}
		r.inFlight.Add(-1)
		metrics.DecActiveWorkers()
		r.processed.Add(1)
		metrics.IncRequestsProcessed()
		if err := r.queue.MarkDone(); err != nil {
			r.logger.Error("mark request done", zap.Error(err))
		}
	}()

	resp, err := s.download(ctx, r, req)
	if err != nil {
		return
	}
	if req.Callback == nil {
		return
	}
	seq, err := invoke(ctx, req.Callback, resp)
	if err != nil {
		r.callbackFailures.Add(1)
		metrics.IncCallbackFailures()
		r.logger.Error("callback failed", zap.String("url", req.URL), zap.Error(err))
		return
	}
	s.processResults(ctx, r, seq, resp)
}

func invoke(ctx context.Context, cb crawler.Callback, resp *crawler.Response) (seq crawler.Seq, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("callback panic: %v\n%s", p, debug.Stack())
		}
	}()
	return cb(ctx, resp)
}

func (s *Scheduler) heartbeat(ctx context.Context, r *run) {
	ticker := time.NewTicker(s.opts.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := r.snapshot()
			metrics.SetQueueState(st.QueueDepth, st.Outstanding)
			r.logger.Info("crawl progress", st.fields()...)
		}
	}
}

func parentURL(parent *crawler.Response) string {
	if parent == nil {
		return ""
	}
	return parent.URL
}
