package crawler

import (
	"context"
	"iter"
	"maps"
	"net/http"
	"sync"
	"time"
)

// Callback turns a downloaded response into follow-up requests and records.
type Callback func(ctx context.Context, resp *Response) (Seq, error)

// Request describes one unit of crawl work.
type Request struct {
	URL        string
	Method     string
	Header     http.Header
	Body       []byte
	Callback   Callback
	DontFilter bool
	Depth      int
	Meta       map[string]any

	priority    int
	prioritySet bool

	fpOnce sync.Once
	fp     string
}

// NewRequest builds a GET request handled by cb.
func NewRequest(url string, cb Callback) *Request {
	return &Request{
		URL:      url,
		Method:   http.MethodGet,
		Header:   make(http.Header),
		Callback: cb,
	}
}

// Priority returns the request priority. Lower values run first.
func (r *Request) Priority() int {
	return r.priority
}

// HasPriority reports whether the priority was set explicitly.
func (r *Request) HasPriority() bool {
	return r.prioritySet
}

// WithPriority sets an explicit priority and returns the request.
func (r *Request) WithPriority(p int) *Request {
	r.priority = p
	r.prioritySet = true
	return r
}

// DefaultPriority assigns p unless a priority was set explicitly.
func (r *Request) DefaultPriority(p int) {
	if r.prioritySet {
		return
	}
	r.priority = p
}

// Fingerprint computes the dedup key once and memoizes it.
func (r *Request) Fingerprint(f Fingerprinter) string {
	r.fpOnce.Do(func() {
		r.fp = f.Fingerprint(r)
	})
	return r.fp
}

// Copy returns an independent request with an unassigned fingerprint.
func (r *Request) Copy() *Request {
	out := &Request{
		URL:         r.URL,
		Method:      r.Method,
		Header:      r.Header.Clone(),
		Body:        append([]byte(nil), r.Body...),
		Callback:    r.Callback,
		DontFilter:  r.DontFilter,
		Depth:       r.Depth,
		Meta:        maps.Clone(r.Meta),
		priority:    r.priority,
		prioritySet: r.prioritySet,
	}
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	return out
}

// MetaInt reads an integer meta value, returning 0 when absent.
func (r *Request) MetaInt(key string) int {
	v, ok := r.Meta[key].(int)
	if !ok {
		return 0
	}
	return v
}

// SetMeta stores a meta value, allocating the map on first use.
func (r *Request) SetMeta(key string, value any) {
	if r.Meta == nil {
		r.Meta = make(map[string]any)
	}
	r.Meta[key] = value
}

// Response is the downloaded result of a Request.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	// Request is the request that produced this response.
	Request *Request
}

// Record is a caller-defined structured item extracted from a page.
type Record map[string]any

// Result is one element produced by a callback or seed source: a *Request,
// a Record, or a nested Seq.
type Result interface {
	isResult()
}

func (*Request) isResult() {}
func (Record) isResult()   {}
func (Seq) isResult()      {}

// Seq is a lazy, single-use sequence of results. A non-nil error ends the
// sequence from the consumer's point of view.
type Seq iter.Seq2[Result, error]

// Results returns a Seq yielding items in order.
func Results(items ...Result) Seq {
	return func(yield func(Result, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Fail returns a Seq that yields err and nothing else.
func Fail(err error) Seq {
	return func(yield func(Result, error) bool) {
		yield(nil, err)
	}
}

// ActionKind tells the middleware chain how to proceed after a hook.
type ActionKind int

// Hook outcomes.
const (
	ActionContinue ActionKind = iota
	ActionRespond
	ActionReschedule
)

// Action is the outcome of a middleware hook.
type Action struct {
	Kind     ActionKind
	Response *Response
	Request  *Request
}

// Continue keeps the current phase going with the next middleware.
func Continue() Action {
	return Action{Kind: ActionContinue}
}

// Respond supplies a response, either short-circuiting the download or
// replacing the current one.
func Respond(resp *Response) Action {
	return Action{Kind: ActionRespond, Response: resp}
}

// Reschedule abandons the current download and submits req instead.
func Reschedule(req *Request) Action {
	return Action{Kind: ActionReschedule, Request: req}
}
