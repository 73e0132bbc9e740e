package crawler

import (
	"context"
	"time"
)

// Fingerprinter derives the dedup key for a request.
type Fingerprinter interface {
	Fingerprint(req *Request) string
}

// WorkQueue is the pending-work frontier with outstanding-work accounting.
type WorkQueue interface {
	Put(req *Request)
	Get(ctx context.Context) (*Request, error)
	MarkDone() error
	Join(ctx context.Context) error
	Len() int
	Outstanding() int
}

// DedupSet remembers which fingerprints have been admitted.
type DedupSet interface {
	// Add inserts fp and reports whether it was absent.
	Add(fp string) bool
	Len() int
}

// Downloader fetches a request. Implementations may also implement io.Closer.
type Downloader interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// RequestProcessor runs before the download.
type RequestProcessor interface {
	ProcessRequest(ctx context.Context, req *Request) (Action, error)
}

// ResponseProcessor runs after a successful download.
type ResponseProcessor interface {
	ProcessResponse(ctx context.Context, req *Request, resp *Response) (Action, error)
}

// ExceptionProcessor runs after a failed download or failed hook.
type ExceptionProcessor interface {
	ProcessException(ctx context.Context, req *Request, err error) (Action, error)
}

// RecordProcessor transforms a record on its way out.
type RecordProcessor interface {
	ProcessRecord(ctx context.Context, rec Record) (Record, error)
}

// Opener is invoked once when a crawl starts.
type Opener interface {
	Open(ctx context.Context) error
}

// Closer is invoked once when a crawl ends.
type Closer interface {
	Close(ctx context.Context) error
}

// Spider supplies the seed requests of a crawl.
type Spider interface {
	StartRequests(ctx context.Context) Seq
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
