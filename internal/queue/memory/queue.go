// Package memory provides the in-process priority work queue.
package memory

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// ErrNegativeOutstanding is returned by MarkDone when no work is outstanding.
var ErrNegativeOutstanding = errors.New("mark done called more times than put")

// Entry is a queued request with the priority it had when queued and its
// insertion sequence number.
type Entry struct {
	Request  *crawler.Request
	Priority int
	Sequence uint64
}

type entryHeap []Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].Sequence < h[j].Sequence
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(Entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = Entry{}
	*h = old[:n-1]
	return item
}

// Queue is an unbounded priority queue with context-aware operations.
// Lower priority values are served first; ties are served in insertion order.
// It tracks outstanding work: every Put must be matched by one MarkDone.
type Queue struct {
	mu          sync.Mutex
	items       entryHeap
	seq         uint64
	outstanding int
	// ready is closed and replaced whenever an item is added.
	ready chan struct{}
	// drained is closed while outstanding is zero.
	drained chan struct{}
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	drained := make(chan struct{})
	close(drained)
	return &Queue{
		ready:   make(chan struct{}),
		drained: drained,
	}
}

// New is a crawler.WorkQueue factory for the scheduler.
func New() (crawler.WorkQueue, error) {
	return NewQueue(), nil
}

// Put enqueues req without blocking and counts it as outstanding.
func (q *Queue) Put(req *crawler.Request) {
	q.mu.Lock()
	defer q.mu.Unlock()

	heap.Push(&q.items, Entry{Request: req, Priority: req.Priority(), Sequence: q.seq})
	q.seq++
	q.outstanding++
	if q.outstanding == 1 {
		q.drained = make(chan struct{})
	}
	close(q.ready)
	q.ready = make(chan struct{})
}

// Get removes the entry with the lowest (priority, sequence), waiting for one
// if the queue is empty.
func (q *Queue) Get(ctx context.Context) (*crawler.Request, error) {
	for {
		q.mu.Lock()
		if q.items.Len() > 0 {
			e := heap.Pop(&q.items).(Entry)
			q.mu.Unlock()
			return e.Request, nil
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("get canceled: %w", ctx.Err())
		case <-ready:
		}
	}
}

// MarkDone records that one previously retrieved entry is fully processed.
func (q *Queue) MarkDone() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.outstanding == 0 {
		return ErrNegativeOutstanding
	}
	q.outstanding--
	if q.outstanding == 0 {
		close(q.drained)
	}
	return nil
}

// Join blocks until every put entry has been marked done.
func (q *Queue) Join(ctx context.Context) error {
	q.mu.Lock()
	drained := q.drained
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return fmt.Errorf("join canceled: %w", ctx.Err())
	case <-drained:
		return nil
	}
}

// Len reports the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Outstanding reports entries put but not yet marked done.
func (q *Queue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding
}
