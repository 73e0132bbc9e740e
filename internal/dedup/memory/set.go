// Package memory provides the in-process fingerprint set used for dedup.
package memory

import (
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// Set is a concurrency-safe set of request fingerprints.
type Set struct {
	seen sync.Map
	n    atomic.Int64
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{}
}

// New is a crawler.DedupSet factory for the scheduler.
func New() crawler.DedupSet {
	return NewSet()
}

// Add stores fp if it has not been seen before and returns true.
func (s *Set) Add(fp string) bool {
	_, loaded := s.seen.LoadOrStore(fp, struct{}{})
	if loaded {
		return false
	}
	s.n.Add(1)
	return true
}

// Len returns the number of stored fingerprints.
func (s *Set) Len() int {
	return int(s.n.Load())
}
