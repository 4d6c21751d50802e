// Package queue implements the bounded back-pressure seam between
// fetchers and the orchestrator (spec.md §4.4): a fixed-capacity FIFO of
// WorkItems with a short-timeout offer and a blocking take.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// WorkItem is the element handed from a fetcher to the orchestrator.
type WorkItem struct {
	FileID        string
	Bytes         []byte
	SourcePath    string // non-empty for the local-FS fetcher
	Source        string // "localfs" | "soap"
	CorrelationID string
}

// Queue is a fixed-capacity FIFO of WorkItem, backed by a buffered
// channel. depth/capacity counters are tracked with atomics so callers
// (the orchestrator's back-pressure logic, telemetry gauges) can read
// them without contending on the channel itself.
type Queue struct {
	items    chan WorkItem
	capacity int64
	depth    atomic.Int64
}

// New builds a Queue with the given fixed capacity (spec.md default:
// 1024).
func New(capacity int) *Queue {
	return &Queue{items: make(chan WorkItem, capacity), capacity: int64(capacity)}
}

// Offer attempts to enqueue item, waiting up to timeout (spec.md default
// <=250ms) for room. Returns false if the queue stayed full for the
// whole timeout — the caller (a fetcher) must then pause rather than
// retry into the queue forever.
func (q *Queue) Offer(item WorkItem, timeout time.Duration) bool {
	select {
	case q.items <- item:
		q.depth.Add(1)
		return true
	case <-time.After(timeout):
		return false
	}
}

// Take blocks until an item is available or ctx is cancelled.
func (q *Queue) Take(ctx context.Context) (WorkItem, bool) {
	select {
	case item := <-q.items:
		q.depth.Add(-1)
		return item, true
	case <-ctx.Done():
		return WorkItem{}, false
	}
}

// Depth returns the current number of queued items.
func (q *Queue) Depth() int64 { return q.depth.Load() }

// Capacity returns the queue's fixed capacity.
func (q *Queue) Capacity() int64 { return q.capacity }

// Remaining returns the number of additional items the queue can accept
// before Offer starts blocking.
func (q *Queue) Remaining() int64 { return q.capacity - q.depth.Load() }

// FillRatio returns depth/capacity in [0,1], used by fetchers to decide
// whether to pause at pauseHighWatermark and resume at
// resumeLowWatermark (spec.md §5).
func (q *Queue) FillRatio() float64 {
	if q.capacity == 0 {
		return 0
	}
	return float64(q.depth.Load()) / float64(q.capacity)
}

// BackpressureGate implements the hysteresis pause/resume rule from
// spec.md §5: once fill ratio crosses high, fetchers stop offering new
// items until fill ratio drops back to low. This is distinct from
// Offer's own short-timeout refusal, which only defers a single item for
// one tick — the gate tells a fetcher's poll loop to skip an entire round
// of offers until the queue has properly drained.
type BackpressureGate struct {
	q    *Queue
	high float64
	low  float64

	mu     sync.Mutex
	paused bool
}

// NewBackpressureGate builds a gate over q with the given watermarks. A
// high <= 0 (or <= low) disables the gate: Paused always reports false.
func NewBackpressureGate(q *Queue, high, low float64) *BackpressureGate {
	return &BackpressureGate{q: q, high: high, low: low}
}

// Paused reports whether the fetcher should currently withhold new
// offers, updating the gate's latched state against the queue's current
// fill ratio. Safe for concurrent use by multiple facility poll loops
// sharing one queue.
func (g *BackpressureGate) Paused() bool {
	if g == nil || g.high <= 0 || g.high <= g.low {
		return false
	}
	ratio := g.q.FillRatio()

	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case !g.paused && ratio >= g.high:
		g.paused = true
	case g.paused && ratio <= g.low:
		g.paused = false
	}
	return g.paused
}
