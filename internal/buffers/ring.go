// Package buffers provides the fixed-capacity FIFO rings the tracker uses
// for contextual capture: a breadcrumb trail and a recent-console-error ring.
// Entries are evicted oldest-first on overflow and are never flushed for the
// life of the page session.
package buffers

import "time"

// Ring is a generic fixed-capacity circular buffer. Oldest entries are
// evicted when capacity is reached. Not safe for concurrent use; the tracker
// owns each ring from a single session loop.
type Ring[T any] struct {
	entries  []T
	capacity int
	head     int
	full     bool
}

// NewRing creates a ring with the given capacity. Capacity must be positive.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{
		entries:  make([]T, 0, capacity),
		capacity: capacity,
	}
}

// Push appends an entry, evicting the oldest if the ring is full.
func (r *Ring[T]) Push(entry T) {
	if len(r.entries) < r.capacity {
		r.entries = append(r.entries, entry)
		if len(r.entries) == r.capacity {
			r.full = true
		}
		return
	}
	r.entries[r.head] = entry
	r.head = (r.head + 1) % r.capacity
}

// Len reports the number of retained entries.
func (r *Ring[T]) Len() int { return len(r.entries) }

// Snapshot returns the retained entries oldest-first.
func (r *Ring[T]) Snapshot() []T {
	out := make([]T, 0, len(r.entries))
	if r.full {
		out = append(out, r.entries[r.head:]...)
		out = append(out, r.entries[:r.head]...)
		return out
	}
	return append(out, r.entries...)
}

// Breadcrumb is one short trail entry retained for context enrichment.
type Breadcrumb struct {
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorRecord is one captured console error.
type ErrorRecord struct {
	Message   string    `json:"message"`
	Source    string    `json:"source,omitempty"`
	Line      int       `json:"line,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	// BreadcrumbCapacity bounds the breadcrumb trail.
	BreadcrumbCapacity = 10
	// ErrorCapacity bounds the recent-error ring.
	ErrorCapacity = 5
)

// NewBreadcrumbs returns the tracker's breadcrumb ring.
func NewBreadcrumbs() *Ring[Breadcrumb] { return NewRing[Breadcrumb](BreadcrumbCapacity) }

// NewErrors returns the tracker's console-error ring.
func NewErrors() *Ring[ErrorRecord] { return NewRing[ErrorRecord](ErrorCapacity) }
