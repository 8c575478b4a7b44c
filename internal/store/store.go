package store

import (
	"sync"
	"time"

	"github.com/gelfstream/gelfd/internal/broadcast"
	"github.com/gelfstream/gelfd/internal/metrics"
	"github.com/gelfstream/gelfd/pkg/gelf"
)

// Entry wraps a message with its reception metadata. Entries are immutable
// once stored and leave the store only through eviction. Raw holds the
// decoded payload text for diagnostics; it never travels to subscribers.
type Entry struct {
	Message    gelf.Message
	ReceivedAt float64
	Raw        string
}

// Envelope returns the projection of the entry handed to subscribers and
// query responses.
func (e Entry) Envelope() gelf.Envelope {
	return gelf.Envelope{Message: e.Message, ReceivedAt: e.ReceivedAt}
}

// Stats describes store occupancy in the shape served on the stats endpoint.
type Stats struct {
	TotalMessages       int     `json:"total_messages"`
	MaxCapacity         int     `json:"max_capacity"`
	CapacityUsedPercent float64 `json:"capacity_used_percent"`
}

// Store retains the most recent messages up to a configured capacity,
// evicting oldest first. Any number of Snapshot and Stats calls run
// concurrently; Add is exclusive for the append+evict step and publishes to
// the hub only after the write lock is released, so a slow subscriber can
// never stall ingestion.
type Store struct {
	hub     *broadcast.Hub
	metrics *metrics.Collector

	mu       sync.RWMutex
	entries  []Entry
	capacity int
}

// New creates a store bound to hub. Capacity below 1 is a programming
// error; the configuration layer rejects it before a store exists.
func New(capacity int, hub *broadcast.Hub, collector *metrics.Collector) *Store {
	if capacity < 1 {
		panic("store: capacity must be at least 1")
	}
	collector.StoreCapacity.Set(float64(capacity))
	return &Store{
		hub:      hub,
		metrics:  collector,
		capacity: capacity,
	}
}

// Add stores a parsed message together with its raw decoded text, evicts
// oldest entries while the store is over capacity, then publishes the new
// envelope to live subscribers. No reader ever observes the store over
// capacity, and no subscriber sees an envelope before its entry is in.
func (s *Store) Add(msg gelf.Message, raw string) {
	entry := Entry{
		Message:    msg,
		ReceivedAt: float64(time.Now().UnixNano()) / 1e9,
		Raw:        raw,
	}
	env := entry.Envelope()

	s.mu.Lock()
	s.entries = append(s.entries, entry)
	evicted := s.evictLocked()
	size := len(s.entries)
	s.mu.Unlock()

	s.metrics.StoreAppends.Inc()
	if evicted > 0 {
		s.metrics.StoreEvictions.Add(float64(evicted))
	}
	s.metrics.StoreSize.Set(float64(size))

	// Publish outside the lock: the hub's non-blocking send is what keeps
	// slow subscribers from backing up into ingestion.
	s.hub.Publish(env)
}

// Snapshot returns up to limit entries as envelopes, newest first. A
// negative limit returns everything; limit 0 returns an empty slice. The
// result is a point-in-time copy, unaffected by later appends.
func (s *Store) Snapshot(limit int) []gelf.Envelope {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if limit < 0 || limit > n {
		limit = n
	}

	out := make([]gelf.Envelope, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.entries[i].Envelope())
	}
	return out
}

// Stats returns current length, configured capacity and the used fraction
// as a percentage.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		TotalMessages:       len(s.entries),
		MaxCapacity:         s.capacity,
		CapacityUsedPercent: float64(len(s.entries)) / float64(s.capacity) * 100,
	}
}

// Len returns the current number of retained entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Capacity returns the configured retention bound.
func (s *Store) Capacity() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capacity
}

// SetCapacity changes the retention bound at runtime. Shrinking evicts
// oldest entries before the call returns, so the bound holds immediately.
// Values below 1 are clamped to 1.
func (s *Store) SetCapacity(capacity int) {
	if capacity < 1 {
		capacity = 1
	}

	s.mu.Lock()
	s.capacity = capacity
	evicted := s.evictLocked()
	size := len(s.entries)
	s.mu.Unlock()

	if evicted > 0 {
		s.metrics.StoreEvictions.Add(float64(evicted))
	}
	s.metrics.StoreSize.Set(float64(size))
	s.metrics.StoreCapacity.Set(float64(capacity))
}

// evictLocked drops oldest entries until length fits capacity. Caller holds
// the write lock. Evicted slots are zeroed so their messages can be
// collected while the backing array lives on.
func (s *Store) evictLocked() int {
	evicted := 0
	for len(s.entries) > s.capacity {
		s.entries[0] = Entry{}
		s.entries = s.entries[1:]
		evicted++
	}
	return evicted
}
