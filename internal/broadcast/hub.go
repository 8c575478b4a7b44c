package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gelfstream/gelfd/internal/metrics"
	"github.com/gelfstream/gelfd/pkg/gelf"
)

var (
	ErrClosed = errors.New("broadcast: subscription closed")
	ErrEmpty  = errors.New("broadcast: no message pending")
)

// DefaultSubscriberBuffer is the per-subscription channel capacity used when
// the hub is created with a non-positive buffer size.
const DefaultSubscriberBuffer = 100

// LagError tells a subscriber it fell behind: Missed publishes were dropped
// for it since its previous receive. Receiving continues normally on the
// next call. The publisher never sees this error.
type LagError struct {
	Missed uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("broadcast: subscriber lagged, %d messages dropped", e.Missed)
}

// Stats is a point-in-time snapshot of hub activity.
type Stats struct {
	Published   uint64
	Delivered   uint64
	Dropped     uint64
	Subscribers int
}

// Hub fans published envelopes out to every current subscription without
// ever blocking the publisher. Each subscription owns a bounded buffer; when
// a subscriber does not drain fast enough, the newest envelope is dropped
// for that subscriber alone and its next Recv reports a LagError with the
// drop count. Other subscribers and the publisher are unaffected.
type Hub struct {
	buffer  int
	metrics *metrics.Collector

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	published uint64
	delivered uint64
	dropped   uint64
}

// NewHub creates a hub whose subscriptions buffer up to bufferSize pending
// envelopes each. Non-positive sizes fall back to DefaultSubscriberBuffer.
func NewHub(bufferSize int, collector *metrics.Collector) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	return &Hub{
		buffer:  bufferSize,
		metrics: collector,
		subs:    make(map[uint64]*Subscription),
	}
}

// Subscribe registers a new subscription that observes every envelope
// published after this call returns. There is no replay of earlier
// envelopes. On a closed hub the returned subscription reports ErrClosed
// immediately.
func (h *Hub) Subscribe() *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{
		hub: h,
		id:  h.nextID,
		ch:  make(chan gelf.Envelope, h.buffer),
	}
	if h.closed {
		close(sub.ch)
		return sub
	}
	h.subs[sub.id] = sub
	h.metrics.BroadcastSubscribers.Set(float64(len(h.subs)))
	return sub
}

// Publish delivers env to every subscription with buffer space and counts a
// drop for each one without. It never blocks, regardless of subscriber count
// or speed.
func (h *Hub) Publish(env gelf.Envelope) {
	atomic.AddUint64(&h.published, 1)
	h.metrics.BroadcastPublished.Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		select {
		case sub.ch <- env:
			atomic.AddUint64(&h.delivered, 1)
			h.metrics.BroadcastDelivered.Inc()
		default:
			atomic.AddUint64(&sub.missed, 1)
			atomic.AddUint64(&h.dropped, 1)
			h.metrics.BroadcastDropped.Inc()
		}
	}
}

// Stats returns a snapshot of the hub counters and current subscriber count.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return Stats{
		Published:   atomic.LoadUint64(&h.published),
		Delivered:   atomic.LoadUint64(&h.delivered),
		Dropped:     atomic.LoadUint64(&h.dropped),
		Subscribers: len(h.subs),
	}
}

// Close terminates every subscription. Envelopes already buffered stay
// readable; once drained, Recv returns ErrClosed. Close is idempotent and
// publishing afterwards is a harmless no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
	h.metrics.BroadcastSubscribers.Set(0)
}

// remove detaches one subscription. The channel close happens under the
// write lock so it can never race a Publish send.
func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.ch)
	h.metrics.BroadcastSubscribers.Set(float64(len(h.subs)))
}

// Subscription is one receiver's handle on the hub. Envelopes arrive in
// publish order, subject to the lag policy described on Hub.
type Subscription struct {
	hub    *Hub
	id     uint64
	ch     chan gelf.Envelope
	missed uint64
}

// Recv returns the next envelope, blocking until one arrives, ctx ends, or
// the subscription closes. If publishes were dropped since the previous
// receive, Recv first reports a *LagError carrying the count; subsequent
// calls resume with the buffered backlog.
func (s *Subscription) Recv(ctx context.Context) (gelf.Envelope, error) {
	if missed := atomic.SwapUint64(&s.missed, 0); missed > 0 {
		return gelf.Envelope{}, &LagError{Missed: missed}
	}

	select {
	case env, ok := <-s.ch:
		if !ok {
			return gelf.Envelope{}, ErrClosed
		}
		return env, nil
	case <-ctx.Done():
		return gelf.Envelope{}, ctx.Err()
	}
}

// TryRecv is the non-blocking variant of Recv. ErrEmpty means nothing is
// pending right now.
func (s *Subscription) TryRecv() (gelf.Envelope, error) {
	if missed := atomic.SwapUint64(&s.missed, 0); missed > 0 {
		return gelf.Envelope{}, &LagError{Missed: missed}
	}

	select {
	case env, ok := <-s.ch:
		if !ok {
			return gelf.Envelope{}, ErrClosed
		}
		return env, nil
	default:
		return gelf.Envelope{}, ErrEmpty
	}
}

// Close detaches the subscription from the hub. Safe to call more than
// once; other subscriptions and the publisher are unaffected.
func (s *Subscription) Close() {
	s.hub.remove(s.id)
}
