// Package nonce implements a fixed-capacity, TTL-bounded replay guard: a
// set of (nonce, insertion-time) pairs used to reject duplicate or expired
// admission requests.
package nonce

import (
	"container/list"
	"sync"
	"time"

	"github.com/atprouter/core/pkg/events"
)

type entry struct {
	nonce      string
	insertedAt time.Time
}

// Store is a fixed-capacity collection of (nonce, insertion-time) pairs
// with TTL-based expiry. It is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	clock    func() time.Time
	bus      *events.Bus

	order *list.List               // front = oldest, back = newest
	index map[string]*list.Element // nonce -> element holding *entry
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithClock overrides the time source, for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithEventBus wires an event bus that receives a replay-detected rejection
// event whenever CheckAndStore rejects a duplicate.
func WithEventBus(bus *events.Bus) Option {
	return func(s *Store) { s.bus = bus }
}

// New creates a Store bounded to capacity entries, each living at most ttl
// before it is eligible for pruning.
func New(capacity int, ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		capacity: capacity,
		ttl:      ttl,
		clock:    time.Now,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckAndStore returns true and records nonce iff it is not already
// present and unexpired; returns false otherwise. Every call prunes
// TTL-expired entries first, then entries past capacity, before deciding.
func (s *Store) CheckAndStore(nonce string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneExpired(now)

	if _, exists := s.index[nonce]; exists {
		s.emitReplayRejection(nonce, now)
		return false
	}

	el := s.order.PushBack(&entry{nonce: nonce, insertedAt: now})
	s.index[nonce] = el

	s.pruneOverCapacity()

	return true
}

// pruneExpired removes entries older than ttl. Caller must hold mu.
func (s *Store) pruneExpired(now time.Time) {
	if s.ttl <= 0 {
		return
	}
	cutoff := now.Add(-s.ttl)
	for front := s.order.Front(); front != nil; front = s.order.Front() {
		e := front.Value.(*entry)
		if e.insertedAt.After(cutoff) {
			break
		}
		s.order.Remove(front)
		delete(s.index, e.nonce)
	}
}

// pruneOverCapacity evicts the oldest entries until the store is within
// capacity. Caller must hold mu.
func (s *Store) pruneOverCapacity() {
	if s.capacity <= 0 {
		return
	}
	for s.order.Len() > s.capacity {
		front := s.order.Front()
		if front == nil {
			break
		}
		e := front.Value.(*entry)
		s.order.Remove(front)
		delete(s.index, e.nonce)
	}
}

func (s *Store) emitReplayRejection(nonce string, now time.Time) {
	if s.bus == nil {
		return
	}
	s.bus.EmitRejection(events.RejectionEvent{
		Reason:    events.ReasonReplayDetected,
		Component: "nonce-store",
		Timestamp: now,
		Detail:    map[string]interface{}{"nonce": nonce},
	})
}

// Len returns the number of nonces currently tracked, without pruning.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
