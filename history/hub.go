// Package history fans executed-statement records out to sinks without ever
// blocking the statement path.
package history

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/velocitydb/velocity/telemetry"
)

// DefaultBufferSize is the per-subscriber channel size.
// Subscribers that can't keep up have entries dropped.
const DefaultBufferSize = 256

// Entry is one executed statement or batch.
type Entry struct {
	ID            string        `json:"id,omitempty"`
	ConnectionID  string        `json:"connection_id"`
	SQL           string        `json:"sql"`
	Mode          string        `json:"mode"`
	ExecutionTime time.Duration `json:"execution_time_ns"`
	Success       bool          `json:"success"`
	AffectedRows  int64         `json:"affected_rows"`
	Error         string        `json:"error,omitempty"`
	At            time.Time     `json:"at"`
}

// Notifier accepts entries. Record must not block.
type Notifier interface {
	Record(Entry)
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(Entry) {}

// Filter restricts a subscription. Empty means everything.
type Filter struct {
	ConnectionIDs []string
	FailuresOnly  bool
}

type subscription struct {
	id     uint64
	filter Filter
	ch     chan Entry
	closed atomic.Bool
}

func (s *subscription) matches(e Entry) bool {
	if s.filter.FailuresOnly && e.Success {
		return false
	}
	if len(s.filter.ConnectionIDs) == 0 {
		return true
	}
	for _, id := range s.filter.ConnectionIDs {
		if id == e.ConnectionID {
			return true
		}
	}
	return false
}

func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub is a Notifier that copies each entry to every matching subscriber.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
	dropped       atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Record sends e to all matching subscribers (non-blocking).
func (h *Hub) Record(e Entry) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(e) {
			continue
		}

		select {
		case sub.ch <- e:
		default:
			h.dropped.Add(1)
			telemetry.HistoryDroppedTotal.Inc()
		}
	}
}

// Subscribe registers a buffered subscriber. The cancel function is idempotent
// and closes the channel.
func (h *Hub) Subscribe(filter Filter, bufferSize int) (<-chan Entry, func()) {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan Entry, bufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	return sub.ch, func() { h.unsubscribe(sub.id) }
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Close unsubscribes everyone.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subscriptions
	h.subscriptions = make(map[uint64]*subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
