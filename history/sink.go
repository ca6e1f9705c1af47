package history

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sink receives entries from a hub subscription.
type Sink interface {
	// Write handles one entry. Errors are logged and the entry is skipped.
	Write(Entry) error
	// Close releases any resources held by the sink
	Close() error
}

// Attach starts forwarding the hub's matching entries to sink on a goroutine.
// The returned detach function unsubscribes, drains what is buffered, closes
// the sink and waits for the goroutine. It is idempotent.
func Attach(hub *Hub, sink Sink, filter Filter, bufferSize int) func() {
	ch, cancel := hub.Subscribe(filter, bufferSize)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for e := range ch {
			if err := sink.Write(e); err != nil {
				log.Warn().Err(err).Str("connection_id", e.ConnectionID).Msg("History sink write failed")
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			if err := sink.Close(); err != nil {
				log.Warn().Err(err).Msg("History sink close failed")
			}
		})
	}
}

// LogSink writes entries to the global logger.
type LogSink struct {
	Level zerolog.Level
}

// NewLogSink logs successes at level and failures at warn.
func NewLogSink(level zerolog.Level) *LogSink {
	return &LogSink{Level: level}
}

func (s *LogSink) Write(e Entry) error {
	ev := log.WithLevel(s.Level)
	if !e.Success {
		ev = log.Warn().Str("error", e.Error)
	}
	ev.Str("connection_id", e.ConnectionID).
		Str("query_id", e.ID).
		Str("mode", e.Mode).
		Dur("elapsed", e.ExecutionTime).
		Int64("affected_rows", e.AffectedRows).
		Str("sql", e.SQL).
		Msg("Statement executed")
	return nil
}

func (s *LogSink) Close() error { return nil }

// Store keeps the most recent entries in memory, newest last.
type Store struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewStore keeps up to capacity entries.
func NewStore(capacity int) (*Store, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("history store capacity must be >= 1, got %d", capacity)
	}
	return &Store{entries: make([]Entry, capacity)}, nil
}

func (s *Store) Write(e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[s.next] = e
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
	return nil
}

func (s *Store) Close() error { return nil }

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full {
		return len(s.entries)
	}
	return s.next
}

// Recent returns up to limit entries, newest first. An empty connID matches
// every connection; limit <= 0 means no limit.
func (s *Store) Recent(connID string, limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.next
	if s.full {
		n = len(s.entries)
	}

	out := make([]Entry, 0)
	for i := 1; i <= n; i++ {
		e := s.entries[(s.next-i+len(s.entries))%len(s.entries)]
		if connID != "" && e.ConnectionID != connID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
