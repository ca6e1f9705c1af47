package id

import (
	"strconv"
	"sync/atomic"
)

// Generator provides unique string identifiers for registries.
// IDs are never reused within a process lifetime.
type Generator interface {
	NextID() string
}

// Sequence generates "<prefix><n>" identifiers with n starting at 1.
// Thread-safe via an atomic counter.
type Sequence struct {
	prefix string
	next   atomic.Uint64
}

// NewSequence creates a generator for the given prefix, e.g. "conn_" or "query_".
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// NextID returns the next identifier in the sequence.
func (s *Sequence) NextID() string {
	return s.prefix + strconv.FormatUint(s.next.Add(1), 10)
}

// Issued returns how many identifiers have been handed out so far.
func (s *Sequence) Issued() uint64 {
	return s.next.Load()
}
