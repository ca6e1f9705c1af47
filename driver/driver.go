// Package driver wraps one native database session per Driver value.
// Execute calls on a Driver are serialized; Cancel may be called from any
// goroutine at any time and only requests that the in-flight statement abort.
package driver

import (
	"context"
	"time"
)

// Driver is a single native session.
type Driver interface {
	// Connect opens the session. On failure it returns false and LastError holds the reason.
	Connect(ctx context.Context, connString string) bool
	Execute(ctx context.Context, sql string) (*ResultSet, error)
	Cancel()
	Disconnect()
	IsConnected() bool
	IsExecuting() bool
	LastError() string
	Dialect() Dialect
}

// Factory creates an unconnected Driver for a dialect.
type Factory func(dialect Dialect) Driver

// Options bound the native session.
type Options struct {
	LoginTimeout time.Duration
	QueryTimeout time.Duration
}

// DefaultOptions mirrors the [driver] defaults in cfg.
func DefaultOptions() Options {
	return Options{
		LoginTimeout: 30 * time.Second,
		QueryTimeout: 300 * time.Second,
	}
}

// NewFactory returns a Factory producing SQLDriver values with opts.
func NewFactory(opts Options) Factory {
	return func(dialect Dialect) Driver {
		return NewSQLDriver(dialect, opts)
	}
}
