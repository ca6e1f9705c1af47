// Package drivertest provides a scriptable in-memory driver.Driver for tests.
package drivertest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/velocitydb/velocity/common"
	"github.com/velocitydb/velocity/driver"
)

// Handler produces the outcome of one Execute call.
type Handler func(ctx context.Context, sql string) (*driver.ResultSet, error)

// Fake records every call. Configure FailConnect and Handler before first use.
type Fake struct {
	FailConnect string
	Handler     Handler

	dialect driver.Dialect

	execMu sync.Mutex
	mu     sync.Mutex
	cancel context.CancelFunc
	stmts  []string

	lastError   string
	connected   atomic.Bool
	executing   atomic.Bool
	cancels     atomic.Int32
	disconnects atomic.Int32
	connString  atomic.Value
}

// New returns an unconnected fake.
func New(dialect driver.Dialect) *Fake {
	return &Fake{dialect: dialect}
}

// NewConnected returns a fake that is already connected.
func NewConnected(dialect driver.Dialect) *Fake {
	f := New(dialect)
	f.connected.Store(true)
	return f
}

// Echo answers every statement with a single "result" column holding the SQL text.
func Echo(_ context.Context, sql string) (*driver.ResultSet, error) {
	return &driver.ResultSet{
		Columns:      []driver.Column{{Name: "result", Type: "VARCHAR"}},
		Rows:         []driver.Row{{driver.Text(sql)}},
		AffectedRows: -1,
	}, nil
}

// Blocking waits until release is closed or the statement is cancelled.
func Blocking(release <-chan struct{}) Handler {
	return func(ctx context.Context, sql string) (*driver.ResultSet, error) {
		select {
		case <-release:
			return Echo(ctx, sql)
		case <-ctx.Done():
			return nil, &common.NativeError{Op: "execute", Message: "operation cancelled", Err: common.ErrCancelled}
		}
	}
}

func (f *Fake) Connect(_ context.Context, connString string) bool {
	f.connString.Store(connString)
	if f.FailConnect != "" {
		f.mu.Lock()
		f.lastError = f.FailConnect
		f.mu.Unlock()
		return false
	}
	f.connected.Store(true)
	return true
}

func (f *Fake) Execute(ctx context.Context, sql string) (*driver.ResultSet, error) {
	f.execMu.Lock()
	defer f.execMu.Unlock()

	if !f.connected.Load() {
		return nil, &common.NativeError{Op: "execute", Message: "not connected to database"}
	}

	stmtCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	f.mu.Lock()
	f.cancel = cancel
	f.stmts = append(f.stmts, sql)
	f.mu.Unlock()

	f.executing.Store(true)
	defer f.executing.Store(false)

	h := f.Handler
	if h == nil {
		h = Echo
	}
	rs, err := h(stmtCtx, sql)

	f.mu.Lock()
	f.cancel = nil
	if err != nil {
		f.lastError = err.Error()
	}
	f.mu.Unlock()
	return rs, err
}

func (f *Fake) Cancel() {
	f.cancels.Add(1)
	f.mu.Lock()
	cancel := f.cancel
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (f *Fake) Disconnect() {
	f.disconnects.Add(1)
	f.Cancel()
	f.connected.Store(false)
}

func (f *Fake) IsConnected() bool       { return f.connected.Load() }
func (f *Fake) IsExecuting() bool       { return f.executing.Load() }
func (f *Fake) Dialect() driver.Dialect { return f.dialect }

func (f *Fake) LastError() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastError
}

// Statements returns every SQL text passed to Execute, in order.
func (f *Fake) Statements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stmts...)
}

func (f *Fake) CancelCount() int     { return int(f.cancels.Load()) }
func (f *Fake) DisconnectCount() int { return int(f.disconnects.Load()) }

// ConnString returns the string passed to the last Connect call.
func (f *Fake) ConnString() string {
	s, _ := f.connString.Load().(string)
	return s
}
