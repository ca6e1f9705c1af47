// Package txn tracks explicit transactions opened on a connection's query driver.
package txn

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/velocitydb/velocity/common"
	"github.com/velocitydb/velocity/driver"
	"github.com/velocitydb/velocity/telemetry"
)

const (
	opBegin    = "begin"
	opCommit   = "commit"
	opRollback = "rollback"
)

// ErrNoActiveTransaction is returned by Commit and Rollback when nothing is open.
var ErrNoActiveTransaction = &common.InvalidStateError{Reason: "no active transaction"}

// Manager holds the transaction flag of one session. Begin, Commit and Rollback
// are serialized so the flag always matches what was last sent to the driver.
type Manager struct {
	mu     sync.Mutex
	driver driver.Driver
	open   bool
}

// NewManager creates a manager bound to d.
func NewManager(d driver.Driver) *Manager {
	return &Manager{driver: d}
}

// SetDriver rebinds the manager, e.g. after a reconnect.
func (m *Manager) SetDriver(d driver.Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driver = d
}

// Begin opens a transaction. It is a no-op when one is already open.
func (m *Manager) Begin(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		return nil
	}

	d, err := m.boundDriver()
	if err != nil {
		return err
	}

	_, err = d.Execute(ctx, d.Dialect().BeginStatement())
	telemetry.TransactionsTotal.With(opBegin, telemetry.ResultLabel(err)).Inc()
	if err != nil {
		return err
	}

	m.open = true
	return nil
}

// Commit commits the open transaction.
func (m *Manager) Commit(ctx context.Context) error {
	return m.finish(ctx, opCommit)
}

// Rollback rolls back the open transaction.
func (m *Manager) Rollback(ctx context.Context) error {
	return m.finish(ctx, opRollback)
}

func (m *Manager) finish(ctx context.Context, op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return ErrNoActiveTransaction
	}

	d, err := m.boundDriver()
	if err != nil {
		return err
	}

	stmt := d.Dialect().CommitStatement()
	if op == opRollback {
		stmt = d.Dialect().RollbackStatement()
	}

	_, err = d.Execute(ctx, stmt)
	telemetry.TransactionsTotal.With(op, telemetry.ResultLabel(err)).Inc()
	if err != nil {
		// A lost session cannot hold a transaction any more.
		if !d.IsConnected() {
			m.open = false
		}
		return err
	}

	m.open = false
	return nil
}

// InTransaction reports whether a transaction is open.
func (m *Manager) InTransaction() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

func (m *Manager) boundDriver() (driver.Driver, error) {
	if m.driver == nil {
		return nil, &common.InvalidStateError{Reason: "transaction manager has no driver"}
	}
	return m.driver, nil
}

// abandon rolls back best-effort and clears the flag. Used on disconnect.
func (m *Manager) abandon(ctx context.Context, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return
	}
	m.open = false

	if m.driver == nil || !m.driver.IsConnected() {
		return
	}
	if _, err := m.driver.Execute(ctx, m.driver.Dialect().RollbackStatement()); err != nil {
		log.Warn().Err(err).Str("connection_id", connID).Msg("Rollback on connection removal failed")
	}
}
