package txn

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/velocitydb/velocity/driver"
)

// Registry owns one Manager per connection id, created on first Begin.
type Registry struct {
	managers *xsync.MapOf[string, *Manager]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{managers: xsync.NewMapOf[string, *Manager]()}
}

// Begin opens a transaction on connID's driver, creating the manager if needed.
// The manager is rebound to d so a reconnected session is used.
func (r *Registry) Begin(ctx context.Context, connID string, d driver.Driver) error {
	m, _ := r.managers.LoadOrCompute(connID, func() *Manager {
		return NewManager(d)
	})
	m.SetDriver(d)
	return m.Begin(ctx)
}

// Commit commits connID's transaction. Without a manager it reports no active transaction.
func (r *Registry) Commit(ctx context.Context, connID string) error {
	m, ok := r.managers.Load(connID)
	if !ok {
		return ErrNoActiveTransaction
	}
	return m.Commit(ctx)
}

// Rollback rolls back connID's transaction.
func (r *Registry) Rollback(ctx context.Context, connID string) error {
	m, ok := r.managers.Load(connID)
	if !ok {
		return ErrNoActiveTransaction
	}
	return m.Rollback(ctx)
}

// InTransaction reports whether connID has an open transaction.
func (r *Registry) InTransaction(connID string) bool {
	m, ok := r.managers.Load(connID)
	return ok && m.InTransaction()
}

// Remove rolls back any open transaction best-effort and forgets connID.
func (r *Registry) Remove(ctx context.Context, connID string) {
	m, ok := r.managers.LoadAndDelete(connID)
	if !ok {
		return
	}
	m.abandon(ctx, connID)
}

// Open returns the ids with an open transaction.
func (r *Registry) Open() []string {
	var ids []string
	r.managers.Range(func(connID string, m *Manager) bool {
		if m.InTransaction() {
			ids = append(ids, connID)
		}
		return true
	})
	return ids
}
