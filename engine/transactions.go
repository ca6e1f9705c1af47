package engine

import (
	"context"

	"github.com/velocitydb/velocity/common"
)

// BeginTransaction opens a transaction on the connection's query session.
func (e *Engine) BeginTransaction(ctx context.Context, connID string) error {
	d, err := e.conns.QueryDriver(connID)
	if err != nil {
		return err
	}
	return e.txns.Begin(ctx, connID, d)
}

// CommitTransaction commits the connection's open transaction.
func (e *Engine) CommitTransaction(ctx context.Context, connID string) error {
	if !e.conns.Exists(connID) {
		return common.NewNotFound("connection", connID)
	}
	return e.txns.Commit(ctx, connID)
}

// RollbackTransaction rolls back the connection's open transaction.
func (e *Engine) RollbackTransaction(ctx context.Context, connID string) error {
	if !e.conns.Exists(connID) {
		return common.NewNotFound("connection", connID)
	}
	return e.txns.Rollback(ctx, connID)
}

// InTransaction reports whether the connection has an open transaction.
func (e *Engine) InTransaction(connID string) bool {
	return e.txns.InTransaction(connID)
}
