package engine

import (
	"github.com/velocitydb/velocity/cache"
	"github.com/velocitydb/velocity/common"
	"github.com/velocitydb/velocity/executor"
	"github.com/velocitydb/velocity/sqltext"
	"github.com/velocitydb/velocity/telemetry"
)

// SubmitQuery starts sql in the background on the connection's query session.
// A disconnected session fails here, before anything is scheduled. With
// useCache, a single read-only statement already in the result cache yields a
// task that is Completed on return, and a successful one populates the cache.
func (e *Engine) SubmitQuery(connID, sql string, useCache bool) (string, error) {
	if err := requireSQL(sql); err != nil {
		return "", err
	}
	d, err := e.conns.QueryDriver(connID)
	if err != nil {
		return "", err
	}
	if !d.IsConnected() {
		return "", &common.NativeError{Op: "execute", Message: "not connected to database"}
	}

	if !useCache || !cacheableAsync(sql) {
		return e.exec.SubmitFor(connID, d, sql), nil
	}

	key := cache.Key(connID, sql)
	if rs, ok := e.cache.Get(key); ok {
		telemetry.QueriesTotal.With(modeAsync, telemetry.ResultCached).Inc()
		return e.exec.SubmitCompleted(connID, sql, rs), nil
	}
	return e.exec.SubmitTagged(connID, key, d, sql), nil
}

func cacheableAsync(sql string) bool {
	return len(sqltext.SplitStatements(sql)) == 1 && sqltext.IsReadOnlyQuery(sql)
}

// QueryResult polls a task without blocking. Stale tasks are evicted first.
func (e *Engine) QueryResult(queryID string) executor.QueryResult {
	e.exec.EvictStale(e.opts.TaskMaxAge)
	return e.exec.Result(queryID)
}

// CancelAsyncQuery cancels a running task.
func (e *Engine) CancelAsyncQuery(queryID string) bool {
	return e.exec.Cancel(queryID)
}

// RemoveAsyncQuery forgets a finished task.
func (e *Engine) RemoveAsyncQuery(queryID string) bool {
	return e.exec.Remove(queryID)
}

// ActiveQueryIDs lists pending and running tasks.
func (e *Engine) ActiveQueryIDs() []string {
	return e.exec.ActiveIDs()
}

// IsQueryRunning reports whether a task is still running.
func (e *Engine) IsQueryRunning(queryID string) bool {
	return e.exec.IsRunning(queryID)
}
