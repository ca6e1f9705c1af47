package driver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velocitydb/velocity/common"
)

const endlessQuery = "WITH RECURSIVE c(x) AS (SELECT 1 UNION ALL SELECT x+1 FROM c) SELECT count(*) FROM c"

func connectedSQLite(t *testing.T, opts Options) *SQLDriver {
	t.Helper()
	d := NewSQLDriver(SQLite, opts)
	require.True(t, d.Connect(context.Background(), ":memory:"), d.LastError())
	t.Cleanup(d.Disconnect)
	return d
}

func TestSQLDriver_ExecuteBeforeConnect(t *testing.T) {
	d := NewSQLDriver(SQLite, DefaultOptions())

	rs, err := d.Execute(context.Background(), "SELECT 1")
	require.Error(t, err)
	assert.Nil(t, rs)
	assert.True(t, common.IsNative(err))
	assert.Contains(t, err.Error(), "not connected to database")
}

func TestSQLDriver_ConnectFailureStoresLastError(t *testing.T) {
	d := NewSQLDriver(SQLite, DefaultOptions())

	ok := d.Connect(context.Background(), "file:/nonexistent-dir/sub/db.sqlite?mode=ro")
	assert.False(t, ok)
	assert.False(t, d.IsConnected())
	assert.NotEmpty(t, d.LastError())
}

func TestSQLDriver_QueryResultShape(t *testing.T) {
	d := connectedSQLite(t, DefaultOptions())
	ctx := context.Background()

	_, err := d.Execute(ctx, "CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT, note TEXT, score REAL)")
	require.NoError(t, err)

	rs, err := d.Execute(ctx, "INSERT INTO users (id, name, note, score) VALUES (1, 'alice', '', 1.5), (2, 'bob', NULL, 2)")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rs.AffectedRows)
	assert.Empty(t, rs.Columns)

	rs, err = d.Execute(ctx, "SELECT id, name, note, score FROM users ORDER BY id")
	require.NoError(t, err)
	require.Len(t, rs.Columns, 4)
	assert.Equal(t, "id", rs.Columns[0].Name)
	assert.Equal(t, "INTEGER", rs.Columns[0].Type)
	assert.Equal(t, "TEXT", rs.Columns[1].Type)
	assert.Equal(t, int64(-1), rs.AffectedRows)

	require.Len(t, rs.Rows, 2)
	assert.Equal(t, Row{Text("1"), Text("alice"), Text(""), Text("1.5")}, rs.Rows[0])
	assert.Equal(t, Row{Text("2"), Text("bob"), NullValue, Text("2")}, rs.Rows[1])

	// NULL and empty string stay distinct
	assert.False(t, rs.Rows[0][2].Null)
	assert.True(t, rs.Rows[1][2].Null)
}

func TestSQLDriver_EmptyColumnNameDefaults(t *testing.T) {
	d := connectedSQLite(t, DefaultOptions())

	rs, err := d.Execute(context.Background(), `SELECT 1 AS ""`)
	require.NoError(t, err)
	require.Len(t, rs.Columns, 1)
	assert.Equal(t, "Column1", rs.Columns[0].Name)
}

func TestSQLDriver_WideValuesAreNotTruncated(t *testing.T) {
	d := connectedSQLite(t, DefaultOptions())

	rs, err := d.Execute(context.Background(), "SELECT hex(zeroblob(10000))")
	require.NoError(t, err)
	require.Len(t, rs.Rows, 1)
	assert.Len(t, rs.Rows[0][0].String, 20000)
}

func TestSQLDriver_ExecuteErrorStoresLastError(t *testing.T) {
	d := connectedSQLite(t, DefaultOptions())

	_, err := d.Execute(context.Background(), "SELECT * FROM missing_table")
	require.Error(t, err)
	assert.True(t, common.IsNative(err))
	assert.Contains(t, d.LastError(), "missing_table")

	// success does not clear the last error
	_, err = d.Execute(context.Background(), "SELECT 1")
	require.NoError(t, err)
	assert.Contains(t, d.LastError(), "missing_table")
}

func TestSQLDriver_SessionStatePersists(t *testing.T) {
	d := connectedSQLite(t, DefaultOptions())
	ctx := context.Background()

	_, err := d.Execute(ctx, "CREATE TEMP TABLE scratch (v INTEGER)")
	require.NoError(t, err)
	_, err = d.Execute(ctx, "BEGIN")
	require.NoError(t, err)
	_, err = d.Execute(ctx, "INSERT INTO scratch VALUES (1)")
	require.NoError(t, err)
	_, err = d.Execute(ctx, "ROLLBACK")
	require.NoError(t, err)

	rs, err := d.Execute(ctx, "SELECT count(*) FROM scratch")
	require.NoError(t, err)
	assert.Equal(t, "0", rs.Rows[0][0].String)
}

func TestSQLDriver_CancelFromAnotherGoroutine(t *testing.T) {
	d := connectedSQLite(t, DefaultOptions())

	var wg sync.WaitGroup
	var execErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, execErr = d.Execute(context.Background(), endlessQuery)
	}()

	require.Eventually(t, d.IsExecuting, 2*time.Second, 5*time.Millisecond)
	d.Cancel()
	wg.Wait()

	require.Error(t, execErr)
	assert.True(t, errors.Is(execErr, common.ErrCancelled))
	assert.False(t, d.IsExecuting())

	// session is still usable
	rs, err := d.Execute(context.Background(), "SELECT 42")
	require.NoError(t, err)
	assert.Equal(t, "42", rs.Rows[0][0].String)
}

func TestSQLDriver_CancelWhenIdleIsNoop(t *testing.T) {
	d := connectedSQLite(t, DefaultOptions())
	d.Cancel()

	_, err := d.Execute(context.Background(), "SELECT 1")
	require.NoError(t, err)
}

func TestSQLDriver_QueryTimeout(t *testing.T) {
	d := connectedSQLite(t, Options{LoginTimeout: time.Second, QueryTimeout: 50 * time.Millisecond})

	_, err := d.Execute(context.Background(), endlessQuery)
	require.Error(t, err)
	assert.True(t, common.IsNative(err))
	assert.Contains(t, err.Error(), "timeout")
}

func TestSQLDriver_DisconnectIsIdempotent(t *testing.T) {
	d := NewSQLDriver(SQLite, DefaultOptions())
	require.True(t, d.Connect(context.Background(), ":memory:"))

	d.Disconnect()
	d.Disconnect()
	assert.False(t, d.IsConnected())

	_, err := d.Execute(context.Background(), "SELECT 1")
	require.Error(t, err)
}

func TestSQLDriver_DisconnectInterruptsExecute(t *testing.T) {
	d := NewSQLDriver(SQLite, DefaultOptions())
	require.True(t, d.Connect(context.Background(), ":memory:"))

	done := make(chan error, 1)
	go func() {
		_, err := d.Execute(context.Background(), endlessQuery)
		done <- err
	}()

	require.Eventually(t, d.IsExecuting, 2*time.Second, 5*time.Millisecond)
	d.Disconnect()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("execute did not return after disconnect")
	}
	assert.False(t, d.IsConnected())
}

func TestSQLDriver_ReconnectReplacesSession(t *testing.T) {
	d := connectedSQLite(t, DefaultOptions())
	ctx := context.Background()

	_, err := d.Execute(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	require.True(t, d.Connect(ctx, ":memory:"))
	_, err = d.Execute(ctx, "SELECT * FROM t")
	require.Error(t, err, "a fresh in-memory session must not see the old table")
}

func TestSQLDriver_RegexpFunction(t *testing.T) {
	d := connectedSQLite(t, DefaultOptions())

	rs, err := d.Execute(context.Background(), "SELECT 'velocity' REGEXP '^vel'")
	require.NoError(t, err)
	assert.Equal(t, "1", rs.Rows[0][0].String)
}
