package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/velocitydb/velocity/common"
	"github.com/velocitydb/velocity/driver"
	"github.com/velocitydb/velocity/driver/drivertest"
)

func TestManager_BeginCommit(t *testing.T) {
	ctx := context.Background()
	d := drivertest.NewConnected(driver.SQLServer)
	m := NewManager(d)

	require.NoError(t, m.Begin(ctx))
	assert.True(t, m.InTransaction())

	require.NoError(t, m.Commit(ctx))
	assert.False(t, m.InTransaction())

	assert.Equal(t, []string{"BEGIN TRANSACTION", "COMMIT"}, d.Statements())
}

func TestManager_BeginTwiceSendsOneBegin(t *testing.T) {
	ctx := context.Background()
	d := drivertest.NewConnected(driver.MySQL)
	m := NewManager(d)

	require.NoError(t, m.Begin(ctx))
	require.NoError(t, m.Begin(ctx))

	assert.Equal(t, []string{"START TRANSACTION"}, d.Statements())
	assert.True(t, m.InTransaction())
}

func TestManager_CommitWithoutBegin(t *testing.T) {
	d := drivertest.NewConnected(driver.PostgreSQL)
	m := NewManager(d)

	err := m.Commit(context.Background())
	require.Error(t, err)
	var stateErr *common.InvalidStateError
	assert.True(t, errors.As(err, &stateErr))
	assert.Equal(t, "no active transaction", err.Error())

	assert.Error(t, m.Rollback(context.Background()))
	assert.Empty(t, d.Statements(), "no native call without an open transaction")
}

func TestManager_BeginFailureLeavesFlagClear(t *testing.T) {
	d := drivertest.NewConnected(driver.SQLServer)
	d.Handler = func(context.Context, string) (*driver.ResultSet, error) {
		return nil, &common.NativeError{Op: "execute", Message: "deadlock"}
	}
	m := NewManager(d)

	err := m.Begin(context.Background())
	require.Error(t, err)
	assert.False(t, m.InTransaction())
}

func TestManager_CommitFailureKeepsTransactionWhileConnected(t *testing.T) {
	ctx := context.Background()
	d := drivertest.NewConnected(driver.SQLServer)
	m := NewManager(d)
	require.NoError(t, m.Begin(ctx))

	d.Handler = func(context.Context, string) (*driver.ResultSet, error) {
		return nil, &common.NativeError{Op: "execute", Message: "constraint violation"}
	}
	require.Error(t, m.Commit(ctx))
	assert.True(t, m.InTransaction(), "session still alive, transaction still open")

	d.Disconnect()
	require.Error(t, m.Rollback(ctx))
	assert.False(t, m.InTransaction(), "lost session cannot hold a transaction")
}

func TestManager_NoDriver(t *testing.T) {
	m := NewManager(nil)
	err := m.Begin(context.Background())
	require.Error(t, err)
	assert.False(t, m.InTransaction())
}

func TestManager_AgainstSQLite(t *testing.T) {
	ctx := context.Background()
	d := driver.NewSQLDriver(driver.SQLite, driver.DefaultOptions())
	require.True(t, d.Connect(ctx, ":memory:"))
	defer d.Disconnect()

	_, err := d.Execute(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)

	m := NewManager(d)
	require.NoError(t, m.Begin(ctx))
	_, err = d.Execute(ctx, "INSERT INTO t VALUES (1)")
	require.NoError(t, err)
	require.NoError(t, m.Rollback(ctx))

	rs, err := d.Execute(ctx, "SELECT count(*) FROM t")
	require.NoError(t, err)
	assert.Equal(t, "0", rs.Rows[0][0].String)

	require.NoError(t, m.Begin(ctx))
	_, err = d.Execute(ctx, "INSERT INTO t VALUES (2)")
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx))

	rs, err = d.Execute(ctx, "SELECT count(*) FROM t")
	require.NoError(t, err)
	assert.Equal(t, "1", rs.Rows[0][0].String)
}
