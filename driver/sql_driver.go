package driver

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	_ "github.com/jackc/pgx/v5/stdlib"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/rs/zerolog/log"
	"github.com/velocitydb/velocity/common"
	"github.com/velocitydb/velocity/sqltext"
)

const (
	msgNotConnected = "not connected to database"
	msgTimeout      = "query timeout expired"
	msgCancelled    = "operation cancelled"
)

// statement is the cancellable handle of the statement currently executing.
type statement struct {
	cancel context.CancelFunc
}

// SQLDriver implements Driver over database/sql with a single pinned connection,
// so session state such as the current database or an open transaction
// carries over between Execute calls.
type SQLDriver struct {
	dialect Dialect
	opts    Options

	execMu sync.Mutex // serializes Execute, Connect and Disconnect
	db     *sql.DB
	conn   *sql.Conn

	stmt      atomic.Pointer[statement]
	connected atomic.Bool
	executing atomic.Bool

	errMu     sync.Mutex
	lastError string
}

// NewSQLDriver creates an unconnected driver.
func NewSQLDriver(dialect Dialect, opts Options) *SQLDriver {
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = DefaultOptions().LoginTimeout
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultOptions().QueryTimeout
	}
	return &SQLDriver{dialect: dialect, opts: opts}
}

func (d *SQLDriver) Dialect() Dialect  { return d.dialect }
func (d *SQLDriver) IsConnected() bool { return d.connected.Load() }
func (d *SQLDriver) IsExecuting() bool { return d.executing.Load() }

// LastError returns the diagnostic text of the most recent failure.
// A later success does not clear it.
func (d *SQLDriver) LastError() string {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.lastError
}

func (d *SQLDriver) setLastError(msg string) {
	d.errMu.Lock()
	d.lastError = msg
	d.errMu.Unlock()
}

// Connect opens a session bounded by the login timeout.
func (d *SQLDriver) Connect(ctx context.Context, connString string) bool {
	if d.connected.Load() {
		d.Disconnect()
	}

	d.execMu.Lock()
	defer d.execMu.Unlock()

	db, err := sql.Open(d.dialect.DriverName(), connString)
	if err != nil {
		d.setLastError(err.Error())
		return false
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	loginCtx, cancel := context.WithTimeout(ctx, d.opts.LoginTimeout)
	defer cancel()

	conn, err := db.Conn(loginCtx)
	if err == nil {
		err = conn.PingContext(loginCtx)
		if err != nil {
			_ = conn.Close()
		}
	}
	if err != nil {
		_ = db.Close()
		if errors.Is(loginCtx.Err(), context.DeadlineExceeded) {
			d.setLastError("login timeout expired: " + err.Error())
		} else {
			d.setLastError(err.Error())
		}
		log.Debug().Err(err).Str("dialect", string(d.dialect)).Msg("Connect failed")
		return false
	}

	d.db = db
	d.conn = conn
	d.connected.Store(true)
	return true
}

// Disconnect is idempotent. An in-flight statement is cancelled first so the
// lock is released promptly.
func (d *SQLDriver) Disconnect() {
	d.Cancel()

	d.execMu.Lock()
	defer d.execMu.Unlock()

	if old := d.stmt.Swap(nil); old != nil {
		old.cancel()
	}
	if !d.connected.Swap(false) {
		return
	}

	if err := d.conn.Close(); err != nil {
		log.Debug().Err(err).Msg("Closing pinned connection")
	}
	if err := d.db.Close(); err != nil {
		log.Debug().Err(err).Msg("Closing database handle")
	}
	d.conn = nil
	d.db = nil
}

// Cancel requests that the statement currently executing abort. No-op when idle.
func (d *SQLDriver) Cancel() {
	if st := d.stmt.Load(); st != nil {
		st.cancel()
	}
}

// Execute runs one statement. Row-returning statements are described and
// fully fetched; others report affected rows.
func (d *SQLDriver) Execute(ctx context.Context, query string) (*ResultSet, error) {
	d.execMu.Lock()
	defer d.execMu.Unlock()

	if !d.connected.Load() {
		return nil, &common.NativeError{Op: "execute", Message: msgNotConnected}
	}

	start := time.Now()

	if old := d.stmt.Swap(nil); old != nil {
		old.cancel()
	}

	stmtCtx, cancel := context.WithTimeout(ctx, d.opts.QueryTimeout)
	st := &statement{cancel: cancel}
	d.stmt.Store(st)
	d.executing.Store(true)
	defer func() {
		d.executing.Store(false)
		d.stmt.CompareAndSwap(st, nil)
		cancel()
	}()

	var (
		rs  *ResultSet
		err error
	)
	if sqltext.ReturnsRows(query) {
		rs, err = d.query(stmtCtx, query)
	} else {
		rs, err = d.exec(stmtCtx, query)
	}
	if err != nil {
		return nil, d.nativeError(stmtCtx, err)
	}

	rs.ExecutionTime = time.Since(start)
	return rs, nil
}

func (d *SQLDriver) exec(ctx context.Context, query string) (*ResultSet, error) {
	res, err := d.conn.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return &ResultSet{Columns: []Column{}, Rows: []Row{}, AffectedRows: affected}, nil
}

func (d *SQLDriver) query(ctx context.Context, query string) (*ResultSet, error) {
	rows, err := d.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("describe columns: %w", err)
	}

	rs := &ResultSet{
		Columns:      describeColumns(types),
		Rows:         []Row{},
		AffectedRows: -1,
	}

	raw := make([]any, len(types))
	dest := make([]any, len(types))
	for i := range raw {
		dest[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("fetch row: %w", err)
		}

		row := make(Row, len(raw))
		for i, v := range raw {
			row[i] = d.formatValue(v, rs.Columns[i].Type)
		}
		rs.Rows = append(rs.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs, nil
}

func (d *SQLDriver) nativeError(ctx context.Context, err error) error {
	ne := &common.NativeError{Op: "execute", Message: err.Error(), Err: err}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		ne.Message = msgTimeout
	case errors.Is(ctx.Err(), context.Canceled):
		ne.Message = msgCancelled
		ne.Err = common.ErrCancelled
	}
	d.setLastError(ne.Message)
	return ne
}

func describeColumns(types []*sql.ColumnType) []Column {
	cols := make([]Column, len(types))
	for i, ct := range types {
		name := ct.Name()
		if name == "" {
			name = fmt.Sprintf("Column%d", i+1)
		}

		typeName := strings.ToUpper(ct.DatabaseTypeName())
		if typeName == "" {
			typeName = "UNKNOWN"
		}

		size := 0
		if length, ok := ct.Length(); ok && length > 0 && length <= math.MaxInt32 {
			size = int(length)
		} else if precision, _, ok := ct.DecimalSize(); ok && precision > 0 && precision <= math.MaxInt32 {
			size = int(precision)
		}

		nullable, ok := ct.Nullable()
		if !ok {
			nullable = true
		}

		cols[i] = Column{Name: name, Type: typeName, Size: size, Nullable: nullable}
	}
	return cols
}

// formatValue renders a scanned cell as display text.
func (d *SQLDriver) formatValue(v any, typeName string) Value {
	switch x := v.(type) {
	case nil:
		return NullValue
	case string:
		return Text(x)
	case []byte:
		if typeName == "UNIQUEIDENTIFIER" && len(x) == 16 {
			var u mssql.UniqueIdentifier
			if err := u.Scan(x); err == nil {
				return Text(u.String())
			}
		}
		if utf8.Valid(x) {
			return Text(string(x))
		}
		return Text("0x" + strings.ToUpper(hex.EncodeToString(x)))
	case int64:
		return Text(strconv.FormatInt(x, 10))
	case int32:
		return Text(strconv.FormatInt(int64(x), 10))
	case float64:
		return Text(strconv.FormatFloat(x, 'f', -1, 64))
	case float32:
		return Text(strconv.FormatFloat(float64(x), 'f', -1, 32))
	case bool:
		if d.dialect == SQLServer {
			if x {
				return Text("1")
			}
			return Text("0")
		}
		return Text(strconv.FormatBool(x))
	case time.Time:
		return Text(formatTime(x, typeName))
	default:
		return Text(fmt.Sprint(x))
	}
}

func formatTime(t time.Time, typeName string) string {
	switch typeName {
	case "DATE":
		return t.Format("2006-01-02")
	case "TIME":
		return t.Format("15:04:05.9999999")
	}
	if strings.Contains(typeName, "OFFSET") || strings.Contains(typeName, "TZ") {
		return t.Format("2006-01-02 15:04:05.9999999 -07:00")
	}
	return t.Format("2006-01-02 15:04:05.9999999")
}
