package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/velocitydb/velocity/cache"
	"github.com/velocitydb/velocity/common"
	"github.com/velocitydb/velocity/driver"
	"github.com/velocitydb/velocity/executor"
	"github.com/velocitydb/velocity/sqltext"
	"github.com/velocitydb/velocity/telemetry"
)

// QueryOutcome is the result of a synchronous execution. Exactly one of
// Result and Results is set.
type QueryOutcome struct {
	Multiple bool
	Result   *driver.ResultSet
	Results  []driver.StatementResult
	Cached   bool
}

// SortSpec orders a paginated query by one column.
type SortSpec struct {
	Column    string
	Direction string // "asc" or "desc"
}

// PageRequest selects rows [StartRow, EndRow) of a query.
type PageRequest struct {
	StartRow int
	EndRow   int
	Sort     []SortSpec
}

// DefaultPageRequest returns the first hundred rows.
func DefaultPageRequest() PageRequest {
	return PageRequest{StartRow: 0, EndRow: 100}
}

// Validate rejects malformed bounds and sort entries.
func (p PageRequest) Validate() error {
	if p.StartRow < 0 {
		return common.NewInvalidArgument("startRow", "must be >= 0")
	}
	if p.EndRow <= p.StartRow {
		return common.NewInvalidArgument("endRow", "must be greater than startRow")
	}
	for _, s := range p.Sort {
		if strings.TrimSpace(s.Column) == "" {
			return common.NewInvalidArgument("sortModel.colId", "is required")
		}
		switch strings.ToLower(s.Direction) {
		case "asc", "desc":
		default:
			return common.NewInvalidArgument("sortModel.sort", fmt.Sprintf("unknown direction %q", s.Direction))
		}
	}
	return nil
}

func (p PageRequest) orderBy(dialect driver.Dialect) string {
	clauses := make([]string, 0, len(p.Sort))
	for _, s := range p.Sort {
		dir := "ASC"
		if strings.EqualFold(s.Direction, "desc") {
			dir = "DESC"
		}
		clauses = append(clauses, dialect.QuoteIdentifier(s.Column)+" "+dir)
	}
	return strings.Join(clauses, ", ")
}

func requireSQL(sql string) error {
	if strings.TrimSpace(sql) == "" {
		return common.NewInvalidArgument("sql", "is required")
	}
	return nil
}

func observe(mode string, start time.Time, rs *driver.ResultSet, err error) {
	telemetry.QueriesTotal.With(mode, telemetry.ResultLabel(err)).Inc()
	telemetry.QueryDurationSeconds.With(mode).Observe(time.Since(start).Seconds())
	if rs != nil && rs.AffectedRows < 0 {
		telemetry.RowsReturned.Observe(float64(len(rs.Rows)))
	}
}

// ExecuteQuery runs sql on the connection's query session. Several statements
// run in order and report per-statement results. Read-only single statements
// go through the result cache when useCache is set.
func (e *Engine) ExecuteQuery(ctx context.Context, connID, sql string, useCache bool) (*QueryOutcome, error) {
	if err := requireSQL(sql); err != nil {
		return nil, err
	}
	d, err := e.conns.QueryDriver(connID)
	if err != nil {
		return nil, err
	}

	statements := sqltext.SplitStatements(sql)
	log.Debug().Str("connection_id", connID).Int("statements", len(statements)).Msg("Executing query")

	if len(statements) > 1 {
		return e.executeBatch(ctx, connID, d, sql, statements)
	}

	start := time.Now()
	if sqltext.IsUseStatement(sql) {
		rs, err := executor.ExecuteStatement(ctx, d, sql)
		observe(modeSync, start, rs, err)
		e.record(connID, sql, modeSync, time.Since(start), 0, err)
		if err != nil {
			return nil, &common.NativeError{Message: "Failed to switch database: " + err.Error(), Err: err}
		}
		return &QueryOutcome{Result: rs}, nil
	}

	key := cache.Key(connID, sql)
	cacheable := useCache && sqltext.IsReadOnlyQuery(sql)
	if cacheable {
		if rs, ok := e.cache.Get(key); ok {
			telemetry.QueriesTotal.With(modeSync, telemetry.ResultCached).Inc()
			return &QueryOutcome{Result: rs, Cached: true}, nil
		}
	}

	rs, err := d.Execute(ctx, sql)
	observe(modeSync, start, rs, err)
	if err != nil {
		e.record(connID, sql, modeSync, time.Since(start), 0, err)
		return nil, err
	}

	if cacheable {
		e.cache.Put(key, rs)
	}
	e.record(connID, sql, modeSync, rs.ExecutionTime, rs.AffectedRows, nil)
	return &QueryOutcome{Result: rs}, nil
}

func (e *Engine) executeBatch(ctx context.Context, connID string, d driver.Driver, sql string, statements []string) (*QueryOutcome, error) {
	start := time.Now()
	results, err := executor.ExecuteBatch(ctx, d, statements)

	var affected int64
	for _, r := range results {
		if r.Result.AffectedRows > 0 {
			affected += r.Result.AffectedRows
		}
	}
	observe(modeSync, start, nil, err)
	e.record(connID, sql, modeSync, time.Since(start), affected, err)

	if err != nil {
		return nil, err
	}
	return &QueryOutcome{Multiple: true, Results: results}, nil
}

// ExecutePaginated runs one page of sql using the dialect's paging syntax.
func (e *Engine) ExecutePaginated(ctx context.Context, connID, sql string, page PageRequest) (*driver.ResultSet, error) {
	if err := requireSQL(sql); err != nil {
		return nil, err
	}
	if err := page.Validate(); err != nil {
		return nil, err
	}
	d, err := e.conns.QueryDriver(connID)
	if err != nil {
		return nil, err
	}

	dialect := d.Dialect()
	paged := dialect.PaginateSQL(sqltext.TrimTerminator(sql), page.orderBy(dialect), page.StartRow, page.EndRow-page.StartRow)

	start := time.Now()
	rs, err := d.Execute(ctx, paged)
	observe(modePaginated, start, rs, err)
	return rs, err
}

// RowCount counts the rows sql would return.
func (e *Engine) RowCount(ctx context.Context, connID, sql string) (int64, error) {
	if err := requireSQL(sql); err != nil {
		return 0, err
	}
	d, err := e.conns.QueryDriver(connID)
	if err != nil {
		return 0, err
	}

	rs, err := d.Execute(ctx, d.Dialect().CountSQL(sqltext.TrimTerminator(sql)))
	if err != nil {
		return 0, err
	}
	if len(rs.Rows) == 0 || len(rs.Rows[0]) == 0 || rs.Rows[0][0].Null {
		return 0, &common.NativeError{Message: "Failed to get row count"}
	}

	n, err := strconv.ParseInt(rs.Rows[0][0].String, 10, 64)
	if err != nil {
		return 0, &common.NativeError{Message: "Failed to get row count", Err: err}
	}
	return n, nil
}

// CancelQuery interrupts whatever the connection's query session is running.
func (e *Engine) CancelQuery(connID string) error {
	d, err := e.conns.QueryDriver(connID)
	if err != nil {
		return err
	}
	d.Cancel()
	log.Debug().Str("connection_id", connID).Msg("Cancel requested")
	return nil
}

// MetadataExecute runs sql on the connection's metadata session, which never
// queues behind the query session.
func (e *Engine) MetadataExecute(ctx context.Context, connID, sql string) (*driver.ResultSet, error) {
	if err := requireSQL(sql); err != nil {
		return nil, err
	}
	d, err := e.conns.MetadataDriver(connID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rs, err := d.Execute(ctx, sql)
	observe(modeMetadata, start, rs, err)
	return rs, err
}
