package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/velocitydb/velocity/common"
	"github.com/velocitydb/velocity/driver"
	"github.com/velocitydb/velocity/sqltext"
)

// BatchError reports the statement of a batch that stopped execution.
// Index is 1-based.
type BatchError struct {
	Index int
	Total int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("Statement %d of %d: %s", e.Index, e.Total, e.Err.Error())
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// ExecuteStatement runs one statement. A USE statement is answered with a
// one-row Message result naming the new database.
func ExecuteStatement(ctx context.Context, d driver.Driver, stmt string) (*driver.ResultSet, error) {
	if !sqltext.IsUseStatement(stmt) {
		return d.Execute(ctx, stmt)
	}

	start := time.Now()
	if _, err := d.Execute(ctx, stmt); err != nil {
		return nil, err
	}
	name := sqltext.ExtractDatabaseName(stmt)
	return driver.MessageResult("Database changed to "+name, time.Since(start)), nil
}

// ExecuteBatch runs statements in order on d. The first failure stops the
// batch; the results collected so far are returned with a *BatchError.
func ExecuteBatch(ctx context.Context, d driver.Driver, statements []string) ([]driver.StatementResult, error) {
	results := make([]driver.StatementResult, 0, len(statements))
	for i, stmt := range statements {
		if ctx.Err() != nil {
			return results, &BatchError{Index: i + 1, Total: len(statements), Err: common.ErrCancelled}
		}

		rs, err := ExecuteStatement(ctx, d, stmt)
		if err != nil {
			log.Debug().Err(err).Int("index", i+1).Int("total", len(statements)).Msg("Batch stopped")
			return results, &BatchError{Index: i + 1, Total: len(statements), Err: err}
		}
		results = append(results, driver.StatementResult{Statement: stmt, Result: rs})
	}
	return results, nil
}
