package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
	"github.com/velocitydb/velocity/common"
	"github.com/velocitydb/velocity/driver"
)

// FilterType selects how a column value is matched.
type FilterType string

const (
	FilterEquals   FilterType = "equals"
	FilterContains FilterType = "contains"
	FilterRange    FilterType = "range"
	FilterGlob     FilterType = "glob"
)

// Filter keeps rows whose value in ColumnIndex matches. For FilterRange,
// Value and MaxValue are inclusive bounds and either may be empty.
type Filter struct {
	ColumnIndex int
	Type        FilterType
	Value       string
	MaxValue    string
}

// FilterResult is the matching subset of a result set.
type FilterResult struct {
	Columns      []driver.Column
	Rows         []driver.Row
	TotalRows    int
	FilteredRows int
}

type matcher func(v driver.Value) bool

func (f Filter) matcher() (matcher, error) {
	switch f.Type {
	case FilterEquals:
		return func(v driver.Value) bool { return !v.Null && v.String == f.Value }, nil
	case FilterContains:
		return func(v driver.Value) bool { return !v.Null && strings.Contains(v.String, f.Value) }, nil
	case FilterRange:
		return rangeMatcher(f.Value, f.MaxValue), nil
	case FilterGlob:
		g, err := glob.Compile(f.Value)
		if err != nil {
			return nil, common.NewInvalidArgument("filterValue", fmt.Sprintf("invalid glob pattern: %v", err))
		}
		return func(v driver.Value) bool { return !v.Null && g.Match(v.String) }, nil
	default:
		return nil, common.NewInvalidArgument("filterType", fmt.Sprintf("Unknown filter type: %s", f.Type))
	}
}

// rangeMatcher compares numerically when the bounds and the value all parse
// as numbers, and lexically otherwise.
func rangeMatcher(lo, hi string) matcher {
	loNum, loErr := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	hiNum, hiErr := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	numericBounds := (lo == "" || loErr == nil) && (hi == "" || hiErr == nil)

	return func(v driver.Value) bool {
		if v.Null {
			return false
		}
		if numericBounds {
			if n, err := strconv.ParseFloat(strings.TrimSpace(v.String), 64); err == nil {
				return (lo == "" || n >= loNum) && (hi == "" || n <= hiNum)
			}
		}
		return (lo == "" || v.String >= lo) && (hi == "" || v.String <= hi)
	}
}

// Apply filters rs in memory.
func (f Filter) Apply(rs *driver.ResultSet) (*FilterResult, error) {
	match, err := f.matcher()
	if err != nil {
		return nil, err
	}
	if f.ColumnIndex < 0 || f.ColumnIndex >= len(rs.Columns) {
		return nil, common.NewInvalidArgument("columnIndex", fmt.Sprintf("%d is out of range for %d columns", f.ColumnIndex, len(rs.Columns)))
	}

	out := &FilterResult{Columns: rs.Columns, Rows: make([]driver.Row, 0), TotalRows: len(rs.Rows)}
	for _, row := range rs.Rows {
		if f.ColumnIndex < len(row) && match(row[f.ColumnIndex]) {
			out.Rows = append(out.Rows, row)
		}
	}
	out.FilteredRows = len(out.Rows)
	return out, nil
}

// FilterResultSet runs sql and keeps the rows matching filter. The filter is
// validated before anything is sent to the database.
func (e *Engine) FilterResultSet(ctx context.Context, connID, sql string, filter Filter) (*FilterResult, error) {
	if err := requireSQL(sql); err != nil {
		return nil, err
	}
	if _, err := filter.matcher(); err != nil {
		return nil, err
	}
	if filter.ColumnIndex < 0 {
		return nil, common.NewInvalidArgument("columnIndex", "must be >= 0")
	}

	d, err := e.conns.QueryDriver(connID)
	if err != nil {
		return nil, err
	}
	rs, err := d.Execute(ctx, sql)
	if err != nil {
		return nil, err
	}
	return filter.Apply(rs)
}
