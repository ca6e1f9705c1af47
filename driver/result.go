package driver

import "time"

// Column describes one result column.
type Column struct {
	Name       string
	Type       string
	Size       int
	Nullable   bool
	PrimaryKey bool
}

// Value is a stringified cell. Null is distinct from an empty String.
type Value struct {
	String string
	Null   bool
}

// NullValue is the SQL NULL cell.
var NullValue = Value{Null: true}

// Text builds a non-NULL cell.
func Text(s string) Value {
	return Value{String: s}
}

// Row is one result row in column order.
type Row []Value

// ResultSet is the outcome of one statement. It is never mutated after construction;
// the cache and concurrent readers share the same pointer.
type ResultSet struct {
	Columns       []Column
	Rows          []Row
	AffectedRows  int64 // -1 when the statement returned a row set
	ExecutionTime time.Duration
}

// StatementResult pairs a statement of a batch with its result.
type StatementResult struct {
	Statement string
	Result    *ResultSet
}

// MessageResult builds the one-row "Message" result used for client-side notices
// such as a database switch.
func MessageResult(msg string, elapsed time.Duration) *ResultSet {
	return &ResultSet{
		Columns:       []Column{{Name: "Message", Type: "VARCHAR", Size: len(msg), Nullable: false}},
		Rows:          []Row{{Text(msg)}},
		AffectedRows:  0,
		ExecutionTime: elapsed,
	}
}

const (
	resultSetOverhead = 64
	columnOverhead    = 48
	rowOverhead       = 24
	valueOverhead     = 16
)

// EstimatedSize approximates the resident bytes of the result for cache accounting.
func (rs *ResultSet) EstimatedSize() int64 {
	if rs == nil {
		return 0
	}

	size := int64(resultSetOverhead)
	for _, c := range rs.Columns {
		size += columnOverhead + int64(len(c.Name)+len(c.Type))
	}
	for _, row := range rs.Rows {
		size += rowOverhead
		for _, v := range row {
			size += valueOverhead + int64(len(v.String))
		}
	}
	return size
}

// ColumnIndex returns the index of the named column or -1.
func (rs *ResultSet) ColumnIndex(name string) int {
	for i, c := range rs.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}
