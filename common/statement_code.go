// Package common provides shared types used across the codebase.
// StatementCode is defined here so that sqltext, driver and engine agree on
// how a statement is routed without importing each other.
package common

// StatementCode categorizes SQL statements by their leading keyword.
type StatementCode int

const (
	StatementUnknown StatementCode = iota // 0 - empty or unrecognized
	StatementSelect
	StatementWith
	StatementInsert
	StatementUpdate
	StatementDelete
	StatementMerge
	StatementDDL
	StatementUse
	StatementBegin
	StatementCommit
	StatementRollback
	StatementExec
	StatementShow
	StatementPragma
	StatementExplain
	StatementSet
	StatementValues
)

var statementCodeNames = map[StatementCode]string{
	StatementUnknown:  "OTHER",
	StatementSelect:   "SELECT",
	StatementWith:     "WITH",
	StatementInsert:   "INSERT",
	StatementUpdate:   "UPDATE",
	StatementDelete:   "DELETE",
	StatementMerge:    "MERGE",
	StatementDDL:      "DDL",
	StatementUse:      "USE",
	StatementBegin:    "BEGIN",
	StatementCommit:   "COMMIT",
	StatementRollback: "ROLLBACK",
	StatementExec:     "EXECUTE",
	StatementShow:     "SHOW",
	StatementPragma:   "PRAGMA",
	StatementExplain:  "EXPLAIN",
	StatementSet:      "SET",
	StatementValues:   "VALUES",
}

// String returns the upper-case label of the code.
func (c StatementCode) String() string {
	if name, ok := statementCodeNames[c]; ok {
		return name
	}
	return "OTHER"
}

// ReturnsRows reports whether a statement of this kind is expected to produce a row set.
// WITH is ambiguous (CTE + DML) and is resolved by the caller.
func (c StatementCode) ReturnsRows() bool {
	switch c {
	case StatementSelect, StatementWith, StatementExec, StatementShow,
		StatementPragma, StatementExplain, StatementValues:
		return true
	}
	return false
}

// IsTransactionControl reports BEGIN/COMMIT/ROLLBACK.
func (c StatementCode) IsTransactionControl() bool {
	return c == StatementBegin || c == StatementCommit || c == StatementRollback
}
