package sqltext

import (
	"regexp"
	"strings"

	"github.com/velocitydb/velocity/common"
)

var (
	usePattern       = regexp.MustCompile(`(?i)^\s*USE\s+(\[?\w+\]?)\s*;?\s*$`)
	returningPattern = regexp.MustCompile(`(?i)\b(RETURNING|OUTPUT)\b`)
	dmlKeywords      = []string{"INSERT", "UPDATE", "DELETE", "MERGE"}
)

var keywordCodes = map[string]common.StatementCode{
	"SELECT":   common.StatementSelect,
	"WITH":     common.StatementWith,
	"INSERT":   common.StatementInsert,
	"REPLACE":  common.StatementInsert,
	"UPDATE":   common.StatementUpdate,
	"DELETE":   common.StatementDelete,
	"MERGE":    common.StatementMerge,
	"CREATE":   common.StatementDDL,
	"ALTER":    common.StatementDDL,
	"DROP":     common.StatementDDL,
	"TRUNCATE": common.StatementDDL,
	"USE":      common.StatementUse,
	"BEGIN":    common.StatementBegin,
	"START":    common.StatementBegin,
	"COMMIT":   common.StatementCommit,
	"END":      common.StatementCommit,
	"ROLLBACK": common.StatementRollback,
	"EXEC":     common.StatementExec,
	"EXECUTE":  common.StatementExec,
	"CALL":     common.StatementExec,
	"SHOW":     common.StatementShow,
	"DESCRIBE": common.StatementShow,
	"DESC":     common.StatementShow,
	"PRAGMA":   common.StatementPragma,
	"EXPLAIN":  common.StatementExplain,
	"SET":      common.StatementSet,
	"VALUES":   common.StatementValues,
}

// IsReadOnlyQuery is true for SELECT, and for WITH unless a DML keyword
// appears anywhere in the text. The WITH check is a conservative text scan,
// not a parse.
func IsReadOnlyQuery(sql string) bool {
	trimmed := strings.TrimSpace(sql)
	if hasPrefixFold(trimmed, "select") {
		return true
	}
	if !hasPrefixFold(trimmed, "with") {
		return false
	}

	upper := strings.ToUpper(trimmed)
	for _, kw := range dmlKeywords {
		if strings.Contains(upper, kw) {
			return false
		}
	}
	return true
}

// IsUseStatement reports whether sql is exactly "USE name" or "USE [name]".
func IsUseStatement(sql string) bool {
	return usePattern.MatchString(strings.TrimSpace(sql))
}

// ExtractDatabaseName returns the catalog named by a USE statement with
// brackets removed, or "" when sql is not a USE statement.
func ExtractDatabaseName(sql string) string {
	m := usePattern.FindStringSubmatch(strings.TrimSpace(sql))
	if m == nil {
		return ""
	}
	name := m[1]
	if len(name) >= 2 && name[0] == '[' && name[len(name)-1] == ']' {
		name = name[1 : len(name)-1]
	}
	return name
}

// Classify returns the statement code of the first keyword in sql, skipping
// leading whitespace, comments and opening parentheses.
func Classify(sql string) common.StatementCode {
	kw := firstKeyword(sql)
	if kw == "" {
		return common.StatementUnknown
	}
	if code, ok := keywordCodes[kw]; ok {
		return code
	}
	return common.StatementUnknown
}

// ReturnsRows decides whether sql should be run as a query (row set) or as
// an exec (affected-row count).
func ReturnsRows(sql string) bool {
	code := Classify(sql)
	switch code {
	case common.StatementWith:
		return IsReadOnlyQuery(sql) || returningPattern.MatchString(sql)
	case common.StatementInsert, common.StatementUpdate, common.StatementDelete, common.StatementMerge:
		return returningPattern.MatchString(sql)
	case common.StatementUnknown:
		// Unknown statements are issued as queries; zero columns is a valid outcome.
		return true
	}
	return code.ReturnsRows()
}

func firstKeyword(sql string) string {
	i := 0
	for i < len(sql) {
		c := sql[i]
		switch {
		case isSpace(c) || c == '(':
			i++
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			nl := strings.IndexByte(sql[i:], '\n')
			if nl < 0 {
				return ""
			}
			i += nl + 1
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return ""
			}
			i += end + 4
		default:
			j := i
			for j < len(sql) && (isLetter(sql[j]) || sql[j] == '_') {
				j++
			}
			return strings.ToUpper(sql[i:j])
		}
	}
	return ""
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
