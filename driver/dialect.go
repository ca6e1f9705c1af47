package driver

import (
	"fmt"
	"strings"
)

// Dialect identifies the database family behind a session.
type Dialect string

const (
	SQLServer  Dialect = "sqlserver"
	PostgreSQL Dialect = "postgresql"
	MySQL      Dialect = "mysql"
	SQLite     Dialect = "sqlite"
)

// ParseDialect maps user input to a Dialect. Unknown and empty values fall back to SQL Server.
func ParseDialect(s string) Dialect {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgresql", "postgres", "pg":
		return PostgreSQL
	case "mysql", "mariadb":
		return MySQL
	case "sqlite", "sqlite3":
		return SQLite
	default:
		return SQLServer
	}
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case PostgreSQL:
		return "pgx"
	case MySQL:
		return "mysql"
	case SQLite:
		return SQLiteDriverName
	default:
		return "sqlserver"
	}
}

// DefaultPort returns the server port used when "host,port" carries no port.
func (d Dialect) DefaultPort() int {
	switch d {
	case PostgreSQL:
		return 5432
	case MySQL:
		return 3306
	case SQLite:
		return 0
	default:
		return 1433
	}
}

// BeginStatement is the native statement that opens an explicit transaction.
func (d Dialect) BeginStatement() string {
	switch d {
	case SQLServer:
		return "BEGIN TRANSACTION"
	case MySQL:
		return "START TRANSACTION"
	default:
		return "BEGIN"
	}
}

func (d Dialect) CommitStatement() string   { return "COMMIT" }
func (d Dialect) RollbackStatement() string { return "ROLLBACK" }

// QuoteIdentifier quotes a column or table name so it cannot break out of the identifier grammar.
func (d Dialect) QuoteIdentifier(name string) string {
	switch d {
	case SQLServer:
		return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	case MySQL:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	default:
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
}

// PaginateSQL wraps query so that rows [offset, offset+limit) are returned.
// orderBy is an already-quoted ORDER BY list without the keyword; empty means natural order.
func (d Dialect) PaginateSQL(query string, orderBy string, offset, limit int) string {
	if d == SQLServer {
		if orderBy == "" {
			orderBy = "(SELECT NULL)"
		}
		return fmt.Sprintf("SELECT * FROM (%s) AS page ORDER BY %s OFFSET %d ROWS FETCH NEXT %d ROWS ONLY",
			query, orderBy, offset, limit)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM (%s) AS page", query)
	if orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(orderBy)
	}
	fmt.Fprintf(&b, " LIMIT %d OFFSET %d", limit, offset)
	return b.String()
}

// CountSQL wraps query in a total-row-count statement. The single column is total_rows.
func (d Dialect) CountSQL(query string) string {
	if d == SQLServer {
		return fmt.Sprintf("SELECT COUNT_BIG(*) AS total_rows FROM (%s) AS subquery", query)
	}
	return fmt.Sprintf("SELECT COUNT(*) AS total_rows FROM (%s) AS subquery", query)
}
