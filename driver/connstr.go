package driver

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// SSHParams describes an optional SSH hop in front of the database server.
type SSHParams struct {
	Enabled        bool
	Host           string
	Port           int
	Username       string
	AuthType       string // "password" or "privateKey"
	Password       string
	PrivateKeyPath string
	KeyPassphrase  string
}

// ConnectionParams are the decoded connection inputs from the dispatch layer.
// Server is "host" or "host,port"; for SQLite it is the database file path.
type ConnectionParams struct {
	Server         string
	Database       string
	Username       string
	Password       string
	UseWindowsAuth bool
	Dialect        Dialect
	SSH            SSHParams
}

// SplitHostPort splits "host,port". A missing or invalid port yields defaultPort.
func SplitHostPort(server string, defaultPort int) (string, int) {
	host, portStr, found := strings.Cut(server, ",")
	if !found {
		return server, defaultPort
	}

	port, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil || port < 1 || port > 65535 {
		port = defaultPort
	}
	return host, port
}

// EscapeODBCValue wraps value in braces and doubles any closing brace,
// so ';' '=' and '}' inside the value stay part of it.
func EscapeODBCValue(value string) string {
	return "{" + strings.ReplaceAll(value, "}", "}}") + "}"
}

// BuildConnectionString renders params as a DSN for the dialect's database/sql driver.
func BuildConnectionString(p ConnectionParams) string {
	switch p.Dialect {
	case PostgreSQL:
		return buildPostgresDSN(p)
	case MySQL:
		return buildMySQLDSN(p)
	case SQLite:
		return buildSQLiteDSN(p)
	default:
		return buildSQLServerDSN(p)
	}
}

func buildSQLServerDSN(p ConnectionParams) string {
	host, port := SplitHostPort(p.Server, SQLServer.DefaultPort())

	var b strings.Builder
	b.WriteString("odbc:")
	fmt.Fprintf(&b, "server=%s;", EscapeODBCValue(host))
	fmt.Fprintf(&b, "port=%s;", EscapeODBCValue(strconv.Itoa(port)))
	fmt.Fprintf(&b, "database=%s;", EscapeODBCValue(p.Database))
	if p.UseWindowsAuth {
		b.WriteString("trusted_connection={yes};")
	} else {
		fmt.Fprintf(&b, "user id=%s;", EscapeODBCValue(p.Username))
		fmt.Fprintf(&b, "password=%s;", EscapeODBCValue(p.Password))
	}
	return b.String()
}

func buildMySQLDSN(p ConnectionParams) string {
	host, port := SplitHostPort(p.Server, MySQL.DefaultPort())

	c := mysql.NewConfig()
	c.User = p.Username
	c.Passwd = p.Password
	c.Net = "tcp"
	c.Addr = fmt.Sprintf("%s:%d", host, port)
	c.DBName = p.Database
	c.Timeout = 30 * time.Second
	c.MultiStatements = false
	return c.FormatDSN()
}

func buildPostgresDSN(p ConnectionParams) string {
	host, port := SplitHostPort(p.Server, PostgreSQL.DefaultPort())

	pairs := []struct{ k, v string }{
		{"host", host},
		{"port", strconv.Itoa(port)},
		{"dbname", p.Database},
		{"user", p.Username},
		{"password", p.Password},
	}

	parts := make([]string, 0, len(pairs))
	for _, kv := range pairs {
		if kv.v == "" {
			continue
		}
		parts = append(parts, kv.k+"="+quotePostgresValue(kv.v))
	}
	return strings.Join(parts, " ")
}

// quotePostgresValue single-quotes a keyword/value DSN value, escaping ' and \.
func quotePostgresValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func buildSQLiteDSN(p ConnectionParams) string {
	path := p.Server
	if path == "" {
		path = p.Database
	}
	if path == ":memory:" || path == "" {
		return ":memory:"
	}

	escaped := strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23").Replace(path)
	return "file:" + escaped + "?_busy_timeout=5000&_foreign_keys=on"
}
