package driver

import (
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		server string
		host   string
		port   int
	}{
		{"db.local", "db.local", 1433},
		{"db.local,1444", "db.local", 1444},
		{"db.local,", "db.local", 1433},
		{"db.local,abc", "db.local", 1433},
		{"db.local,0", "db.local", 1433},
		{"db.local,70000", "db.local", 1433},
		{"db.local, 2000", "db.local", 2000},
	}

	for _, tt := range tests {
		t.Run(tt.server, func(t *testing.T) {
			host, port := SplitHostPort(tt.server, 1433)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
		})
	}
}

func TestEscapeODBCValue(t *testing.T) {
	assert.Equal(t, "{plain}", EscapeODBCValue("plain"))
	assert.Equal(t, "{a;b=c}", EscapeODBCValue("a;b=c"))
	assert.Equal(t, "{p}}w}}d}", EscapeODBCValue("p}w}d"))
	assert.Equal(t, "{}", EscapeODBCValue(""))
}

func TestBuildConnectionString_SQLServer(t *testing.T) {
	dsn := BuildConnectionString(ConnectionParams{
		Server:   "srv,1500",
		Database: "Sales",
		Username: "sa",
		Password: "p};Server=evil",
		Dialect:  SQLServer,
	})

	assert.True(t, strings.HasPrefix(dsn, "odbc:"))
	assert.Contains(t, dsn, "server={srv};")
	assert.Contains(t, dsn, "port={1500};")
	assert.Contains(t, dsn, "database={Sales};")
	assert.Contains(t, dsn, "password={p}};Server=evil};")
	assert.NotContains(t, dsn, "trusted_connection")
}

func TestBuildConnectionString_SQLServerWindowsAuth(t *testing.T) {
	dsn := BuildConnectionString(ConnectionParams{
		Server:         "srv",
		Database:       "master",
		Username:       "ignored",
		UseWindowsAuth: true,
		Dialect:        SQLServer,
	})

	assert.Contains(t, dsn, "port={1433};")
	assert.Contains(t, dsn, "trusted_connection={yes};")
	assert.NotContains(t, dsn, "ignored")
}

func TestBuildConnectionString_MySQLRoundTrip(t *testing.T) {
	dsn := BuildConnectionString(ConnectionParams{
		Server:   "mysql.local",
		Database: "app",
		Username: "root",
		Password: "pa@ss/word",
		Dialect:  MySQL,
	})

	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "root", parsed.User)
	assert.Equal(t, "pa@ss/word", parsed.Passwd)
	assert.Equal(t, "mysql.local:3306", parsed.Addr)
	assert.Equal(t, "app", parsed.DBName)
}

func TestBuildConnectionString_Postgres(t *testing.T) {
	dsn := BuildConnectionString(ConnectionParams{
		Server:   "pg.local,6543",
		Database: "app",
		Username: "me",
		Password: `it's\secret`,
		Dialect:  PostgreSQL,
	})

	assert.Equal(t, `host='pg.local' port='6543' dbname='app' user='me' password='it\'s\\secret'`, dsn)
}

func TestBuildConnectionString_SQLite(t *testing.T) {
	assert.Equal(t, ":memory:", BuildConnectionString(ConnectionParams{Server: ":memory:", Dialect: SQLite}))
	assert.Equal(t, "file:/tmp/a%3fb.db?_busy_timeout=5000&_foreign_keys=on",
		BuildConnectionString(ConnectionParams{Server: "/tmp/a?b.db", Dialect: SQLite}))
}

func TestParseDialect(t *testing.T) {
	assert.Equal(t, PostgreSQL, ParseDialect("postgresql"))
	assert.Equal(t, PostgreSQL, ParseDialect("Postgres"))
	assert.Equal(t, MySQL, ParseDialect("mysql"))
	assert.Equal(t, SQLite, ParseDialect("sqlite3"))
	assert.Equal(t, SQLServer, ParseDialect(""))
	assert.Equal(t, SQLServer, ParseDialect("oracle"))
}
