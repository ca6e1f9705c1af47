package driver

import (
	"database/sql"
	"regexp"

	"github.com/mattn/go-sqlite3"
)

// SQLiteDriverName is the custom driver name with REGEXP support
const SQLiteDriverName = "sqlite3_velocity"

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// Usage: column REGEXP 'pattern'
			return conn.RegisterFunc("regexp", regexpMatch, true)
		},
	})
}

// regexpMatch backs "text REGEXP pattern", which SQLite rewrites to regexp(pattern, text).
func regexpMatch(pattern, text string) (bool, error) {
	return regexp.MatchString(pattern, text)
}
