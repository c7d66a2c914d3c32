//go:build !sqlite_fts5

package index

import (
	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver used for the index file.
// The pure-Go driver ships with FTS5 compiled in.
const DriverName = "sqlite"

func dsn(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}
