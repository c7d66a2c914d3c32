//go:build sqlite_fts5

package index

import (
	_ "github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver used for the index file.
// mattn/go-sqlite3 only enables FTS5 with the sqlite_fts5 build tag.
const DriverName = "sqlite3"

func dsn(path string) string {
	return path + "?_journal_mode=WAL&_busy_timeout=5000"
}
