// Package index provides the persistent SQLite FTS5 full-text index over the note store.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/starford/notesearch/internal/apperr"
)

const schemaSQL = `
CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
	note_id UNINDEXED,
	title,
	snippet,
	folder,
	content,
	tokenize = 'porter unicode61'
);

CREATE TABLE IF NOT EXISTS index_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const metaLastBuild = "last_build"

// openConn opens (or creates) the index file and applies the schema.
// Every caller gets its own handle; rebuilds never share the read handle.
func openConn(ctx context.Context, path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create cache dir: %v", apperr.ErrStorageUnavailable, err)
		}
	}
	conn, err := sql.Open(DriverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", apperr.ErrStorageUnavailable, path, err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: ping %s: %v", apperr.ErrStorageUnavailable, path, err)
	}
	if _, err := conn.ExecContext(ctx, schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: apply schema: %v", apperr.ErrStorageUnavailable, err)
	}
	return conn, nil
}

// queryFailed wraps an engine error with its diagnostic message.
func queryFailed(op string, err error) error {
	return fmt.Errorf("%w: %s: %s", apperr.ErrQueryFailed, op, err.Error())
}
