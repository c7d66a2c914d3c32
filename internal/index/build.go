package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/starford/notesearch/internal/apperr"
	"github.com/starford/notesearch/internal/models"
)

// Build replaces the whole index with the current contents of the note store
// and returns the number of notes indexed. Notes that cannot be read are
// logged and skipped. It fails with apperr.ErrBuildInProgress when another
// build is running. Close cancels and waits for it.
func (f *FullText) Build(ctx context.Context, progress ProgressFunc) (int, error) {
	f.mu.RLock()
	if f.closed {
		f.mu.RUnlock()
		return 0, fmt.Errorf("%w: index closed", apperr.ErrStorageUnavailable)
	}
	if !f.rebuilding.CompareAndSwap(false, true) {
		f.mu.RUnlock()
		return 0, apperr.ErrBuildInProgress
	}
	f.wg.Add(1)
	f.mu.RUnlock()
	defer f.wg.Done()
	defer f.rebuilding.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(f.ctx, cancel)
	defer stop()
	return f.build(ctx, progress)
}

// RebuildInBackground starts a build on its own goroutine unless one is
// already running, in which case it does nothing. It reports whether a build
// was started.
func (f *FullText) RebuildInBackground() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}
	if !f.rebuilding.CompareAndSwap(false, true) {
		return false
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer f.rebuilding.Store(false)

		start := time.Now()
		n, err := f.build(f.ctx, nil)
		if err != nil {
			f.logger.Error("fulltext: background rebuild failed", slog.String("error", err.Error()))
			return
		}
		f.logger.Info("fulltext: background rebuild finished",
			slog.Int("notes", n),
			slog.Duration("took", time.Since(start)))
	}()
	return true
}

// Wait blocks until any background build has finished.
func (f *FullText) Wait() { f.wg.Wait() }

func (f *FullText) build(ctx context.Context, progress ProgressFunc) (n int, err error) {
	f.buildRuns.Add(1)
	if f.onStart != nil {
		f.onStart()
	}
	defer func() {
		if f.onFinish != nil {
			f.onFinish(n, err)
		}
	}()

	started := time.Now().UTC()
	notes, err := f.source.ListNotes(ctx, "", 0)
	if err != nil {
		return 0, fmt.Errorf("fulltext: list notes: %w", err)
	}

	conn, err := openConn(ctx, f.path)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, queryFailed("begin", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM notes_fts`); err != nil {
		return 0, queryFailed("clear", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO notes_fts (note_id, title, snippet, folder, content) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, queryFailed("prepare insert", err)
	}
	defer stmt.Close()

	total := len(notes)
	for i, note := range notes {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if body, readErr := f.source.ReadContent(ctx, note.ID); readErr != nil {
			f.logger.Warn("fulltext: note skipped",
				slog.String("id", note.ID),
				slog.String("error", readErr.Error()))
		} else {
			title := body.Title
			if title == "" {
				title = note.Title
			}
			if _, err := stmt.ExecContext(ctx, note.ID, title, preview(body.Content), note.Folder, body.Content); err != nil {
				return 0, queryFailed("insert "+note.ID, err)
			}
			n++
		}

		done := i + 1
		if progress != nil && (done%f.progressEvery == 0 || done == total) {
			progress(done, total)
		}
		if done%f.progressEvery == 0 {
			f.logger.Debug("fulltext: build progress", slog.Int("done", done), slog.Int("total", total))
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO index_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		metaLastBuild, started.Format(time.RFC3339Nano)); err != nil {
		return 0, queryFailed("write meta", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, queryFailed("commit", err)
	}

	f.markBuilt()
	return n, nil
}

// AutoResult is the outcome of SearchWithAutoRebuild.
type AutoResult struct {
	Hits       []models.Hit
	WasStale   bool
	Rebuilding bool
}

// SearchWithAutoRebuild never blocks on a build. A never-built index yields
// no hits and starts a background build; a stale index is searched as is and
// rebuilt in the background for later queries.
func (f *FullText) SearchWithAutoRebuild(ctx context.Context, query string, limit int) (AutoResult, error) {
	_, built, err := f.LastBuildTime(ctx)
	if err != nil {
		return AutoResult{}, err
	}
	if !built {
		f.RebuildInBackground()
		return AutoResult{WasStale: true, Rebuilding: f.IsRebuilding()}, nil
	}

	stale := f.IsStale(ctx)
	if stale {
		f.RebuildInBackground()
	}
	hits, err := f.Search(ctx, query, limit)
	if err != nil {
		return AutoResult{}, err
	}
	return AutoResult{Hits: hits, WasStale: stale, Rebuilding: f.IsRebuilding()}, nil
}

// Staleness summarises index freshness for display.
type Staleness struct {
	IsStale   bool      `json:"is_stale"`
	Built     bool      `json:"built"`
	LastBuild time.Time `json:"last_build,omitempty"`
	NoteCount int       `json:"note_count"`
	Message   string    `json:"message"`
}

// StalenessInfo reports freshness with a human readable message.
func (f *FullText) StalenessInfo(ctx context.Context) (Staleness, error) {
	last, built, err := f.LastBuildTime(ctx)
	if err != nil {
		return Staleness{}, err
	}
	if !built {
		return Staleness{IsStale: true, Message: "Index not built."}, nil
	}
	count, err := f.IndexedCount(ctx)
	if err != nil {
		return Staleness{}, err
	}

	s := Staleness{Built: true, LastBuild: last, NoteCount: count}
	if f.IsStale(ctx) {
		s.IsStale = true
		s.Message = fmt.Sprintf("Index may be stale (built %s). Rebuilding in background...", humanize.Time(last))
	} else {
		s.Message = "Index is up to date."
	}
	return s, nil
}

// DeleteIndex removes the index file and starts over with an empty index.
// It fails with apperr.ErrBuildInProgress while a build is running.
func (f *FullText) DeleteIndex(ctx context.Context) error {
	if !f.rebuilding.CompareAndSwap(false, true) {
		return apperr.ErrBuildInProgress
	}
	defer f.rebuilding.Store(false)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("%w: index closed", apperr.ErrStorageUnavailable)
	}
	if f.read != nil {
		f.read.Close()
		f.read = nil
	}
	for _, p := range []string{f.path, f.path + "-wal", f.path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("fulltext: remove %s: %w", p, err)
		}
	}
	f.markBuilt()

	conn, err := openConn(ctx, f.path)
	if err != nil {
		return err
	}
	f.read = conn
	return nil
}

// Close stops background builds, waits for them and closes the read handle.
func (f *FullText) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	f.cancel()
	f.wg.Wait()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.read == nil {
		return nil
	}
	err := f.read.Close()
	f.read = nil
	return err
}
