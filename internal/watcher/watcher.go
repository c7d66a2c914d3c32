// Package watcher keeps the search indexes current as files in the vault change.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/notesearch/internal/storage"
)

// DefaultDebounce delays full-text rebuilds after a burst of changes.
const DefaultDebounce = 2 * time.Second

// EventCallback is called after each note change has been applied.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, id string)

// SemanticUpdater receives incremental note changes.
type SemanticUpdater interface {
	AddNote(ctx context.Context, id, title, folder string)
	RemoveNote(ctx context.Context, id string)
}

// Invalidator drops a cache.
type Invalidator interface {
	Invalidate()
}

// Rebuilder starts a background rebuild.
type Rebuilder interface {
	RebuildInBackground() bool
}

// Targets are the components a Watcher keeps current. Nil fields are skipped.
type Targets struct {
	Semantic SemanticUpdater
	Exact    Invalidator
	FullText Rebuilder
}

// Watcher applies vault changes to the indexes.
type Watcher struct {
	vault    *storage.FS
	targets  Targets
	debounce time.Duration
	logger   *slog.Logger
	cb       EventCallback
}

// New creates a Watcher. A debounce <= 0 uses DefaultDebounce.
func New(vault *storage.FS, targets Targets, debounce time.Duration, logger *slog.Logger, cb EventCallback) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{vault: vault, targets: targets, debounce: debounce, logger: logger, cb: cb}
}

// Run watches the vault until ctx is cancelled. New directories are added
// to the watch list as they appear. Full-text rebuilds are coalesced: each
// change pushes the rebuild back by the debounce period.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	root := w.vault.Root()
	if err := addDirsRecursive(fw, root); err != nil {
		return err
	}
	w.logger.Info("watcher: started", slog.String("root", root))

	var (
		rebuildTimer *time.Timer
		rebuildCh    <-chan time.Time
	)
	scheduleRebuild := func() {
		if rebuildTimer == nil {
			rebuildTimer = time.NewTimer(w.debounce)
			rebuildCh = rebuildTimer.C
		} else {
			rebuildTimer.Reset(w.debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if rebuildTimer != nil {
				rebuildTimer.Stop()
			}
			w.logger.Info("watcher: stopped")
			return nil

		case <-rebuildCh:
			if w.targets.FullText != nil && w.targets.FullText.RebuildInBackground() {
				w.logger.Debug("watcher: full-text rebuild started")
			}

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.handle(ctx, fw, ev) {
				scheduleRebuild()
			}

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// handle applies one fsnotify event and reports whether anything changed.
func (w *Watcher) handle(ctx context.Context, fw *fsnotify.Watcher, ev fsnotify.Event) bool {
	absPath := ev.Name
	w.vault.InvalidateModTime()

	if ev.Op&fsnotify.Create != 0 {
		if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
			if addErr := addDirsRecursive(fw, absPath); addErr != nil {
				w.logger.Warn("watcher: add new dir failed",
					slog.String("path", absPath),
					slog.String("error", addErr.Error()))
			} else {
				w.logger.Debug("watcher: watching new dir", slog.String("path", absPath))
			}
			w.addDir(ctx, absPath)
			return true
		}
	}

	if !storage.IsNote(filepath.Base(absPath)) {
		// Directory removals and renames still change the note set.
		return ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0
	}
	id, err := w.vault.ID(absPath)
	if err != nil {
		return false
	}

	switch {
	case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
		kind := "updated"
		if ev.Op&fsnotify.Create != 0 {
			kind = "created"
		}
		w.upsert(ctx, id, kind)
		return true

	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// Rename fires on the old path; the new path arrives as a Create.
		if w.targets.Semantic != nil {
			w.targets.Semantic.RemoveNote(ctx, id)
		}
		w.invalidate()
		w.logger.Debug("watcher: removed", slog.String("id", id))
		w.notify("deleted", id)
		return true
	}
	return false
}

func (w *Watcher) upsert(ctx context.Context, id, kind string) {
	sum, err := w.vault.Summary(id)
	if err != nil {
		w.logger.Warn("watcher: read failed", slog.String("id", id), slog.String("error", err.Error()))
		return
	}
	if w.targets.Semantic != nil {
		w.targets.Semantic.AddNote(ctx, sum.ID, sum.Title, sum.Folder)
	}
	w.invalidate()
	w.logger.Debug("watcher: indexed", slog.String("id", id), slog.String("op", kind))
	w.notify(kind, id)
}

// addDir indexes notes that already exist in a newly created directory.
func (w *Watcher) addDir(ctx context.Context, dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !storage.IsNote(d.Name()) {
			return nil
		}
		if id, idErr := w.vault.ID(p); idErr == nil {
			w.upsert(ctx, id, "created")
		}
		return nil
	})
}

func (w *Watcher) invalidate() {
	if w.targets.Exact != nil {
		w.targets.Exact.Invalidate()
	}
}

func (w *Watcher) notify(kind, id string) {
	if w.cb != nil {
		w.cb(kind, id)
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fw.Add(p)
		}
		return nil
	})
}
