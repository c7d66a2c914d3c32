package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/notesearch/internal/apperr"
	"github.com/starford/notesearch/internal/models"
	"github.com/starford/notesearch/internal/parser"
)

// FS implements Source over a directory of Markdown files.
// Note ids are slash-separated paths relative to the vault root.
type FS struct {
	root string // absolute path to vault directory

	modTTL   time.Duration
	modGroup singleflight.Group
	modMu    sync.Mutex
	modGen   uint64 // bumped by InvalidateModTime
	modAt    time.Time
	modValue time.Time
	modValid bool
}

var _ Source = (*FS)(nil)

// FSOption configures an FS.
type FSOption func(*FS)

// WithModTimeCache keeps the result of LatestModificationTime for ttl.
// Callers that observe vault changes must call InvalidateModTime.
func WithModTimeCache(ttl time.Duration) FSOption {
	return func(f *FS) {
		if ttl > 0 {
			f.modTTL = ttl
		}
	}
}

// NewFS creates a new FS source rooted at the given directory.
// The directory must already exist.
func NewFS(root string, opts ...FSOption) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	f := &FS{root: abs}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

// Root returns the absolute vault directory.
func (f *FS) Root() string { return f.root }

// safePath resolves a relative path against the vault root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	abs, err := filepath.Abs(filepath.Join(f.root, cleaned))
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes vault root: %s", rel)
	}
	return abs, nil
}

// ID converts an absolute file path inside the vault to a note id.
func (f *FS) ID(absPath string) (string, error) {
	rel, err := filepath.Rel(f.root, absPath)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// ListNotes walks folder and returns a summary for every .md file, newest first.
func (f *FS) ListNotes(ctx context.Context, folder string, limit int) ([]models.NoteSummary, error) {
	base, err := f.safePath(folder)
	if err != nil {
		return nil, err
	}
	var out []models.NoteSummary
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !IsNote(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		id, _ := f.ID(p)
		out = append(out, summarize(id, data, info.ModTime()))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ModifiedAt.Equal(out[j].ModifiedAt) {
			return out[i].ModifiedAt.After(out[j].ModifiedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReadContent reads and parses a note, returning its plain text.
func (f *FS) ReadContent(_ context.Context, id string) (*models.NoteBody, error) {
	abs, err := f.safePath(id)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("storage: read %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("storage: read %s: %w", id, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", id, err)
	}
	res, err := parser.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("storage: parse %s: %w", id, err)
	}
	return &models.NoteBody{
		NoteSummary: models.NoteSummary{
			ID:         id,
			Title:      titleOrStem(res.Title, id),
			Folder:     folderOf(id),
			ModifiedAt: info.ModTime(),
		},
		Content: res.Body,
	}, nil
}

// LatestModificationTime returns the newest mtime over notes and directories.
// Directory mtimes change on delete and rename, so removals also count.
// Concurrent callers share one walk; with WithModTimeCache the result is
// reused until it expires or InvalidateModTime is called.
func (f *FS) LatestModificationTime(ctx context.Context) (time.Time, error) {
	f.modMu.Lock()
	gen := f.modGen
	if f.modValid && time.Since(f.modAt) < f.modTTL {
		v := f.modValue
		f.modMu.Unlock()
		return v, nil
	}
	f.modMu.Unlock()

	ch := f.modGroup.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		latest, err := f.walkModTime(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		f.modMu.Lock()
		if f.modTTL > 0 && f.modGen == gen {
			f.modValue, f.modAt, f.modValid = latest, time.Now(), true
		}
		f.modMu.Unlock()
		return latest, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return time.Time{}, res.Err
		}
		return res.Val.(time.Time), nil
	case <-ctx.Done():
		return time.Time{}, fmt.Errorf("storage: latest modification: %w", ctx.Err())
	}
}

// InvalidateModTime drops the cached modification time. Walks already in
// flight do not repopulate the cache.
func (f *FS) InvalidateModTime() {
	f.modMu.Lock()
	f.modGen++
	f.modValid = false
	f.modMu.Unlock()
}

func (f *FS) walkModTime(ctx context.Context) (time.Time, error) {
	var latest time.Time
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.IsDir() && !IsNote(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: latest modification: %w", err)
	}
	return latest, nil
}

// Summary reads a single note summary, used for incremental updates.
func (f *FS) Summary(id string) (models.NoteSummary, error) {
	abs, err := f.safePath(id)
	if err != nil {
		return models.NoteSummary{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.NoteSummary{}, fmt.Errorf("storage: stat %s: %w", id, apperr.ErrNotFound)
		}
		return models.NoteSummary{}, fmt.Errorf("storage: stat %s: %w", id, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return models.NoteSummary{}, fmt.Errorf("storage: read %s: %w", id, err)
	}
	return summarize(id, data, info.ModTime()), nil
}

// IsNote reports whether name is an indexable note file.
func IsNote(name string) bool {
	return strings.HasSuffix(name, ".md") && !strings.HasPrefix(name, ".")
}

func summarize(id string, data []byte, mod time.Time) models.NoteSummary {
	title := ""
	if res, err := parser.Parse(data); err == nil {
		title = res.Title
	}
	return models.NoteSummary{
		ID:         id,
		Title:      titleOrStem(title, id),
		Folder:     folderOf(id),
		ModifiedAt: mod,
	}
}

func titleOrStem(title, id string) string {
	if title != "" {
		return title
	}
	return strings.TrimSuffix(path.Base(id), ".md")
}

func folderOf(id string) string {
	dir := path.Dir(id)
	if dir == "." {
		return ""
	}
	return dir
}
