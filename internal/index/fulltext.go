package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/starford/notesearch/internal/apperr"
	"github.com/starford/notesearch/internal/models"
	"github.com/starford/notesearch/internal/storage"
)

// Defaults for FullText options.
const (
	DefaultProgressEvery = 50
	DefaultSnippetTokens = 20
	DefaultHighlight     = "**"
	DefaultLimit         = 20

	previewRunes = 200
)

// ProgressFunc receives build progress as (done, total).
type ProgressFunc func(done, total int)

// Option configures a FullText index.
type Option func(*FullText)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *FullText) { f.logger = l }
}

// WithProgressEvery sets how many notes pass between progress reports.
func WithProgressEvery(n int) Option {
	return func(f *FullText) {
		if n > 0 {
			f.progressEvery = n
		}
	}
}

// WithSnippet sets the snippet window (1..64 tokens) and highlight markers.
func WithSnippet(tokens int, open, close string) Option {
	return func(f *FullText) {
		if tokens > 0 {
			f.snippetTokens = min(tokens, 64)
		}
		f.highlightOpen = open
		f.highlightClose = close
	}
}

// WithBuildHooks registers callbacks around every build, explicit or background.
func WithBuildHooks(onStart func(), onFinish func(count int, err error)) Option {
	return func(f *FullText) {
		f.onStart = onStart
		f.onFinish = onFinish
	}
}

// FullText is the persistent, ranked full-text index. Reads go through a
// long-lived handle; every build opens its own handle and replaces the whole
// table in one transaction, so readers never see a partial rebuild.
type FullText struct {
	path   string
	source storage.Source
	logger *slog.Logger

	progressEvery  int
	snippetTokens  int
	highlightOpen  string
	highlightClose string
	onStart        func()
	onFinish       func(int, error)

	mu     sync.RWMutex // guards read and closed
	read   *sql.DB
	closed bool

	rebuilding atomic.Bool
	stale      atomic.Bool
	staleMu    sync.Mutex // orders stale latches against completed builds
	buildGen   uint64     // guarded by staleMu
	buildRuns  atomic.Int64
	wg         sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// Open opens (or creates) the index file at path. Failure to open the file
// surfaces as apperr.ErrStorageUnavailable.
func Open(ctx context.Context, path string, source storage.Source, opts ...Option) (*FullText, error) {
	f := &FullText{
		path:           path,
		source:         source,
		logger:         slog.Default(),
		progressEvery:  DefaultProgressEvery,
		snippetTokens:  DefaultSnippetTokens,
		highlightOpen:  DefaultHighlight,
		highlightClose: DefaultHighlight,
	}
	for _, opt := range opts {
		opt(f)
	}

	conn, err := openConn(ctx, path)
	if err != nil {
		return nil, err
	}
	f.read = conn
	f.ctx, f.cancel = context.WithCancel(context.Background())
	return f, nil
}

// Path returns the index file path.
func (f *FullText) Path() string { return f.path }

// IsRebuilding reports whether a build is running.
func (f *FullText) IsRebuilding() bool { return f.rebuilding.Load() }

// Search runs a ranked OR query over title, snippet, folder and content.
// Scores are relevance values (higher is better). Queries without any
// letter or digit return no hits.
func (f *FullText) Search(ctx context.Context, query string, limit int) ([]models.Hit, error) {
	match := matchQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.read == nil {
		return nil, fmt.Errorf("%w: index closed", apperr.ErrStorageUnavailable)
	}

	rows, err := f.read.QueryContext(ctx, `
		SELECT note_id,
		       title,
		       folder,
		       snippet(notes_fts, -1, ?, ?, '...', ?),
		       bm25(notes_fts)
		FROM notes_fts
		WHERE notes_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, f.highlightOpen, f.highlightClose, f.snippetTokens, match, limit)
	if err != nil {
		return nil, queryFailed("search", err)
	}
	defer rows.Close()

	var out []models.Hit
	for rows.Next() {
		var (
			h    = models.Hit{Source: models.SourceFullText}
			bm25 float64
		)
		if err := rows.Scan(&h.NoteID, &h.Title, &h.Folder, &h.Snippet, &bm25); err != nil {
			return nil, queryFailed("scan", err)
		}
		h.Score = -bm25
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, queryFailed("search", err)
	}
	return out, nil
}

// LastBuildTime returns the recorded build time. ok is false when the index
// has never been built.
func (f *FullText) LastBuildTime(ctx context.Context) (t time.Time, ok bool, err error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.read == nil {
		return time.Time{}, false, fmt.Errorf("%w: index closed", apperr.ErrStorageUnavailable)
	}

	var raw string
	err = f.read.QueryRowContext(ctx, `SELECT value FROM index_meta WHERE key = ?`, metaLastBuild).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, queryFailed("read meta", err)
	}
	t, err = time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, queryFailed("parse last_build", err)
	}
	return t, true, nil
}

// IndexedCount returns the number of entries in the index.
func (f *FullText) IndexedCount(ctx context.Context) (int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.read == nil {
		return 0, fmt.Errorf("%w: index closed", apperr.ErrStorageUnavailable)
	}
	var n int
	if err := f.read.QueryRowContext(ctx, `SELECT count(*) FROM notes_fts`).Scan(&n); err != nil {
		return 0, queryFailed("count", err)
	}
	return n, nil
}

// IsStale reports whether the note store changed after the last build.
// A never-built index is stale. Once observed, staleness holds until the
// next successful build.
func (f *FullText) IsStale(ctx context.Context) bool {
	for {
		if f.stale.Load() {
			return true
		}
		gen := f.generation()
		last, ok, err := f.LastBuildTime(ctx)
		if err != nil || !ok {
			return true
		}
		latest, err := f.source.LatestModificationTime(ctx)
		if err != nil {
			f.logger.Warn("fulltext: staleness check failed", slog.String("error", err.Error()))
			return false
		}
		if !latest.After(last) {
			return false
		}
		if f.latchStale(gen) {
			return true
		}
		// A build completed while checking; compare against its build time.
	}
}

func (f *FullText) generation() uint64 {
	f.staleMu.Lock()
	defer f.staleMu.Unlock()
	return f.buildGen
}

// latchStale marks the index stale unless a build completed after gen was read.
func (f *FullText) latchStale(gen uint64) bool {
	f.staleMu.Lock()
	defer f.staleMu.Unlock()
	if f.buildGen != gen {
		return false
	}
	f.stale.Store(true)
	return true
}

// markBuilt records a completed build and clears staleness.
func (f *FullText) markBuilt() {
	f.staleMu.Lock()
	defer f.staleMu.Unlock()
	f.buildGen++
	f.stale.Store(false)
}

// matchQuery turns free text into an FTS5 expression: every whitespace
// separated term that contains a letter or digit is quoted and the terms are
// ORed together.
func matchQuery(query string) string {
	var terms []string
	for _, term := range strings.Fields(query) {
		if !strings.ContainsFunc(term, func(r rune) bool {
			return unicode.IsLetter(r) || unicode.IsDigit(r)
		}) {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(term, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}

// preview returns the leading text of content with whitespace collapsed.
func preview(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	r := []rune(s)
	if len(r) > previewRunes {
		return string(r[:previewRunes])
	}
	return s
}
