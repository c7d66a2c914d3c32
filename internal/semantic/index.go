// Package semantic keeps an in-memory map of note embeddings and ranks notes
// by cosine similarity to a query.
//
// All access to the entry map is serialised by one mutex. Full builds encode
// outside the lock into a staging map and swap it in, so searches keep
// serving the previous snapshot while a build runs. Incremental changes that
// arrive mid-build are journaled and replayed onto the staged map before the
// swap.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/starford/notesearch/internal/apperr"
	"github.com/starford/notesearch/internal/embedder"
	"github.com/starford/notesearch/internal/models"
	"github.com/starford/notesearch/internal/storage"
)

// DefaultLimit is used when Search is called with limit <= 0.
const DefaultLimit = 20

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Index) { s.logger = l }
}

// WithStore persists entries through st.
func WithStore(st Store) Option {
	return func(s *Index) { s.store = st }
}

// WithWorkers sets the encoding pool size for full builds.
func WithWorkers(n int) Option {
	return func(s *Index) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithBuildHooks registers callbacks around every full build.
func WithBuildHooks(onStart func(), onFinish func(count int, err error)) Option {
	return func(s *Index) {
		s.onStart = onStart
		s.onFinish = onFinish
	}
}

type opKind int

const (
	opAdd opKind = iota
	opRemove
)

type journalOp struct {
	kind  opKind
	id    string
	entry Entry
}

// Index is the semantic index.
type Index struct {
	source  storage.Source
	factory embedder.Factory
	store   Store
	logger  *slog.Logger
	workers int

	onStart  func()
	onFinish func(int, error)

	modelMu sync.Mutex
	model   embedder.Embedder

	mu        sync.Mutex
	entries   map[string]Entry
	built     bool
	lastBuild time.Time
	recording bool
	journal   []journalOp

	building  atomic.Bool
	stale     atomic.Bool
	buildRuns atomic.Int64
	wg        sync.WaitGroup

	lifeMu sync.Mutex // guards closed and wg.Add
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an empty index. The embedder is created through factory on
// first use.
func New(source storage.Source, factory embedder.Factory, opts ...Option) *Index {
	workers := runtime.NumCPU() / 2
	if workers < 1 {
		workers = 1
	}
	s := &Index{
		source:  source,
		factory: factory,
		logger:  slog.Default(),
		workers: workers,
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Restore loads persisted entries, if a store is configured. It returns the
// number of entries loaded.
func (s *Index) Restore(ctx context.Context) (int, error) {
	if s.store == nil {
		return 0, nil
	}
	snap, err := s.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.BuiltAt.IsZero() {
		return 0, nil
	}
	s.entries = snap.Entries
	s.lastBuild = snap.BuiltAt
	s.built = true
	return len(s.entries), nil
}

// ensureModel returns the embedder, creating it on first call. A failed
// creation is not cached, so later calls retry.
func (s *Index) ensureModel() (embedder.Embedder, error) {
	s.modelMu.Lock()
	defer s.modelMu.Unlock()
	if s.model != nil {
		return s.model, nil
	}
	m, err := s.factory()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrModelNotInitialized, err)
	}
	s.model = m
	return m, nil
}

// noteText is the text a note is embedded from.
func noteText(title, folder string) string {
	return strings.TrimSpace(title + " " + folder)
}

// BuildIndex encodes every note in the store. It fails with
// apperr.ErrBuildInProgress if a build is running and with
// apperr.ErrModelNotInitialized if the embedder cannot be created. When the
// index is already built and force is false it returns the current count.
func (s *Index) BuildIndex(ctx context.Context, force bool) (int, error) {
	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		return 0, fmt.Errorf("%w: semantic index closed", apperr.ErrStorageUnavailable)
	}
	if !s.building.CompareAndSwap(false, true) {
		s.lifeMu.Unlock()
		return 0, apperr.ErrBuildInProgress
	}
	s.wg.Add(1)
	s.lifeMu.Unlock()
	defer s.wg.Done()
	defer s.building.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if !force {
		s.mu.Lock()
		built, n := s.built, len(s.entries)
		s.mu.Unlock()
		if built {
			return n, nil
		}
	}
	return s.build(ctx)
}

// RebuildInBackground starts a forced build unless one is running. It
// reports whether a build was started.
func (s *Index) RebuildInBackground() bool {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.closed {
		return false
	}
	if !s.building.CompareAndSwap(false, true) {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.building.Store(false)

		start := time.Now()
		n, err := s.build(s.ctx)
		if err != nil {
			s.logger.Error("semantic: background rebuild failed", slog.String("error", err.Error()))
			return
		}
		s.logger.Info("semantic: background rebuild finished",
			slog.Int("notes", n),
			slog.Duration("took", time.Since(start)))
	}()
	return true
}

// Wait blocks until any background build has finished.
func (s *Index) Wait() { s.wg.Wait() }

// IsBuilding reports whether a build is running.
func (s *Index) IsBuilding() bool { return s.building.Load() }

func (s *Index) build(ctx context.Context) (n int, err error) {
	s.buildRuns.Add(1)
	if s.onStart != nil {
		s.onStart()
	}
	defer func() {
		if s.onFinish != nil {
			s.onFinish(n, err)
		}
	}()

	started := time.Now().UTC()
	model, err := s.ensureModel()
	if err != nil {
		return 0, err
	}
	notes, err := s.source.ListNotes(ctx, "", 0)
	if err != nil {
		return 0, fmt.Errorf("semantic: list notes: %w", err)
	}

	s.mu.Lock()
	s.recording = true
	s.journal = nil
	s.mu.Unlock()
	defer func() {
		if err != nil {
			s.mu.Lock()
			s.recording = false
			s.journal = nil
			s.mu.Unlock()
		}
	}()

	staged, err := s.encodeAll(ctx, model, notes)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, op := range s.journal {
		switch op.kind {
		case opAdd:
			staged[op.id] = op.entry
		case opRemove:
			delete(staged, op.id)
		}
	}
	s.entries = staged
	s.built = true
	s.lastBuild = started
	s.recording = false
	s.journal = nil
	s.stale.Store(false)

	if s.store != nil {
		if perr := s.store.Replace(ctx, Snapshot{Entries: staged, BuiltAt: started}); perr != nil {
			s.logger.Error("semantic: persist failed", slog.String("error", perr.Error()))
		}
	}
	return len(staged), nil
}

// encodeAll embeds notes on an ants pool. Notes that fail to encode are skipped.
func (s *Index) encodeAll(ctx context.Context, model embedder.Embedder, notes []models.NoteSummary) (map[string]Entry, error) {
	pool, err := ants.NewPool(s.workers)
	if err != nil {
		return nil, fmt.Errorf("semantic: create pool: %w", err)
	}
	defer pool.Release()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		staged = make(map[string]Entry, len(notes))
	)
	for _, note := range notes {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			vec, err := model.Encode(ctx, noteText(note.Title, note.Folder))
			if err != nil {
				s.logger.Warn("semantic: note skipped",
					slog.String("id", note.ID),
					slog.String("error", err.Error()))
				return
			}
			mu.Lock()
			staged[note.ID] = Entry{Title: note.Title, Folder: note.Folder, Vector: vec}
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			wg.Wait()
			return nil, fmt.Errorf("semantic: submit: %w", submitErr)
		}
	}
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return staged, nil
}

// AddNote encodes and stores a single note, replacing any previous entry.
// Encoding failures are logged and the note is left out.
func (s *Index) AddNote(ctx context.Context, id, title, folder string) {
	model, err := s.ensureModel()
	if err != nil {
		s.logger.Debug("semantic: add skipped", slog.String("id", id), slog.String("error", err.Error()))
		return
	}
	vec, err := model.Encode(ctx, noteText(title, folder))
	if err != nil {
		s.logger.Debug("semantic: add skipped", slog.String("id", id), slog.String("error", err.Error()))
		return
	}
	e := Entry{Title: title, Folder: folder, Vector: vec}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = e
	if s.recording {
		s.journal = append(s.journal, journalOp{kind: opAdd, id: id, entry: e})
	}
	if s.store != nil {
		if err := s.store.Put(ctx, id, e); err != nil {
			s.logger.Warn("semantic: persist add failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
}

// RemoveNote drops a note's entry.
func (s *Index) RemoveNote(ctx context.Context, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	if s.recording {
		s.journal = append(s.journal, journalOp{kind: opRemove, id: id})
	}
	if s.store != nil {
		if err := s.store.Delete(ctx, id); err != nil {
			s.logger.Warn("semantic: persist remove failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}
}

// ClearIndex drops every entry and the build time.
func (s *Index) ClearIndex(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]Entry)
	s.built = false
	s.lastBuild = time.Time{}
	if s.recording {
		s.journal = nil
	}
	if s.store != nil {
		if err := s.store.Replace(ctx, Snapshot{Entries: map[string]Entry{}}); err != nil {
			return fmt.Errorf("semantic: clear store: %w", err)
		}
	}
	return nil
}

// Search ranks notes by cosine similarity to query. An index that was never
// built is built first. Query encoding failures surface as
// apperr.ErrEncodingFailed.
func (s *Index) Search(ctx context.Context, query string, limit int) ([]models.Hit, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	s.mu.Lock()
	built := s.built
	s.mu.Unlock()
	if !built {
		if _, err := s.BuildIndex(ctx, false); err != nil && !errors.Is(err, apperr.ErrBuildInProgress) {
			return nil, err
		}
	}

	model, err := s.ensureModel()
	if err != nil {
		return nil, err
	}
	qv, err := model.Encode(ctx, query)
	if err != nil {
		if errors.Is(err, apperr.ErrEncodingFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrEncodingFailed, err)
	}

	s.mu.Lock()
	hits := make([]models.Hit, 0, len(s.entries))
	for id, e := range s.entries {
		hits = append(hits, models.Hit{
			NoteID: id,
			Title:  e.Title,
			Folder: e.Folder,
			Score:  embedder.CosineSimilarity(qv, e.Vector),
			Source: models.SourceSemantic,
		})
	}
	s.mu.Unlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].NoteID < hits[j].NoteID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// IndexedCount returns the number of entries.
func (s *Index) IndexedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// LastBuildTime returns the time of the last full build; ok is false if
// the index was never built.
func (s *Index) LastBuildTime() (t time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastBuild, s.built
}

// IsStale reports whether the note store changed after the last full build.
// Staleness holds until the next successful build.
func (s *Index) IsStale(ctx context.Context) bool {
	for {
		if s.stale.Load() {
			return true
		}
		last, ok := s.LastBuildTime()
		if !ok {
			return true
		}
		latest, err := s.source.LatestModificationTime(ctx)
		if err != nil {
			return false
		}
		if !latest.After(last) {
			return false
		}
		if s.latchStale(last) {
			return true
		}
	}
}

// latchStale marks the index stale if last is still the current build time.
// A build that completed during the check leaves the flag alone.
func (s *Index) latchStale(last time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.built || !s.lastBuild.Equal(last) {
		return false
	}
	s.stale.Store(true)
	return true
}

// Close stops background builds and closes the store.
func (s *Index) Close() error {
	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		return nil
	}
	s.closed = true
	s.lifeMu.Unlock()

	s.cancel()
	s.wg.Wait()
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}
