// Package search fans queries out to the exact, full-text and semantic
// indexes and merges their answers into one ranked, source-attributed list.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/starford/notesearch/internal/apperr"
	"github.com/starford/notesearch/internal/index"
	"github.com/starford/notesearch/internal/models"
)

// Defaults.
const (
	DefaultTimeout = 2 * time.Second
	DefaultLimit   = 20
)

// ExactSource is the title matcher.
type ExactSource interface {
	Search(ctx context.Context, query string, limit int) ([]models.Hit, error)
}

// FullTextSource is the persistent full-text index.
type FullTextSource interface {
	SearchWithAutoRebuild(ctx context.Context, query string, limit int) (index.AutoResult, error)
	Build(ctx context.Context, progress index.ProgressFunc) (int, error)
	StalenessInfo(ctx context.Context) (index.Staleness, error)
	IsRebuilding() bool
}

// SemanticSource is the embedding index.
type SemanticSource interface {
	Search(ctx context.Context, query string, limit int) ([]models.Hit, error)
	BuildIndex(ctx context.Context, force bool) (int, error)
	RebuildInBackground() bool
	IsStale(ctx context.Context) bool
	IsBuilding() bool
	IndexedCount() int
	LastBuildTime() (time.Time, bool)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout bounds how long a search waits for its sources.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithSemanticAutoRebuild toggles background semantic rebuilds when the
// note store changed since the last build.
func WithSemanticAutoRebuild(on bool) Option {
	return func(c *Coordinator) { c.autoRebuildSemantic = on }
}

// Coordinator runs merged searches and index builds.
type Coordinator struct {
	exact    ExactSource
	fulltext FullTextSource
	semantic SemanticSource
	logger   *slog.Logger

	timeout             time.Duration
	autoRebuildSemantic bool

	seq       Sequencer
	searching map[models.SourceKind]*atomic.Int32 // in-flight queries per source
	builds    singleflight.Group
}

// New creates a Coordinator over the three sources.
func New(exact ExactSource, fulltext FullTextSource, semantic SemanticSource, opts ...Option) *Coordinator {
	c := &Coordinator{
		exact:               exact,
		fulltext:            fulltext,
		semantic:            semantic,
		logger:              slog.Default(),
		timeout:             DefaultTimeout,
		autoRebuildSemantic: true,
		searching:           make(map[models.SourceKind]*atomic.Int32, len(models.AllSources)),
	}
	for _, kind := range models.AllSources {
		c.searching[kind] = new(atomic.Int32)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Response is a merged search plus index status signals. Omitted lists
// sources that did not answer within the timeout; Failed lists sources that
// returned an error.
type Response struct {
	Seq           uint64                `json:"seq"`
	Query         string                `json:"query"`
	Results       []models.SearchResult `json:"results"`
	FullTextStale bool                  `json:"fulltext_stale"`
	Rebuilding    bool                  `json:"rebuilding"`
	Omitted       []models.SourceKind   `json:"omitted,omitempty"`
	Failed        []models.SourceKind   `json:"failed,omitempty"`
}

// Search returns the merged results for query.
func (c *Coordinator) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	resp, err := c.SearchWithStatus(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// IsLatest reports whether seq belongs to the most recent search.
func (c *Coordinator) IsLatest(seq uint64) bool { return c.seq.IsLatest(seq) }

// Searching reports which sources are currently running a query.
func (c *Coordinator) Searching() map[models.SourceKind]bool {
	out := make(map[models.SourceKind]bool, len(c.searching))
	for kind, n := range c.searching {
		out[kind] = n.Load() > 0
	}
	return out
}

type outcome struct {
	kind       models.SourceKind
	hits       []models.Hit
	err        error
	stale      bool
	rebuilding bool
}

// SearchWithStatus queries all sources concurrently, waiting at most the
// configured timeout. Sources that time out or fail are left out of the
// merge. The call only fails when the note store itself is unreachable and
// no source produced anything.
func (c *Coordinator) SearchWithStatus(ctx context.Context, query string, limit int) (Response, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	resp := Response{Seq: c.seq.Next(), Query: query}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	results := make(chan outcome, len(models.AllSources))
	c.dispatch(ctx, results, models.SourceExact, func(ctx context.Context) outcome {
		hits, err := c.exact.Search(ctx, query, limit)
		return outcome{hits: hits, err: err}
	})
	c.dispatch(ctx, results, models.SourceFullText, func(ctx context.Context) outcome {
		res, err := c.fulltext.SearchWithAutoRebuild(ctx, query, limit)
		return outcome{hits: res.Hits, err: err, stale: res.WasStale, rebuilding: res.Rebuilding}
	})
	c.dispatch(ctx, results, models.SourceSemantic, c.searchSemantic(query, limit))

	var (
		hits     []models.Hit
		exactErr error
		pending  = map[models.SourceKind]bool{
			models.SourceExact: true, models.SourceFullText: true, models.SourceSemantic: true,
		}
	)
collect:
	for range models.AllSources {
		select {
		case o := <-results:
			delete(pending, o.kind)
			if o.err != nil {
				resp.Failed = append(resp.Failed, o.kind)
				c.logger.Warn("search: source failed",
					slog.String("source", string(o.kind)),
					slog.String("error", o.err.Error()))
				if o.kind == models.SourceExact {
					exactErr = o.err
				}
				continue
			}
			hits = append(hits, o.hits...)
			resp.FullTextStale = resp.FullTextStale || o.stale
			resp.Rebuilding = resp.Rebuilding || o.rebuilding
		case <-ctx.Done():
			break collect
		}
	}
	for _, kind := range models.AllSources {
		if pending[kind] {
			resp.Omitted = append(resp.Omitted, kind)
			c.logger.Warn("search: source timed out", slog.String("source", string(kind)))
		}
	}

	resp.Results = Merge(hits, limit)
	resp.Rebuilding = resp.Rebuilding || c.fulltext.IsRebuilding() || c.semantic.IsBuilding()
	if len(resp.Results) == 0 && exactErr != nil {
		return resp, fmt.Errorf("search: %w: %w", apperr.ErrStorageUnavailable, exactErr)
	}
	return resp, nil
}

func (c *Coordinator) dispatch(ctx context.Context, out chan<- outcome, kind models.SourceKind, fn func(context.Context) outcome) {
	inflight := c.searching[kind]
	inflight.Add(1)
	go func() {
		defer inflight.Add(-1)
		o := fn(ctx)
		o.kind = kind
		out <- o
	}()
}

// searchSemantic never builds inline: an unbuilt index starts a background
// build and contributes nothing to this query.
func (c *Coordinator) searchSemantic(query string, limit int) func(context.Context) outcome {
	return func(ctx context.Context) outcome {
		if _, built := c.semantic.LastBuildTime(); !built {
			c.semantic.RebuildInBackground()
			return outcome{rebuilding: true}
		}
		if c.autoRebuildSemantic && c.semantic.IsStale(ctx) {
			c.semantic.RebuildInBackground()
		}
		hits, err := c.semantic.Search(ctx, query, limit)
		return outcome{hits: hits, err: err}
	}
}

// BuildProgress reports build progress for one index.
type BuildProgress struct {
	Source models.SourceKind `json:"source"`
	Done   int               `json:"done"`
	Total  int               `json:"total"`
}

// BuildResult holds the entry counts of a completed build.
type BuildResult struct {
	FullText int `json:"fulltext"`
	Semantic int `json:"semantic"`
}

// BuildIndexes rebuilds the full-text and semantic indexes concurrently.
// Concurrent callers share a single execution and its result.
func (c *Coordinator) BuildIndexes(ctx context.Context, progress func(BuildProgress)) (BuildResult, error) {
	v, err, shared := c.builds.Do("build", func() (any, error) {
		var (
			res BuildResult
			mu  sync.Mutex
		)
		report := func(p BuildProgress) {
			if progress == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			progress(p)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			n, err := c.fulltext.Build(gctx, func(done, total int) {
				report(BuildProgress{Source: models.SourceFullText, Done: done, Total: total})
			})
			if err != nil {
				return fmt.Errorf("fulltext: %w", err)
			}
			res.FullText = n
			return nil
		})
		g.Go(func() error {
			n, err := c.semantic.BuildIndex(gctx, true)
			if err != nil {
				return fmt.Errorf("semantic: %w", err)
			}
			res.Semantic = n
			report(BuildProgress{Source: models.SourceSemantic, Done: n, Total: n})
			return nil
		})
		if err := g.Wait(); err != nil {
			return res, err
		}
		return res, nil
	})
	if shared {
		c.logger.Debug("search: joined in-flight build")
	}
	res, _ := v.(BuildResult)
	return res, err
}

// SemanticStatus describes the semantic index.
type SemanticStatus struct {
	Built     bool      `json:"built"`
	LastBuild time.Time `json:"last_build,omitempty"`
	Count     int       `json:"count"`
	IsStale   bool      `json:"is_stale"`
	Building  bool      `json:"building"`
}

// Status describes both indexes and the sources currently searching.
type Status struct {
	FullText           index.Staleness            `json:"fulltext"`
	FullTextRebuilding bool                       `json:"fulltext_rebuilding"`
	Semantic           SemanticStatus             `json:"semantic"`
	Searching          map[models.SourceKind]bool `json:"searching"`
}

// Status reports staleness and build state for both indexes.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	ft, err := c.fulltext.StalenessInfo(ctx)
	if err != nil {
		return Status{}, err
	}
	last, built := c.semantic.LastBuildTime()
	return Status{
		FullText:           ft,
		FullTextRebuilding: c.fulltext.IsRebuilding(),
		Semantic: SemanticStatus{
			Built:     built,
			LastBuild: last,
			Count:     c.semantic.IndexedCount(),
			IsStale:   c.semantic.IsStale(ctx),
			Building:  c.semantic.IsBuilding(),
		},
		Searching: c.Searching(),
	}, nil
}
