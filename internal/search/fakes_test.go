package search

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/starford/notesearch/internal/index"
	"github.com/starford/notesearch/internal/models"
)

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type fakeExact struct {
	hits  []models.Hit
	err   error
	delay time.Duration
}

func (f *fakeExact) Search(ctx context.Context, _ string, _ int) ([]models.Hit, error) {
	if err := wait(ctx, f.delay); err != nil {
		return nil, err
	}
	return f.hits, f.err
}

type fakeFullText struct {
	hits       []models.Hit
	err        error
	delay      time.Duration
	stale      bool
	builds     atomic.Int64
	buildDelay time.Duration
	buildErr   error
}

func (f *fakeFullText) SearchWithAutoRebuild(ctx context.Context, _ string, _ int) (index.AutoResult, error) {
	if err := wait(ctx, f.delay); err != nil {
		return index.AutoResult{}, err
	}
	return index.AutoResult{Hits: f.hits, WasStale: f.stale, Rebuilding: f.stale}, f.err
}

func (f *fakeFullText) Build(ctx context.Context, progress index.ProgressFunc) (int, error) {
	f.builds.Add(1)
	if err := wait(ctx, f.buildDelay); err != nil {
		return 0, err
	}
	if f.buildErr != nil {
		return 0, f.buildErr
	}
	if progress != nil {
		progress(len(f.hits), len(f.hits))
	}
	return len(f.hits), nil
}

func (f *fakeFullText) StalenessInfo(context.Context) (index.Staleness, error) {
	return index.Staleness{IsStale: f.stale, Built: true, NoteCount: len(f.hits)}, nil
}

func (f *fakeFullText) IsRebuilding() bool { return false }

type fakeSemantic struct {
	hits       []models.Hit
	err        error
	delay      time.Duration
	unbuilt    bool
	started    chan struct{}
	gates      map[string]chan struct{} // per-query hold, read-only once set
	rebuilds   atomic.Int64
	builds     atomic.Int64
	buildDelay time.Duration
	buildErr   error
}

func (f *fakeSemantic) Search(ctx context.Context, query string, _ int) ([]models.Hit, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if gate := f.gates[query]; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := wait(ctx, f.delay); err != nil {
		return nil, err
	}
	return f.hits, f.err
}

func (f *fakeSemantic) BuildIndex(ctx context.Context, _ bool) (int, error) {
	f.builds.Add(1)
	if err := wait(ctx, f.buildDelay); err != nil {
		return 0, err
	}
	if f.buildErr != nil {
		return 0, f.buildErr
	}
	return len(f.hits), nil
}

func (f *fakeSemantic) RebuildInBackground() bool {
	f.rebuilds.Add(1)
	return true
}

func (f *fakeSemantic) IsStale(context.Context) bool { return false }
func (f *fakeSemantic) IsBuilding() bool             { return f.unbuilt }
func (f *fakeSemantic) IndexedCount() int            { return len(f.hits) }

func (f *fakeSemantic) LastBuildTime() (time.Time, bool) {
	if f.unbuilt {
		return time.Time{}, false
	}
	return time.Unix(1, 0), true
}
