package search

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/notesearch/internal/apperr"
	"github.com/starford/notesearch/internal/embedder"
	"github.com/starford/notesearch/internal/exact"
	"github.com/starford/notesearch/internal/index"
	"github.com/starford/notesearch/internal/models"
	"github.com/starford/notesearch/internal/semantic"
	"github.com/starford/notesearch/internal/testutil"
)

func newFakeCoordinator(ex *fakeExact, ft *fakeFullText, sem *fakeSemantic, opts ...Option) *Coordinator {
	opts = append([]Option{WithLogger(testutil.Logger())}, opts...)
	return New(ex, ft, sem, opts...)
}

func TestSearch_SlowSourceOmitted(t *testing.T) {
	ex := &fakeExact{hits: []models.Hit{hit("a", models.SourceExact, 1)}}
	ft := &fakeFullText{hits: []models.Hit{hit("a", models.SourceFullText, 2)}}
	sem := &fakeSemantic{hits: []models.Hit{hit("b", models.SourceSemantic, 0.9)}, delay: 5 * time.Second}
	c := newFakeCoordinator(ex, ft, sem, WithTimeout(100*time.Millisecond))

	start := time.Now()
	resp, err := c.SearchWithStatus(context.Background(), "q", 10)
	if err != nil {
		t.Fatalf("SearchWithStatus: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("search took %v; slow source was not cut off", elapsed)
	}
	if len(resp.Omitted) != 1 || resp.Omitted[0] != models.SourceSemantic {
		t.Errorf("omitted = %v, want [semantic]", resp.Omitted)
	}
	if !equalIDs(ids(resp.Results), []string{"a"}) {
		t.Errorf("results = %v, want [a]", ids(resp.Results))
	}
}

func TestSearch_SourceFailureDegrades(t *testing.T) {
	ex := &fakeExact{hits: []models.Hit{hit("a", models.SourceExact, 1)}}
	ft := &fakeFullText{err: errors.New("query failed")}
	sem := &fakeSemantic{err: errors.New("encoding failed")}
	c := newFakeCoordinator(ex, ft, sem)

	resp, err := c.SearchWithStatus(context.Background(), "q", 10)
	if err != nil {
		t.Fatalf("SearchWithStatus: %v", err)
	}
	if len(resp.Failed) != 2 {
		t.Errorf("failed = %v, want two sources", resp.Failed)
	}
	if !equalIDs(ids(resp.Results), []string{"a"}) {
		t.Errorf("results = %v", ids(resp.Results))
	}
}

func TestSearch_StoreUnavailable(t *testing.T) {
	c := newFakeCoordinator(
		&fakeExact{err: testutil.ErrUnavailable},
		&fakeFullText{},
		&fakeSemantic{},
	)
	if _, err := c.Search(context.Background(), "q", 10); !errors.Is(err, testutil.ErrUnavailable) || !errors.Is(err, apperr.ErrStorageUnavailable) {
		t.Errorf("err = %v, want store failure", err)
	}
}

func TestSearch_Signals(t *testing.T) {
	ft := &fakeFullText{stale: true}
	sem := &fakeSemantic{unbuilt: true}
	c := newFakeCoordinator(&fakeExact{}, ft, sem)

	resp, err := c.SearchWithStatus(context.Background(), "q", 10)
	if err != nil {
		t.Fatalf("SearchWithStatus: %v", err)
	}
	if !resp.FullTextStale || !resp.Rebuilding {
		t.Errorf("signals = stale %v rebuilding %v", resp.FullTextStale, resp.Rebuilding)
	}
	if sem.rebuilds.Load() != 1 {
		t.Errorf("unbuilt semantic index should start a background build")
	}
	if resp.Query != "q" || resp.Seq == 0 {
		t.Errorf("response header = %+v", resp)
	}
}

func TestSearch_Sequence(t *testing.T) {
	c := newFakeCoordinator(&fakeExact{}, &fakeFullText{}, &fakeSemantic{})
	first, _ := c.SearchWithStatus(context.Background(), "a", 10)
	second, _ := c.SearchWithStatus(context.Background(), "ab", 10)

	if second.Seq <= first.Seq {
		t.Errorf("sequence not monotonic: %d then %d", first.Seq, second.Seq)
	}
	if c.IsLatest(first.Seq) || !c.IsLatest(second.Seq) {
		t.Error("IsLatest should only accept the newest sequence")
	}
}

func TestSearching(t *testing.T) {
	sem := &fakeSemantic{delay: 200 * time.Millisecond, started: make(chan struct{}, 1)}
	c := newFakeCoordinator(&fakeExact{}, &fakeFullText{}, sem)

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Search(context.Background(), "q", 10)
	}()
	<-sem.started
	if !c.Searching()[models.SourceSemantic] {
		t.Error("semantic source should report searching")
	}
	<-done
	testutil.Eventually(t, time.Second, 5*time.Millisecond, func() bool {
		for _, on := range c.Searching() {
			if on {
				return false
			}
		}
		return true
	}, "searching flags not cleared")
}

func TestSearching_OverlappingQueries(t *testing.T) {
	sem := &fakeSemantic{
		started: make(chan struct{}, 2),
		gates:   map[string]chan struct{}{"first": make(chan struct{}), "second": make(chan struct{})},
	}
	c := newFakeCoordinator(&fakeExact{}, &fakeFullText{}, sem)

	run := func(q string) chan struct{} {
		done := make(chan struct{})
		go func() {
			defer close(done)
			c.Search(context.Background(), q, 10)
		}()
		return done
	}
	firstDone, secondDone := run("first"), run("second")
	<-sem.started
	<-sem.started

	close(sem.gates["first"])
	<-firstDone
	if !c.Searching()[models.SourceSemantic] {
		t.Error("semantic source should still report searching while the second query runs")
	}

	close(sem.gates["second"])
	<-secondDone
	testutil.Eventually(t, time.Second, 5*time.Millisecond, func() bool {
		return !c.Searching()[models.SourceSemantic]
	}, "searching flag not cleared after both queries")
}

func TestBuildIndexes_SingleFlight(t *testing.T) {
	ft := &fakeFullText{hits: []models.Hit{hit("a", models.SourceFullText, 1)}, buildDelay: 100 * time.Millisecond}
	sem := &fakeSemantic{hits: []models.Hit{hit("a", models.SourceSemantic, 1)}}
	c := newFakeCoordinator(&fakeExact{}, ft, sem)

	var (
		wg      sync.WaitGroup
		results [2]BuildResult
		errs    [2]error
	)
	for i := range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.BuildIndexes(context.Background(), nil)
		}()
	}
	wg.Wait()

	if ft.builds.Load() != 1 || sem.builds.Load() != 1 {
		t.Errorf("builds = fulltext %d semantic %d, want 1 each", ft.builds.Load(), sem.builds.Load())
	}
	for i := range 2 {
		if errs[i] != nil {
			t.Errorf("call %d: %v", i, errs[i])
		}
		if results[i] != (BuildResult{FullText: 1, Semantic: 1}) {
			t.Errorf("call %d result = %+v", i, results[i])
		}
	}
}

func TestBuildIndexes_ProgressAndError(t *testing.T) {
	ft := &fakeFullText{hits: []models.Hit{hit("a", models.SourceFullText, 1)}}
	sem := &fakeSemantic{buildErr: errors.New("model missing")}
	c := newFakeCoordinator(&fakeExact{}, ft, sem)

	var reports atomic.Int64
	_, err := c.BuildIndexes(context.Background(), func(BuildProgress) { reports.Add(1) })
	if err == nil {
		t.Fatal("expected semantic build error")
	}
	if reports.Load() == 0 {
		t.Error("no progress reported")
	}
}

func TestDebouncer(t *testing.T) {
	ex := &fakeExact{hits: []models.Hit{hit("a", models.SourceExact, 1)}}
	c := newFakeCoordinator(ex, &fakeFullText{}, &fakeSemantic{})

	var (
		mu        sync.Mutex
		delivered []Response
	)
	d := NewDebouncer(context.Background(), c, 30*time.Millisecond, 10, func(r Response) {
		mu.Lock()
		delivered = append(delivered, r)
		mu.Unlock()
	})
	defer d.Stop()

	d.Submit("p")
	d.Submit("pl")
	d.Submit("pla")

	testutil.Eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(delivered) > 0
	}, "no debounced response delivered")
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0].Query != "pla" {
		t.Errorf("delivered = %+v, want only the last query", delivered)
	}
}

// realStack wires the production components over an in-memory note store.
func realStack(t *testing.T, src *testutil.MemorySource) (*Coordinator, *index.FullText, *semantic.Index) {
	t.Helper()
	ctx := context.Background()
	ft, err := index.Open(ctx, filepath.Join(t.TempDir(), "fulltext.db"), src, index.WithLogger(testutil.Logger()))
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	sem := semantic.New(src, func() (embedder.Embedder, error) { return embedder.NewHash(256), nil },
		semantic.WithLogger(testutil.Logger()))
	t.Cleanup(func() {
		ft.Close()
		sem.Close()
	})
	return New(exact.New(src), ft, sem, WithLogger(testutil.Logger())), ft, sem
}

func TestSearch_EmptyStore(t *testing.T) {
	c, ft, sem := realStack(t, testutil.NewMemorySource())

	results, err := c.Search(context.Background(), "anything", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want none", results)
	}
	ft.Wait()
	sem.Wait()
}

func TestSearch_EndToEnd(t *testing.T) {
	src := testutil.NewMemorySource()
	src.Put("budget", "Budget 2025", "Finance", "The annual budget covers hiring and travel.")
	src.Put("trip", "Trip notes", "Travel", "Flights booked, hotel pending.")
	src.Put("misc", "Misc", "", "Remember to review the budget spreadsheet.")
	c, _, _ := realStack(t, src)
	ctx := context.Background()

	res, err := c.BuildIndexes(ctx, nil)
	if err != nil {
		t.Fatalf("BuildIndexes: %v", err)
	}
	if res.FullText != 3 || res.Semantic != 3 {
		t.Fatalf("build result = %+v", res)
	}

	resp, err := c.SearchWithStatus(ctx, "budget", 10)
	if err != nil {
		t.Fatalf("SearchWithStatus: %v", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].NoteID != "budget" {
		t.Fatalf("results = %v, want budget first", ids(resp.Results))
	}
	top := resp.Results[0]
	for _, kind := range models.AllSources {
		if !top.HasSource(kind) {
			t.Errorf("top result missing source %s: %v", kind, top.Sources)
		}
	}
	if resp.FullTextStale {
		t.Error("freshly built index reported stale")
	}

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.FullText.NoteCount != 3 || st.Semantic.Count != 3 || !st.Semantic.Built {
		t.Errorf("status = %+v", st)
	}
}
