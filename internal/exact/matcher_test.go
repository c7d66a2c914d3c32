package exact

import (
	"context"
	"errors"
	"testing"

	"github.com/starford/notesearch/internal/testutil"
)

func TestSearch_PrefixAndInterior(t *testing.T) {
	src := testutil.NewMemorySource()
	src.Put("n1", "Project Plan", "Work", "")
	m := New(src)
	ctx := context.Background()

	hits, err := m.Search(ctx, "plan", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].NoteID != "n1" || hits[0].Score != InteriorScore {
		t.Errorf("Search(plan) = %+v, want n1 with 0.5", hits)
	}
	if hits[0].Folder != "Work" {
		t.Errorf("folder = %q", hits[0].Folder)
	}

	hits, err = m.Search(ctx, "Project", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Score != PrefixScore {
		t.Errorf("Search(Project) = %+v, want n1 with 1.0", hits)
	}
}

func TestSearch_Ordering(t *testing.T) {
	src := testutil.NewMemorySource()
	src.Put("c", "Weekly plan", "", "")
	src.Put("b", "Plan B", "", "")
	src.Put("a", "Plan A", "", "")
	src.Put("d", "Planning the long offsite", "", "")
	src.Put("e", "Unrelated", "", "")
	m := New(src)

	hits, err := m.Search(context.Background(), "PLAN", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	var got []string
	for _, h := range hits {
		got = append(got, h.NoteID)
	}
	want := []string{"a", "b", "d", "c"}
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}

	hits, _ = m.Search(context.Background(), "plan", 2)
	if len(hits) != 2 {
		t.Errorf("limit not applied: %d hits", len(hits))
	}
}

func TestSearch_EmptySourceAndQuery(t *testing.T) {
	m := New(testutil.NewMemorySource())
	hits, err := m.Search(context.Background(), "anything", 10)
	if err != nil || len(hits) != 0 {
		t.Errorf("Search = %+v, %v", hits, err)
	}
	hits, err = m.Search(context.Background(), "   ", 10)
	if err != nil || len(hits) != 0 {
		t.Errorf("blank Search = %+v, %v", hits, err)
	}
}

func TestCache(t *testing.T) {
	src := testutil.NewMemorySource()
	src.Put("n1", "Alpha", "", "")
	m := New(src)
	ctx := context.Background()

	m.Search(ctx, "alpha", 10)
	m.Search(ctx, "alpha", 10)
	if calls := src.ListCalls.Load(); calls != 1 {
		t.Errorf("ListNotes called %d times, want 1 (cached)", calls)
	}

	src.Put("n2", "Alphabet", "", "")
	hits, _ := m.Search(ctx, "alpha", 10)
	if len(hits) != 2 {
		t.Errorf("store change not picked up: %+v", hits)
	}

	m.Invalidate()
	m.Search(ctx, "alpha", 10)
	if calls := src.ListCalls.Load(); calls != 3 {
		t.Errorf("ListNotes called %d times, want 3", calls)
	}
}

func TestSearch_StoreFailure(t *testing.T) {
	src := testutil.NewMemorySource()
	src.FailList(testutil.ErrUnavailable)
	m := New(src)
	if _, err := m.Search(context.Background(), "x", 10); !errors.Is(err, testutil.ErrUnavailable) {
		t.Errorf("err = %v, want store failure", err)
	}
}

func TestSearch_OneModTimeCheckPerQuery(t *testing.T) {
	src := testutil.NewMemorySource()
	src.Put("n1", "Project Plan", "", "")
	m := New(src)
	ctx := context.Background()

	for i, label := range []string{"cold", "warm"} {
		before := src.LatestCalls.Load()
		if _, err := m.Search(ctx, "plan", 10); err != nil {
			t.Fatalf("Search %d: %v", i, err)
		}
		if got := src.LatestCalls.Load() - before; got != 1 {
			t.Errorf("%s search checked modification time %d times, want 1", label, got)
		}
	}
}
