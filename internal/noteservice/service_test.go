package noteservice_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/starford/notesearch/internal/apperr"
	"github.com/starford/notesearch/internal/checksum"
	"github.com/starford/notesearch/internal/testutil"
	"github.com/starford/notesearch/internal/testutil/teststack"
)

func TestGetNote(t *testing.T) {
	s := teststack.Seeded(t)
	ctx := context.Background()

	note, err := s.Service.GetNote(ctx, "work/plan.md")
	if err != nil {
		t.Fatalf("GetNote: %v", err)
	}
	if note.Title != "Project Plan" || note.Folder != "work" {
		t.Errorf("note = %+v", note)
	}
	if note.Checksum != checksum.String(note.Content) {
		t.Errorf("checksum mismatch")
	}

	if _, err := s.Service.GetNote(ctx, "missing.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing note err = %v, want ErrNotFound", err)
	}
}

func TestListNotes(t *testing.T) {
	s := teststack.Seeded(t)
	notes, err := s.Service.ListNotes(context.Background(), "work", 0)
	if err != nil {
		t.Fatalf("ListNotes: %v", err)
	}
	if len(notes) != 1 || notes[0].ID != "work/plan.md" {
		t.Errorf("notes = %+v", notes)
	}

	notes, err = s.Service.ListNotes(context.Background(), "nowhere", 0)
	if err != nil || notes == nil || len(notes) != 0 {
		t.Errorf("empty folder = %#v, %v; want empty non-nil slice", notes, err)
	}
}

func TestSearch(t *testing.T) {
	s := teststack.Seeded(t)
	resp, err := s.Service.Search(context.Background(), "plan", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].NoteID != "work/plan.md" {
		t.Errorf("results = %+v", resp.Results)
	}

	resp, err = s.Service.Search(context.Background(), "zzzz", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Results == nil {
		t.Error("results should be an empty slice, not nil")
	}
}

func TestStartBuild(t *testing.T) {
	src := testutil.NewMemorySource()
	src.Put("a.md", "Alpha", "", "alpha body")
	s := teststack.New(t, src)

	if !s.Service.StartBuild() {
		t.Fatal("StartBuild should start a build")
	}
	testutil.Eventually(t, 5*time.Second, 20*time.Millisecond, func() bool {
		st, err := s.Service.Status(context.Background())
		return err == nil && st.FullText.NoteCount == 1 && st.Semantic.Count == 1
	}, "background build did not complete")
}
