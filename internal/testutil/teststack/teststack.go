// Package teststack wires the real indexes over an in-memory note store for
// tests of the outer layers.
package teststack

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/starford/notesearch/internal/embedder"
	"github.com/starford/notesearch/internal/exact"
	"github.com/starford/notesearch/internal/index"
	"github.com/starford/notesearch/internal/noteservice"
	"github.com/starford/notesearch/internal/search"
	"github.com/starford/notesearch/internal/semantic"
	"github.com/starford/notesearch/internal/testutil"
)

// Stack is a fully wired search core.
type Stack struct {
	Source   *testutil.MemorySource
	FullText *index.FullText
	Semantic *semantic.Index
	Coord    *search.Coordinator
	Service  *noteservice.Service
}

// New builds a Stack over src. Everything is closed when the test ends.
func New(t *testing.T, src *testutil.MemorySource) *Stack {
	t.Helper()
	logger := testutil.Logger()

	ft, err := index.Open(context.Background(), filepath.Join(t.TempDir(), "fulltext.db"), src,
		index.WithLogger(logger))
	if err != nil {
		t.Fatalf("index.Open: %v", err)
	}
	sem := semantic.New(src, func() (embedder.Embedder, error) { return embedder.NewHash(256), nil },
		semantic.WithLogger(logger))
	coord := search.New(exact.New(src), ft, sem, search.WithLogger(logger))
	svc := noteservice.NewService(src, coord, 20, logger)

	t.Cleanup(func() {
		svc.Close()
		ft.Close()
		sem.Close()
	})
	return &Stack{Source: src, FullText: ft, Semantic: sem, Coord: coord, Service: svc}
}

// Seeded returns a Stack over a small note set with both indexes built.
func Seeded(t *testing.T) *Stack {
	t.Helper()
	src := testutil.NewMemorySource()
	src.Put("work/plan.md", "Project Plan", "work", "Milestones for the quarterly revenue review.")
	src.Put("home/groceries.md", "Groceries", "home", "Eggs, milk and bread.")
	src.Put("ideas.md", "Ideas", "", "Write about planning tools.")
	s := New(t, src)
	if _, err := s.Coord.BuildIndexes(context.Background(), nil); err != nil {
		t.Fatalf("BuildIndexes: %v", err)
	}
	return s
}
