// Package noteservice is the query surface shared by the HTTP API and the MCP server.
package noteservice

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/notesearch/internal/checksum"
	"github.com/starford/notesearch/internal/models"
	"github.com/starford/notesearch/internal/search"
	"github.com/starford/notesearch/internal/storage"
)

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Folder     string    `json:"folder,omitempty"`
	Content    string    `json:"content"`
	Checksum   string    `json:"checksum"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Service combines read access to the note store with the search coordinator.
type Service struct {
	source storage.Source
	coord  *search.Coordinator
	limit  int
	logger *slog.Logger

	building atomic.Bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewService creates a service. defaultLimit applies when callers pass limit <= 0.
func NewService(source storage.Source, coord *search.Coordinator, defaultLimit int, logger *slog.Logger) *Service {
	if defaultLimit <= 0 {
		defaultLimit = search.DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{source: source, coord: coord, limit: defaultLimit, logger: logger, ctx: ctx, cancel: cancel}
}

// GetNote reads a note. Unknown ids yield apperr.ErrNotFound.
func (s *Service) GetNote(ctx context.Context, id string) (*NoteDetail, error) {
	body, err := s.source.ReadContent(ctx, id)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{
		ID:         body.ID,
		Title:      body.Title,
		Folder:     body.Folder,
		Content:    body.Content,
		Checksum:   checksum.String(body.Content),
		ModifiedAt: body.ModifiedAt,
	}, nil
}

// ListNotes lists note summaries under folder, newest first.
func (s *Service) ListNotes(ctx context.Context, folder string, limit int) ([]models.NoteSummary, error) {
	notes, err := s.source.ListNotes(ctx, folder, limit)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(notes), nil
}

// Search runs a merged query.
func (s *Service) Search(ctx context.Context, query string, limit int) (search.Response, error) {
	if limit <= 0 {
		limit = s.limit
	}
	resp, err := s.coord.SearchWithStatus(ctx, query, limit)
	resp.Results = nonNilSlice(resp.Results)
	return resp, err
}

// BuildIndexes rebuilds both indexes and waits for the result.
func (s *Service) BuildIndexes(ctx context.Context, progress func(search.BuildProgress)) (search.BuildResult, error) {
	return s.coord.BuildIndexes(ctx, progress)
}

// StartBuild rebuilds both indexes in the background. It reports false if a
// build started through StartBuild is still running.
func (s *Service) StartBuild() bool {
	if !s.building.CompareAndSwap(false, true) {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.building.Store(false)
		res, err := s.coord.BuildIndexes(s.ctx, nil)
		if err != nil {
			s.logger.Error("noteservice: build failed", slog.String("error", err.Error()))
			return
		}
		s.logger.Info("noteservice: build finished",
			slog.Int("fulltext", res.FullText),
			slog.Int("semantic", res.Semantic))
	}()
	return true
}

// Status reports index status.
func (s *Service) Status(ctx context.Context) (search.Status, error) {
	return s.coord.Status(ctx)
}

// Close cancels and waits for background builds.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
