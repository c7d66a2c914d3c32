// Package testutil provides shared test helpers: an in-memory note store,
// a quiet logger, and a polling assertion.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/notesearch/internal/apperr"
	"github.com/starford/notesearch/internal/models"
)

// MemorySource is an in-memory storage.Source with fault injection.
type MemorySource struct {
	mu       sync.Mutex
	notes    map[string]models.NoteBody
	latest   time.Time
	failRead map[string]error
	listErr  error

	// ListCalls counts ListNotes invocations.
	ListCalls atomic.Int64
	// LatestCalls counts LatestModificationTime invocations.
	LatestCalls atomic.Int64
	// ListDelay, when set, is slept inside ListNotes.
	ListDelay time.Duration
}

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		notes:    make(map[string]models.NoteBody),
		failRead: make(map[string]error),
	}
}

// Put adds or replaces a note and advances the modification clock.
func (m *MemorySource) Put(id, title, folder, content string) models.NoteBody {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	n := models.NoteBody{
		NoteSummary: models.NoteSummary{ID: id, Title: title, Folder: folder, ModifiedAt: now},
		Content:     content,
	}
	m.notes[id] = n
	return n
}

// Delete removes a note and advances the modification clock.
func (m *MemorySource) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notes, id)
	m.tick()
}

// Touch advances the modification clock without changing content.
func (m *MemorySource) Touch() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tick()
}

// FailRead makes ReadContent(id) return err.
func (m *MemorySource) FailRead(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRead[id] = err
}

// FailList makes ListNotes return err (nil clears it).
func (m *MemorySource) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// tick returns a strictly increasing timestamp. Callers hold mu.
func (m *MemorySource) tick() time.Time {
	now := time.Now()
	if !now.After(m.latest) {
		now = m.latest.Add(time.Microsecond)
	}
	m.latest = now
	return now
}

// ListNotes implements storage.Source.
func (m *MemorySource) ListNotes(ctx context.Context, folder string, limit int) ([]models.NoteSummary, error) {
	m.ListCalls.Add(1)
	if m.ListDelay > 0 {
		select {
		case <-time.After(m.ListDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]models.NoteSummary, 0, len(m.notes))
	for _, n := range m.notes {
		if folder != "" && n.Folder != folder && !strings.HasPrefix(n.Folder, folder+"/") {
			continue
		}
		out = append(out, n.NoteSummary)
	}
	sort.Slice(out, func(i, j int) bool {
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

// ReadContent implements storage.Source.
func (m *MemorySource) ReadContent(_ context.Context, id string) (*models.NoteBody, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failRead[id]; err != nil {
		return nil, err
	}
	n, ok := m.notes[id]
	if !ok {
		return nil, fmt.Errorf("memory: read %s: %w", id, apperr.ErrNotFound)
	}
	return &n, nil
}

// LatestModificationTime implements storage.Source.
func (m *MemorySource) LatestModificationTime(_ context.Context) (time.Time, error) {
	m.LatestCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return time.Time{}, m.listErr
	}
	return m.latest, nil
}

// ErrUnavailable is a canned note-store failure for tests.
var ErrUnavailable = errors.New("note store unavailable")

// Logger returns a logger that discards everything below error level.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Eventually polls fn every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}
