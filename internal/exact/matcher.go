// Package exact matches queries against note titles by case-insensitive substring.
package exact

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/starford/notesearch/internal/models"
	"github.com/starford/notesearch/internal/storage"
)

// Scores for title matches.
const (
	PrefixScore   = 1.0
	InteriorScore = 0.5
	DefaultLimit  = 20
)

type title struct {
	id     string
	title  string
	lower  string
	folder string
}

// Matcher caches (id, title, folder) triples from the note store. The cache
// is reloaded after Invalidate or when the store reports a newer
// modification than the last load.
type Matcher struct {
	source storage.Source

	mu       sync.Mutex
	titles   []title
	loadedAt time.Time
	valid    bool
}

// New creates a Matcher over source.
func New(source storage.Source) *Matcher {
	return &Matcher{source: source}
}

// Invalidate forces a reload on the next search.
func (m *Matcher) Invalidate() {
	m.mu.Lock()
	m.valid = false
	m.mu.Unlock()
}

// Search returns notes whose title contains query, prefix matches first.
func (m *Matcher) Search(ctx context.Context, query string, limit int) ([]models.Hit, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	titles, err := m.load(ctx)
	if err != nil {
		return nil, err
	}

	type match struct {
		hit   models.Hit
		runes int
	}
	var matches []match
	for _, t := range titles {
		pos := strings.Index(t.lower, q)
		if pos < 0 {
			continue
		}
		score := InteriorScore
		if pos == 0 {
			score = PrefixScore
		}
		matches = append(matches, match{
			hit: models.Hit{
				NoteID: t.id,
				Title:  t.title,
				Folder: t.folder,
				Score:  score,
				Source: models.SourceExact,
			},
			runes: utf8.RuneCountInString(t.title),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.hit.Score != b.hit.Score {
			return a.hit.Score > b.hit.Score
		}
		if a.runes != b.runes {
			return a.runes < b.runes
		}
		return a.hit.NoteID < b.hit.NoteID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	hits := make([]models.Hit, len(matches))
	for i, mt := range matches {
		hits[i] = mt.hit
	}
	return hits, nil
}

func (m *Matcher) load(ctx context.Context) ([]title, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	latest, modErr := m.source.LatestModificationTime(ctx)
	if m.valid && modErr == nil && !latest.After(m.loadedAt) {
		return m.titles, nil
	}

	loadedAt := time.Now()
	if modErr == nil && latest.After(loadedAt) {
		loadedAt = latest
	}
	notes, err := m.source.ListNotes(ctx, "", 0)
	if err != nil {
		return nil, fmt.Errorf("exact: list notes: %w", err)
	}
	titles := make([]title, 0, len(notes))
	for _, n := range notes {
		titles = append(titles, title{
			id:     n.ID,
			title:  n.Title,
			lower:  strings.ToLower(n.Title),
			folder: n.Folder,
		})
	}
	m.titles = titles
	m.loadedAt = loadedAt
	m.valid = true
	return titles, nil
}
