// Package models defines the note and search types shared across the index layer.
package models

import "time"

// NoteSummary is an immutable snapshot of a note as listed by the note store.
type NoteSummary struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Folder     string    `json:"folder,omitempty"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NoteBody is the full plain-text content of a note plus its summary fields.
// It is read on demand and never retained by the index layer.
type NoteBody struct {
	NoteSummary
	Content string `json:"content"`
}

// SourceKind names the retrieval method that produced a match.
type SourceKind string

const (
	SourceExact    SourceKind = "exact"
	SourceFullText SourceKind = "fulltext"
	SourceSemantic SourceKind = "semantic"
)

// AllSources lists every source kind in display order.
var AllSources = []SourceKind{SourceExact, SourceFullText, SourceSemantic}

// Hit is a single ranked match from one source. Score is source-local.
type Hit struct {
	NoteID  string     `json:"note_id"`
	Title   string     `json:"title,omitempty"`
	Folder  string     `json:"folder,omitempty"`
	Snippet string     `json:"snippet,omitempty"`
	Score   float64    `json:"score"`
	Source  SourceKind `json:"source"`
}

// SearchResult is a merged, source-attributed match.
type SearchResult struct {
	NoteID  string                 `json:"note_id"`
	Title   string                 `json:"title,omitempty"`
	Folder  string                 `json:"folder,omitempty"`
	Score   float64                `json:"score"`
	Snippet string                 `json:"snippet,omitempty"`
	Sources []SourceKind           `json:"sources"`
	Scores  map[SourceKind]float64 `json:"scores"`
}

// HasSource reports whether kind contributed to r.
func (r SearchResult) HasSource(kind SourceKind) bool {
	_, ok := r.Scores[kind]
	return ok
}
