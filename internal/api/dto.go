package api

import (
	"github.com/starford/notesearch/internal/index"
	"github.com/starford/notesearch/internal/models"
	"github.com/starford/notesearch/internal/noteservice"
	"github.com/starford/notesearch/internal/search"
)

// NoteDetail is the full note response type (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// NoteListItem is a lightweight item in a list response.
type NoteListItem = models.NoteSummary

// NoteListResponse wraps note listings.
type NoteListResponse struct {
	Notes []NoteListItem `json:"notes" validate:"required"`
	Total int            `json:"total" example:"42" validate:"required"`
}

// SearchResult is a single merged hit.
type SearchResult = models.SearchResult

// SearchResponse wraps merged search results and per-source signals.
type SearchResponse = search.Response

// BuildResponse is returned by POST /index/build.
type BuildResponse struct {
	Started  bool `json:"started" example:"true"`
	FullText int  `json:"fulltext" example:"120"`
	Semantic int  `json:"semantic" example:"118"`
}

// IndexStatusResponse describes both indexes.
type IndexStatusResponse = search.Status

// Staleness is the full-text staleness block of IndexStatusResponse.
type Staleness = index.Staleness
