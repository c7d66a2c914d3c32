// Package storage defines the read-only note store the search core indexes.
package storage

import (
	"context"
	"time"

	"github.com/starford/notesearch/internal/models"
)

// Source is the narrow read API of the external note store. The index layer
// never writes through it.
type Source interface {
	// ListNotes returns summaries under folder ("" for all), newest first.
	// A limit <= 0 means no limit.
	ListNotes(ctx context.Context, folder string, limit int) ([]models.NoteSummary, error)
	// ReadContent returns the full plain text of a note. Unknown ids yield apperr.ErrNotFound.
	ReadContent(ctx context.Context, id string) (*models.NoteBody, error)
	// LatestModificationTime returns the most recent change anywhere in the store.
	LatestModificationTime(ctx context.Context) (time.Time, error)
}
