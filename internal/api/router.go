package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/starford/notesearch/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Notes (read-only).
	r.Get("/notes", h.ListNotes)
	r.Get("/notes/*", h.GetNote)

	// Search.
	r.Get("/search", h.Search)

	// Index management.
	r.Post("/index/build", h.BuildIndex)
	r.Get("/index/status", h.IndexStatus)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
