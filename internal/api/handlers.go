package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/starford/notesearch/internal/apperr"
	"github.com/starford/notesearch/internal/noteservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

// notePath extracts the note id from the URL (everything after /notes/).
// Supports encoded slashes from OpenAPI clients (e.g. work%2Fplan.md).
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// writeError maps domain errors to HTTP status codes.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, codedError(codeNotFound, "not found"))
	case errors.Is(err, apperr.ErrBuildInProgress):
		writeJSON(w, http.StatusConflict, codedError(codeBuildInProgress, "index build already in progress"))
	case errors.Is(err, apperr.ErrStorageUnavailable), errors.Is(err, apperr.ErrModelNotInitialized):
		slog.Warn(op+" unavailable", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, codedError(codeUnavailable, err.Error()))
	case errors.Is(err, apperr.ErrQueryFailed):
		writeJSON(w, http.StatusBadRequest, codedError(codeQueryFailed, err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, codedError(codeInternal, "internal error"))
	}
}

// ListNotes handles GET /notes.
//
//	@Summary		List notes, newest first
//	@Tags			notes
//	@Produce		json
//	@Param			folder	query		string	false	"Folder prefix"
//	@Param			limit	query		int		false	"Max notes"
//	@Success		200		{object}	NoteListResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	items, err := h.svc.ListNotes(r.Context(), q.Get("folder"), limit)
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: items, Total: len(items)})
}

// GetNote handles GET /notes/*.
//
//	@Summary		Get a single note by id
//	@Tags			notes
//	@Produce		json
//	@Param			path	path		string	true	"Note id"
//	@Success		200		{object}	NoteDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{path} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	note, err := h.svc.GetNote(r.Context(), path)
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

// Search handles GET /search.
//
//	@Summary		Hybrid search across exact, full-text and semantic indexes
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if strings.TrimSpace(q) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	resp, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// BuildIndex handles POST /index/build.
//
//	@Summary		Rebuild the full-text and semantic indexes
//	@Tags			index
//	@Produce		json
//	@Param			async	query		bool	false	"Return immediately and build in the background"
//	@Success		200		{object}	BuildResponse
//	@Success		202		{object}	BuildResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/index/build [post]
func (h *Handler) BuildIndex(w http.ResponseWriter, r *http.Request) {
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if !h.svc.StartBuild() {
			writeJSON(w, http.StatusConflict, codedError(codeBuildInProgress, "index build already in progress"))
			return
		}
		writeJSON(w, http.StatusAccepted, BuildResponse{Started: true})
		return
	}
	res, err := h.svc.BuildIndexes(r.Context(), nil)
	if err != nil {
		writeError(w, "build index", err)
		return
	}
	writeJSON(w, http.StatusOK, BuildResponse{Started: true, FullText: res.FullText, Semantic: res.Semantic})
}

// IndexStatus handles GET /index/status.
//
//	@Summary		Report index staleness and build state
//	@Tags			index
//	@Produce		json
//	@Success		200	{object}	IndexStatusResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/index/status [get]
func (h *Handler) IndexStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Status(r.Context())
	if err != nil {
		writeError(w, "index status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
