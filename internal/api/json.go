package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Error codes carried in errResponse.Code.
const (
	codeNotFound        = "not_found"
	codeBuildInProgress = "build_in_progress"
	codeUnavailable     = "unavailable"
	codeQueryFailed     = "query_failed"
	codeInternal        = "internal"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
	Code  string `json:"code,omitempty" example:"not_found"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

func codedError(code, msg string) errResponse {
	return errResponse{Error: msg, Code: code}
}
