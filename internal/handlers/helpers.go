package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/codeport/devport/internal/engine"
	"github.com/codeport/devport/internal/ports"
	"github.com/codeport/devport/internal/session"
	"github.com/codeport/devport/internal/workspace"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, map[string]string{"kind": kind, "detail": detail})
}

// writeDomainError maps well-known failures to stable error kinds and HTTP
// status codes; anything unrecognized becomes a 500.
func writeDomainError(w http.ResponseWriter, err error) {
	var startErr *engine.StartError
	var invalid *session.InvalidTransitionError
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ports.ErrExhausted):
		writeError(w, http.StatusServiceUnavailable, "exhausted", err.Error())
	case errors.As(err, &startErr):
		writeError(w, http.StatusBadGateway, "start_error", startErr.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, "invalid_transition", invalid.Error())
	case errors.Is(err, workspace.ErrPathEscape):
		writeError(w, http.StatusBadRequest, "path_escape", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
