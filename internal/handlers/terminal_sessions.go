package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

type shellInfoResponse struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Attached  bool      `json:"attached"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
}

// ListTerminalShells reports the live shells for one session so clients can
// offer reattachment.
func (h *Handlers) ListTerminalShells(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Registry.Get(id); err != nil {
		writeDomainError(w, err)
		return
	}

	shells := h.Terminals.ListForSession(id)
	out := make([]shellInfoResponse, 0, len(shells))
	for _, ms := range shells {
		out = append(out, shellInfoResponse{
			ID:        ms.ID,
			State:     string(ms.State()),
			Attached:  ms.IsAttached(),
			CreatedAt: ms.CreatedAt,
			LastUsed:  ms.LastActivity(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"shells": out})
}

func (h *Handlers) CloseTerminalShell(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	shellID := chi.URLParam(r, "shellID")

	ms := h.Terminals.Get(shellID)
	if ms == nil || ms.SessionID != id {
		writeError(w, http.StatusNotFound, "not_found", "Shell not found")
		return
	}
	h.Terminals.CloseShell(shellID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}
