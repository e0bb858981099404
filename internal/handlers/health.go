package handlers

import (
	"net/http"
)

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	status := "healthy"
	if h.store != nil {
		if err := h.store.Ping(); err != nil {
			dbStatus = "disconnected"
			status = "unhealthy"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   status,
		"engine":   h.Registry.Engine().Name(),
		"database": dbStatus,
	})
}
