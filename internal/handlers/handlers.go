// Package handlers is the HTTP façade. Endpoints stay thin: decode, call
// into the registry/guard/terminal manager, encode.
package handlers

import (
	"github.com/go-chi/chi/v5"

	"github.com/codeport/devport/internal/database"
	"github.com/codeport/devport/internal/session"
	"github.com/codeport/devport/internal/terminal"
)

// Handlers carries the components the endpoints operate on.
type Handlers struct {
	Registry  *session.Registry
	Terminals *terminal.Manager
	store     *database.Store
}

func New(registry *session.Registry, terminals *terminal.Manager, store *database.Store) *Handlers {
	return &Handlers{Registry: registry, Terminals: terminals, store: store}
}

// Routes mounts every API endpoint on r.
func (h *Handlers) Routes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Get("/", h.ListSessions)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)

			r.Get("/terminal", h.TerminalWS)
			r.Get("/terminal/sessions", h.ListTerminalShells)
			r.Delete("/terminal/sessions/{shellID}", h.CloseTerminalShell)

			r.Get("/files/browse", h.BrowseFiles)
			r.Get("/files/read", h.ReadFileContent)
			r.Post("/files/write", h.WriteFileContent)
			r.Post("/files/mkdir", h.MakeDirectory)
		})
	})
}
