package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/codeport/devport/internal/session"
	"github.com/codeport/devport/internal/workspace"
)

// guardFor resolves the session and binds a file guard to its directory.
func (h *Handlers) guardFor(id string) (*workspace.Guard, *session.Session, error) {
	sess, err := h.Registry.Get(id)
	if err != nil {
		return nil, nil, err
	}
	guard, err := workspace.NewGuard(sess.Directory)
	if err != nil {
		return nil, nil, err
	}
	return guard, sess, nil
}

func (h *Handlers) BrowseFiles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	guard, _, err := h.guardFor(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dirPath := r.URL.Query().Get("path")
	entries, err := guard.List(dirPath)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.Registry.Touch(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":    dirPath,
		"entries": entries,
	})
}

func (h *Handlers) ReadFileContent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	filePath := r.URL.Query().Get("path")
	if filePath == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "path is required")
		return
	}

	guard, _, err := h.guardFor(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	data, err := guard.Read(filePath)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.Registry.Touch(id)
	writeJSON(w, http.StatusOK, map[string]string{
		"path":    filePath,
		"content": string(data),
	})
}

type fileWriteRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (h *Handlers) WriteFileContent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req fileWriteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "path is required")
		return
	}

	guard, _, err := h.guardFor(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := guard.Write(req.Path, []byte(req.Content)); err != nil {
		log.Printf("File write rejected for session %s path %q: %v", id, req.Path, err)
		writeDomainError(w, err)
		return
	}
	h.Registry.Touch(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "written", "path": req.Path})
}

type mkdirRequest struct {
	Path string `json:"path"`
}

func (h *Handlers) MakeDirectory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req mkdirRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "path is required")
		return
	}

	guard, _, err := h.guardFor(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := guard.Mkdir(req.Path); err != nil {
		writeDomainError(w, err)
		return
	}
	h.Registry.Touch(id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "created", "path": req.Path})
}
