package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/codeport/devport/internal/session"
	"github.com/codeport/devport/internal/terminal"
)

type termResizeMsg struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

func termSizeParam(r *http.Request, name string, def uint16) uint16 {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	return uint16(v)
}

// TerminalWS bridges a WebSocket to an interactive shell in the session's
// container.
//
// Query parameters:
//   - shell_id: (optional) reattach to an existing detached shell. If omitted
//     or unknown, a fresh shell is started.
//   - cols, rows: initial terminal size for new shells.
//
// Binary frames carry raw terminal bytes both ways; text frames carry JSON
// control messages (resize). On reattach the scrollback buffer is replayed
// first so the client sees output produced while detached.
func (h *Handlers) TerminalWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.Registry.Get(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if sess.State != session.StateRunning {
		writeError(w, http.StatusConflict, "invalid_transition",
			"Session is not running")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("Failed to accept terminal websocket: %v", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	var ms *terminal.ManagedShell
	if shellID := r.URL.Query().Get("shell_id"); shellID != "" {
		ms = h.Terminals.Get(shellID)
		if ms != nil && ms.SessionID != id {
			ms = nil
		}
		if ms != nil && ms.IsAttached() {
			conn.Close(4409, "Shell already attached")
			return
		}
	}

	if ms == nil {
		cols := termSizeParam(r, "cols", 80)
		rows := termSizeParam(r, "rows", 24)
		// The shell must outlive this WebSocket so detached clients can
		// reattach; its lifetime is managed by the terminal manager.
		shell, err := terminal.OpenShell(context.Background(), h.Registry.Engine(),
			sess.ContainerRef, sess.Directory, cols, rows)
		if err != nil {
			log.Printf("Shell start failed for session %s: %v", id, err)
			conn.Close(4500, "Failed to start shell")
			return
		}
		ms = h.Terminals.Adopt(id, shell)
	} else {
		log.Printf("Terminal shell reattached: shell=%s session=%s", ms.ID, id)
	}

	conn.SetReadLimit(1024 * 1024)

	// Tell the client its shell ID so it can reconnect later.
	shellInfo, _ := json.Marshal(map[string]string{
		"type":     "shell_info",
		"shell_id": ms.ID,
	})
	if err := conn.Write(ctx, websocket.MessageText, shellInfo); err != nil {
		return
	}

	history, err := ms.Attach(&wsOutputWriter{conn: conn, ctx: ctx})
	if err != nil {
		conn.Close(4409, "Shell already attached")
		return
	}
	defer func() {
		ms.Detach()
		h.Registry.Touch(id)
	}()

	if len(history) > 0 {
		if err := conn.Write(ctx, websocket.MessageBinary, history); err != nil {
			return
		}
	}

	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()

	// Shell exit surfaces to the client as a normal stream close.
	go func() {
		select {
		case <-ms.Done():
			relayCancel()
		case <-relayCtx.Done():
		}
	}()

	limiter := terminal.NewRateLimiter(terminal.MessageRateLimit, terminal.MessageRateBurst)

	// Browser -> shell stdin
	for {
		msgType, data, err := conn.Read(relayCtx)
		if err != nil {
			break
		}
		if !limiter.Allow() {
			continue
		}

		if msgType == websocket.MessageBinary {
			if len(data) > terminal.MaxInputMessageSize {
				log.Printf("Terminal input too large: shell=%s size=%d", ms.ID, len(data))
				continue
			}
			if _, err := ms.WriteInput(data); err != nil {
				break
			}
		} else {
			var msg termResizeMsg
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Type == "resize" && msg.Cols > 0 && msg.Rows > 0 {
				ms.Resize(msg.Cols, msg.Rows)
			}
		}
	}

	conn.Close(websocket.StatusNormalClosure, "")
}

// wsOutputWriter adapts a WebSocket connection to io.Writer for shell output.
type wsOutputWriter struct {
	conn *websocket.Conn
	ctx  context.Context
}

func (w *wsOutputWriter) Write(p []byte) (int, error) {
	if err := w.conn.Write(w.ctx, websocket.MessageBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
