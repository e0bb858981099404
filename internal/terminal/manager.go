package terminal

import (
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeport/devport/internal/engine"
)

// ShellState is the lifecycle state of a managed shell.
type ShellState string

const (
	// ShellActive means the shell is alive and a WebSocket is attached.
	ShellActive ShellState = "active"
	// ShellDetached means the shell is alive with no WebSocket attached.
	ShellDetached ShellState = "detached"
	// ShellClosed means the shell process has ended.
	ShellClosed ShellState = "closed"
)

// ErrAlreadyAttached is returned when a second client tries to attach to a
// shell that already has a live WebSocket.
var ErrAlreadyAttached = errors.New("shell already attached")

// ErrShellClosed is returned when attaching to a shell whose process ended.
var ErrShellClosed = errors.New("shell closed")

// ManagedShell is one interactive shell bound to a session. It survives
// WebSocket disconnects: output produced while detached lands in the
// scrollback buffer and is replayed on reattach. At most one WebSocket may
// be attached at a time.
type ManagedShell struct {
	ID        string
	SessionID string
	CreatedAt time.Time

	shell      *engine.ExecSession
	scrollback *ScrollbackBuffer

	mu           sync.Mutex
	attached     io.Writer
	state        ShellState
	lastActivity time.Time

	closeOnce sync.Once
	done      chan struct{}
}

func (ms *ManagedShell) State() ShellState {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.state
}

func (ms *ManagedShell) LastActivity() time.Time {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.lastActivity
}

func (ms *ManagedShell) IsAttached() bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return ms.attached != nil
}

// Attach binds a writer to receive live output and returns the scrollback to
// replay. Only one writer may be attached at a time.
func (ms *ManagedShell) Attach(w io.Writer) ([]byte, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if ms.state == ShellClosed {
		return nil, ErrShellClosed
	}
	if ms.attached != nil {
		return nil, ErrAlreadyAttached
	}
	ms.attached = w
	ms.state = ShellActive
	ms.lastActivity = time.Now()
	return ms.scrollback.Snapshot(), nil
}

// Detach drops the attached writer. The shell keeps running and buffering.
func (ms *ManagedShell) Detach() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.attached = nil
	if ms.state == ShellActive {
		ms.state = ShellDetached
	}
	ms.lastActivity = time.Now()
}

func (ms *ManagedShell) WriteInput(p []byte) (int, error) {
	ms.mu.Lock()
	ms.lastActivity = time.Now()
	ms.mu.Unlock()
	return ms.shell.Stdin.Write(p)
}

func (ms *ManagedShell) Resize(cols, rows uint16) error {
	cols, rows = ClampSize(cols, rows)
	return ms.shell.Resize(cols, rows)
}

// Done is closed when the shell process exits.
func (ms *ManagedShell) Done() <-chan struct{} {
	return ms.done
}

// Close terminates the shell process. Safe to call multiple times.
func (ms *ManagedShell) Close() {
	ms.closeOnce.Do(func() {
		ms.mu.Lock()
		ms.state = ShellClosed
		ms.attached = nil
		ms.lastActivity = time.Now()
		ms.mu.Unlock()
		ms.shell.Close()
		close(ms.done)
	})
}

// Manager tracks every live shell across all sessions.
type Manager struct {
	mu     sync.RWMutex
	shells map[string]*ManagedShell

	// ScrollbackSize is the max scrollback buffer size for new shells.
	ScrollbackSize int
	// IdleTimeout is how long a detached shell stays alive before cleanup.
	// Zero disables automatic cleanup.
	IdleTimeout time.Duration
}

const DefaultIdleTimeout = 30 * time.Minute

func NewManager() *Manager {
	return &Manager{
		shells:         make(map[string]*ManagedShell),
		ScrollbackSize: defaultScrollbackSize,
		IdleTimeout:    DefaultIdleTimeout,
	}
}

// Adopt registers an already-started shell and begins relaying its output
// into the scrollback buffer. The relay runs until the shell exits,
// independent of WebSocket attachment.
func (m *Manager) Adopt(sessionID string, shell *engine.ExecSession) *ManagedShell {
	ms := &ManagedShell{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		CreatedAt:    time.Now(),
		shell:        shell,
		scrollback:   NewScrollbackBuffer(m.ScrollbackSize),
		state:        ShellDetached,
		lastActivity: time.Now(),
		done:         make(chan struct{}),
	}

	go m.relay(ms)

	m.mu.Lock()
	m.shells[ms.ID] = ms
	m.mu.Unlock()

	log.Printf("Terminal shell %s created for session %s", ms.ID, sessionID)
	return ms
}

// relay pumps shell output into the scrollback and any attached writer, then
// reaps the shell process when the stream ends so it cannot linger as a
// zombie.
func (m *Manager) relay(ms *ManagedShell) {
	buf := make([]byte, 32*1024)
	for {
		n, err := ms.shell.Stdout.Read(buf)
		if n > 0 {
			ms.scrollback.Write(buf[:n])
			ms.mu.Lock()
			w := ms.attached
			ms.mu.Unlock()
			if w != nil {
				w.Write(buf[:n])
			}
		}
		if err != nil {
			if ms.shell.Wait != nil {
				ms.shell.Wait()
			}
			log.Printf("Terminal shell %s ended: %v", ms.ID, err)
			ms.Close()
			return
		}
	}
}

func (m *Manager) Get(id string) *ManagedShell {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shells[id]
}

// ListForSession returns the live shells belonging to one session.
func (m *Manager) ListForSession(sessionID string) []*ManagedShell {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ManagedShell
	for _, ms := range m.shells {
		if ms.SessionID == sessionID && ms.State() != ShellClosed {
			out = append(out, ms)
		}
	}
	return out
}

// CloseShell closes one shell by ID and forgets it.
func (m *Manager) CloseShell(id string) error {
	m.mu.Lock()
	ms, ok := m.shells[id]
	delete(m.shells, id)
	m.mu.Unlock()
	if !ok {
		return errors.New("shell not found")
	}
	ms.Close()
	return nil
}

// CloseAllForSession tears down every shell bound to a session. Called when
// the session stops or is deleted.
func (m *Manager) CloseAllForSession(sessionID string) {
	m.mu.Lock()
	var toClose []*ManagedShell
	for id, ms := range m.shells {
		if ms.SessionID == sessionID {
			toClose = append(toClose, ms)
			delete(m.shells, id)
		}
	}
	m.mu.Unlock()

	for _, ms := range toClose {
		ms.Close()
	}
}

// CloseAll tears down every shell. Used during shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	toClose := make([]*ManagedShell, 0, len(m.shells))
	for id, ms := range m.shells {
		toClose = append(toClose, ms)
		delete(m.shells, id)
	}
	m.mu.Unlock()

	for _, ms := range toClose {
		ms.Close()
	}
}

// CleanupIdle closes detached shells idle past IdleTimeout and drops closed
// shells from the table. Returns how many idle shells were closed.
func (m *Manager) CleanupIdle() int {
	if m.IdleTimeout <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-m.IdleTimeout)

	m.mu.RLock()
	var idle []*ManagedShell
	for _, ms := range m.shells {
		if ms.State() == ShellDetached && ms.LastActivity().Before(cutoff) {
			idle = append(idle, ms)
		}
	}
	m.mu.RUnlock()

	for _, ms := range idle {
		log.Printf("Closing idle terminal shell %s (detached since %s)",
			ms.ID, ms.LastActivity().Format(time.RFC3339))
		ms.Close()
		m.mu.Lock()
		delete(m.shells, ms.ID)
		m.mu.Unlock()
	}

	m.mu.Lock()
	for id, ms := range m.shells {
		if ms.State() == ShellClosed && ms.LastActivity().Before(cutoff) {
			delete(m.shells, id)
		}
	}
	m.mu.Unlock()

	return len(idle)
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.shells)
}
