package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/codeport/devport/internal/database"
	"github.com/codeport/devport/internal/engine"
	"github.com/codeport/devport/internal/ports"
	"github.com/codeport/devport/internal/workspace"
)

// Options carries the container launch parameters shared by every session.
type Options struct {
	SessionRoot    string
	Image          string
	ContainerPort  int
	WorkspaceMount string
	MemoryLimit    string
	AccessHost     string
	// ExtraEnv is injected verbatim into every session container.
	ExtraEnv map[string]string
}

// Session is the API-facing view of one session.
type Session struct {
	ID             string    `json:"id"`
	ProjectName    string    `json:"project_name"`
	Slug           string    `json:"slug"`
	RepoURL        string    `json:"repo_url,omitempty"`
	Directory      string    `json:"directory"`
	Port           int       `json:"port"`
	ContainerRef   string    `json:"container_ref,omitempty"`
	State          State     `json:"state"`
	AccessURL      string    `json:"access_url,omitempty"`
	Password       string    `json:"password,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Registry owns session lifecycle: one record, one workspace directory, one
// leased port and at most one container per session. All lifecycle mutations
// for a given session are serialized through a per-session lock.
type Registry struct {
	store  *database.Store
	ports  *ports.Allocator
	engine engine.Engine
	opts   Options

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

func NewRegistry(store *database.Store, alloc *ports.Allocator, eng engine.Engine, opts Options) *Registry {
	return &Registry{
		store:  store,
		ports:  alloc,
		engine: eng,
		opts:   opts,
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

// lockFor returns the mutex serializing lifecycle work for one session ID.
func (r *Registry) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

func (r *Registry) dropLock(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, id)
}

func generatePassword() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Create provisions a new session: record, workspace directory, leased port,
// running container. If any step fails the port is released, a partially
// started container is force-removed, and the record is left in state failed
// with no retry; the caller decides whether to create a fresh session.
func (r *Registry) Create(ctx context.Context, projectName, repoURL string) (*Session, error) {
	if projectName == "" {
		return nil, fmt.Errorf("project name is required")
	}

	now := r.now()
	id := workspace.NewSessionID(now, projectName)
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	port, err := r.ports.Acquire()
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(r.opts.SessionRoot, id)
	rec := &database.SessionRecord{
		ID:             id,
		ProjectName:    projectName,
		Slug:           workspace.Slugify(projectName),
		RepoURL:        repoURL,
		Directory:      dir,
		Port:           port,
		State:          string(StatePending),
		Password:       generatePassword(),
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := r.store.CreateSession(rec); err != nil {
		r.ports.Release(port)
		return nil, fmt.Errorf("failed to create session record: %w", err)
	}

	if err := workspace.Prepare(dir, repoURL); err != nil {
		r.abortCreate(ctx, rec, "")
		return nil, err
	}

	rec.State = string(StateStarting)
	if err := r.store.SaveSession(rec); err != nil {
		r.abortCreate(ctx, rec, "")
		return nil, err
	}

	env := map[string]string{"PASSWORD": rec.Password}
	for k, v := range r.opts.ExtraEnv {
		env[k] = v
	}
	ref, err := r.engine.Start(ctx, engine.StartSpec{
		Name:          "devport-" + id,
		Image:         r.opts.Image,
		HostPort:      port,
		ContainerPort: r.opts.ContainerPort,
		Directory:     dir,
		WorkspacePath: r.opts.WorkspaceMount,
		Env:           env,
		MemoryLimit:   r.opts.MemoryLimit,
	})
	if err != nil {
		log.Printf("Session %s: container start failed: %v", id, err)
		r.abortCreate(ctx, rec, ref)
		return nil, err
	}

	rec.ContainerRef = ref
	rec.State = string(StateRunning)
	if err := r.store.SaveSession(rec); err != nil {
		r.abortCreate(ctx, rec, ref)
		return nil, err
	}

	log.Printf("Session %s running: port %d, container %.12s", id, port, ref)
	return r.view(rec), nil
}

// abortCreate tears down a half-created session and marks the record failed.
func (r *Registry) abortCreate(ctx context.Context, rec *database.SessionRecord, ref string) {
	if ref != "" {
		if err := r.engine.Remove(ctx, ref); err != nil {
			log.Printf("Session %s: cleanup remove failed: %v", rec.ID, err)
		}
	}
	r.ports.Release(rec.Port)
	rec.ContainerRef = ref
	rec.State = string(StateFailed)
	if err := r.store.SaveSession(rec); err != nil {
		log.Printf("Session %s: failed to persist failed state: %v", rec.ID, err)
	}
}

func (r *Registry) Get(id string) (*Session, error) {
	rec, err := r.store.GetSession(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return r.view(rec), nil
}

func (r *Registry) List() ([]Session, error) {
	recs, err := r.store.ListSessions()
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(recs))
	for i := range recs {
		out = append(out, *r.view(&recs[i]))
	}
	return out, nil
}

// Transition moves a session to a new state, enforcing the lifecycle graph.
// It mutates the record only; engine side effects belong to Create/Stop/Delete.
func (r *Registry) Transition(id string, to State) error {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	rec, err := r.store.GetSession(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	return r.transitionLocked(rec, to)
}

func (r *Registry) transitionLocked(rec *database.SessionRecord, to State) error {
	from := State(rec.State)
	if !canTransition(from, to) {
		return &InvalidTransitionError{ID: rec.ID, From: from, To: to}
	}
	rec.State = string(to)
	return r.store.UpdateSessionState(rec.ID, rec.State)
}

// Stop shuts down a running session's container and leaves the record in
// state stopped with its port released. Stopping an already-stopped session
// is a no-op so teardown can fire from multiple triggers.
func (r *Registry) Stop(ctx context.Context, id string) error {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := r.store.GetSession(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}
	switch State(rec.State) {
	case StateStopped:
		return nil
	case StateStopping:
		return r.finishStop(ctx, rec)
	}
	if err := r.transitionLocked(rec, StateStopping); err != nil {
		return err
	}
	return r.finishStop(ctx, rec)
}

func (r *Registry) finishStop(ctx context.Context, rec *database.SessionRecord) error {
	if rec.ContainerRef != "" {
		if err := r.engine.Stop(ctx, rec.ContainerRef); err != nil {
			log.Printf("Session %s: engine stop failed: %v", rec.ID, err)
			r.transitionLocked(rec, StateFailed)
			return err
		}
	}
	r.ports.Release(rec.Port)
	return r.transitionLocked(rec, StateStopped)
}

// Delete removes the session record and its container. A running session is
// stopped first; workspace directories are retained on disk. Deleting an
// unknown ID succeeds so the operation is idempotent.
func (r *Registry) Delete(ctx context.Context, id string) error {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	rec, err := r.store.GetSession(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.dropLock(id)
			return nil
		}
		return err
	}

	switch State(rec.State) {
	case StateRunning:
		if err := r.transitionLocked(rec, StateStopping); err != nil {
			return err
		}
		if err := r.finishStop(ctx, rec); err != nil {
			return err
		}
	case StateStopping:
		if err := r.finishStop(ctx, rec); err != nil {
			return err
		}
	case StatePending, StateStarting:
		// Mid-creation teardown races the creator; creation holds the same
		// lock, so by the time we are here the record is settled.
		r.ports.Release(rec.Port)
	case StateStopped, StateFailed:
		// The lease was released when the session settled. Releasing again
		// would revoke the port from whichever session has since leased it.
	}

	if rec.ContainerRef != "" {
		if err := r.engine.Remove(ctx, rec.ContainerRef); err != nil {
			log.Printf("Session %s: container remove failed: %v", id, err)
		}
	}
	if err := r.store.DeleteSession(id); err != nil {
		return err
	}
	r.dropLock(id)
	log.Printf("Session %s deleted", id)
	return nil
}

// Touch records activity so idle cleanup and listings stay accurate. It
// holds the per-session lock and writes only the activity column, so it can
// never clobber a concurrent state change with a stale row.
func (r *Registry) Touch(id string) {
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	if err := r.store.UpdateSessionActivity(id, r.now()); err != nil {
		log.Printf("Session %s: failed to update activity: %v", id, err)
	}
}

// Resync reconciles persisted records against the engine at startup. Sessions
// whose containers survived the restart keep their port lease; sessions whose
// containers are gone or stopped are settled into a terminal state.
func (r *Registry) Resync(ctx context.Context) error {
	recs, err := r.store.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions for resync: %w", err)
	}
	for i := range recs {
		rec := &recs[i]
		state := State(rec.State)
		if IsTerminal(state) {
			continue
		}

		alive := false
		if rec.ContainerRef != "" {
			status, err := r.engine.Inspect(ctx, rec.ContainerRef)
			if err != nil {
				log.Printf("Resync: inspect %s failed: %v", rec.ID, err)
			} else {
				alive = status.Running
			}
		}

		if alive {
			if err := r.ports.Reserve(rec.Port); err != nil {
				log.Printf("Resync: session %s port %d: %v", rec.ID, rec.Port, err)
			}
			if state != StateRunning {
				rec.State = string(StateRunning)
				r.store.UpdateSessionState(rec.ID, rec.State)
			}
			log.Printf("Resync: session %s still running on port %d", rec.ID, rec.Port)
			continue
		}

		if state == StateStopping {
			rec.State = string(StateStopped)
		} else {
			rec.State = string(StateFailed)
		}
		if err := r.store.UpdateSessionState(rec.ID, rec.State); err != nil {
			log.Printf("Resync: failed to settle session %s: %v", rec.ID, err)
		} else {
			log.Printf("Resync: session %s settled as %s (container gone)", rec.ID, rec.State)
		}
	}
	return nil
}

// Reconcile inspects every running session and settles those whose container
// exited behind our back, releasing their ports.
func (r *Registry) Reconcile(ctx context.Context) {
	recs, err := r.store.ListSessions()
	if err != nil {
		log.Printf("Reconcile: list failed: %v", err)
		return
	}
	for i := range recs {
		rec := &recs[i]
		if State(rec.State) != StateRunning || rec.ContainerRef == "" {
			continue
		}
		status, err := r.engine.Inspect(ctx, rec.ContainerRef)
		if err != nil {
			log.Printf("Reconcile: inspect %s failed: %v", rec.ID, err)
			continue
		}
		if status.Running {
			continue
		}

		lock := r.lockFor(rec.ID)
		lock.Lock()
		fresh, err := r.store.GetSession(rec.ID)
		if err == nil && State(fresh.State) == StateRunning {
			r.ports.Release(fresh.Port)
			if status.ExitCode == 0 {
				r.transitionLocked(fresh, StateStopping)
				r.transitionLocked(fresh, StateStopped)
			} else {
				r.transitionLocked(fresh, StateFailed)
			}
			log.Printf("Reconcile: session %s container exited (code %d), now %s",
				rec.ID, status.ExitCode, fresh.State)
		}
		lock.Unlock()
	}
}

// StopAll stops every running session. Used during graceful shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	recs, err := r.store.ListSessions()
	if err != nil {
		log.Printf("StopAll: list failed: %v", err)
		return
	}
	for i := range recs {
		if State(recs[i].State) != StateRunning {
			continue
		}
		if err := r.Stop(ctx, recs[i].ID); err != nil {
			log.Printf("StopAll: session %s: %v", recs[i].ID, err)
		}
	}
}

// Engine exposes the container engine for components that attach to session
// containers (terminal bridge).
func (r *Registry) Engine() engine.Engine {
	return r.engine
}

func (r *Registry) view(rec *database.SessionRecord) *Session {
	s := &Session{
		ID:             rec.ID,
		ProjectName:    rec.ProjectName,
		Slug:           rec.Slug,
		RepoURL:        rec.RepoURL,
		Directory:      rec.Directory,
		Port:           rec.Port,
		ContainerRef:   rec.ContainerRef,
		State:          State(rec.State),
		Password:       rec.Password,
		CreatedAt:      rec.CreatedAt,
		LastActivityAt: rec.LastActivityAt,
	}
	if s.State == StateRunning {
		s.AccessURL = fmt.Sprintf("http://%s:%d", r.opts.AccessHost, rec.Port)
	}
	return s
}
