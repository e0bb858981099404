// Package engine drives the external container engine for session containers.
// Two backends satisfy the same narrow contract: the Docker API client and a
// Docker-compatible CLI (docker or podman), so the binding is swappable
// without touching orchestration logic.
package engine

import (
	"context"
	"fmt"
	"io"
)

// Engine is the lifecycle contract for one container per session.
type Engine interface {
	// Name identifies the backend ("docker", "cli:docker", "cli:podman").
	Name() string

	// Start creates and runs a container. It never retries: a second start
	// would leak a container and double-lease the session port. Failures
	// surface as *StartError with the engine diagnostic attached.
	Start(ctx context.Context, spec StartSpec) (ref string, err error)

	// Stop is best-effort idempotent: stopping an unknown or already-stopped
	// container succeeds so teardown can fire from multiple triggers.
	Stop(ctx context.Context, ref string) error

	// Remove force-removes the container. Not-found is not an error.
	Remove(ctx context.Context, ref string) error

	// Inspect reports whether the container is running and, once it has
	// exited, its exit code. Unknown containers report not running.
	Inspect(ctx context.Context, ref string) (Status, error)

	// ExecInteractive attaches an interactive TTY shell inside the container.
	ExecInteractive(ctx context.Context, ref string, cols, rows uint16) (*ExecSession, error)
}

// StartSpec describes the container to run for one session.
type StartSpec struct {
	Name          string
	Image         string
	HostPort      int
	ContainerPort int
	Directory     string // host path bind-mounted at WorkspacePath
	WorkspacePath string
	Env           map[string]string
	MemoryLimit   string // human-readable, e.g. "4g"; empty means unlimited
	Cmd           []string
}

// Status is the result of inspecting a container.
type Status struct {
	Running  bool
	ExitCode int
}

// StartError carries the engine's diagnostic output when create/run fails.
type StartError struct {
	Ref    string
	Output string
	Err    error
}

func (e *StartError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("engine start failed: %v: %s", e.Err, e.Output)
	}
	return fmt.Sprintf("engine start failed: %v", e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// ExecSession is an attached interactive shell with terminal control.
type ExecSession struct {
	Stdin  io.Writer
	Stdout io.Reader
	Resize func(cols, rows uint16) error
	Close  func() error
	// Wait blocks until the shell process exits. It is safe to call once.
	Wait func() error
}
