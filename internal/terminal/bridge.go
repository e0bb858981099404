package terminal

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"

	"github.com/codeport/devport/internal/engine"
)

// OpenShell spawns the interactive shell for a session. When containerRef
// names a live container the shell runs inside it; otherwise a host shell is
// started rooted at the session's workspace directory.
func OpenShell(ctx context.Context, eng engine.Engine, containerRef, dir string, cols, rows uint16) (*engine.ExecSession, error) {
	cols, rows = ClampSize(cols, rows)
	if containerRef != "" {
		return eng.ExecInteractive(ctx, containerRef, cols, rows)
	}
	return hostShell(dir, cols, rows)
}

// hostShell runs $SHELL (or /bin/bash) on a pty, chdir'd into dir.
func hostShell(dir string, cols, rows uint16) (*engine.ExecSession, error) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/bash"
	}

	cmd := exec.Command(shell)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	return &engine.ExecSession{
		Stdin:  ptmx,
		Stdout: ptmx,
		Resize: func(cols, rows uint16) error {
			return pty.Setsize(ptmx, &pty.Winsize{Cols: cols, Rows: rows})
		},
		Close: func() error {
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
			return ptmx.Close()
		},
		Wait: cmd.Wait,
	}, nil
}
