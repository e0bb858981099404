package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/creack/pty"
)

// DefaultCLITimeout bounds each engine CLI invocation.
const DefaultCLITimeout = 60 * time.Second

// CLIEngine invokes a Docker-compatible command-line tool. Both docker and
// podman answer the same subcommand contract used here.
type CLIEngine struct {
	binary  string
	timeout time.Duration
}

// NewCLIEngine wraps the given binary. When binary is empty, docker then
// podman are probed on PATH.
func NewCLIEngine(binary string, timeout time.Duration) (*CLIEngine, error) {
	if timeout <= 0 {
		timeout = DefaultCLITimeout
	}
	if binary != "" {
		if _, err := exec.LookPath(binary); err != nil {
			return nil, fmt.Errorf("engine binary %s: %w", binary, err)
		}
		return &CLIEngine{binary: binary, timeout: timeout}, nil
	}
	for _, candidate := range []string{"docker", "podman"} {
		if _, err := exec.LookPath(candidate); err == nil {
			return &CLIEngine{binary: candidate, timeout: timeout}, nil
		}
	}
	return nil, errors.New("no container engine CLI found (tried docker, podman)")
}

func (c *CLIEngine) Name() string { return "cli:" + c.binary }

// run executes one engine subcommand with a bounded timeout and returns
// stdout. Stderr is preserved in the returned error.
func (c *CLIEngine) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("%s %s timed out after %s: %s", c.binary, args[0], c.timeout, detail)
		}
		return "", fmt.Errorf("%s %s: %w: %s", c.binary, args[0], err, detail)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// runArgs builds the `run` invocation for a session container.
func runArgs(spec StartSpec) []string {
	args := []string{
		"run", "-d",
		"--name", spec.Name,
		"--label", "managed-by=" + labelManagedBy,
		"-p", fmt.Sprintf("%d:%d", spec.HostPort, spec.ContainerPort),
		"-v", fmt.Sprintf("%s:%s", spec.Directory, spec.WorkspacePath),
	}
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}
	if spec.MemoryLimit != "" {
		args = append(args, "--memory", spec.MemoryLimit)
	}
	args = append(args, spec.Image)
	args = append(args, spec.Cmd...)
	return args
}

func (c *CLIEngine) Start(ctx context.Context, spec StartSpec) (string, error) {
	out, err := c.run(ctx, runArgs(spec)...)
	if err != nil {
		return "", &StartError{Output: err.Error(), Err: err}
	}
	// `run -d` prints the full container ID on the last line.
	lines := strings.Split(out, "\n")
	ref := strings.TrimSpace(lines[len(lines)-1])
	if ref == "" {
		return "", &StartError{Output: out, Err: errors.New("engine returned no container id")}
	}
	return ref, nil
}

func (c *CLIEngine) Stop(ctx context.Context, ref string) error {
	_, err := c.run(ctx, "stop", "--time", "30", ref)
	if err != nil && !isCLINotFound(err) {
		return err
	}
	return nil
}

func (c *CLIEngine) Remove(ctx context.Context, ref string) error {
	_, err := c.run(ctx, "rm", "-f", ref)
	if err != nil && !isCLINotFound(err) {
		return err
	}
	return nil
}

func (c *CLIEngine) Inspect(ctx context.Context, ref string) (Status, error) {
	out, err := c.run(ctx, "inspect", "-f", "{{.State.Running}} {{.State.ExitCode}}", ref)
	if err != nil {
		if isCLINotFound(err) {
			return Status{Running: false}, nil
		}
		return Status{}, err
	}
	return parseInspectOutput(out)
}

func parseInspectOutput(out string) (Status, error) {
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return Status{}, fmt.Errorf("unexpected inspect output %q", out)
	}
	running, err := strconv.ParseBool(fields[0])
	if err != nil {
		return Status{}, fmt.Errorf("unexpected inspect output %q", out)
	}
	exitCode, err := strconv.Atoi(fields[1])
	if err != nil {
		return Status{}, fmt.Errorf("unexpected inspect output %q", out)
	}
	return Status{Running: running, ExitCode: exitCode}, nil
}

// isCLINotFound matches the "no such container" diagnostics both docker and
// podman print for unknown references.
func isCLINotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such container") ||
		strings.Contains(msg, "no such object") ||
		strings.Contains(msg, "no container with name")
}

func (c *CLIEngine) ExecInteractive(ctx context.Context, ref string, cols, rows uint16) (*ExecSession, error) {
	cmd := exec.Command(c.binary, "exec", "-it", "-e", "TERM=xterm-256color", ref, "/bin/bash")
	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, fmt.Errorf("start exec pty: %w", err)
	}

	return &ExecSession{
		Stdin:  ptmx,
		Stdout: ptmx,
		Resize: func(cols, rows uint16) error {
			return pty.Setsize(ptmx, &pty.Winsize{Cols: cols, Rows: rows})
		},
		Close: func() error {
			ptmx.Close()
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
			return nil
		},
		Wait: cmd.Wait,
	}, nil
}

var _ Engine = (*CLIEngine)(nil)
