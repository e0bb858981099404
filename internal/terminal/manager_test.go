package terminal

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/codeport/devport/internal/engine"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fakeShell is an ExecSession backed by an in-process pipe. Writing to out
// simulates shell output; closing out simulates the shell exiting.
func fakeShell() (*engine.ExecSession, *io.PipeWriter, *syncBuffer) {
	pr, pw := io.Pipe()
	stdin := &syncBuffer{}
	sess := &engine.ExecSession{
		Stdin:  stdin,
		Stdout: pr,
		Resize: func(cols, rows uint16) error { return nil },
		Close: func() error {
			pw.Close()
			return nil
		},
		Wait: func() error { return nil },
	}
	return sess, pw, stdin
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestScrollbackTrimsFront(t *testing.T) {
	sb := NewScrollbackBuffer(8)
	sb.Write([]byte("12345678"))
	sb.Write([]byte("abcd"))
	if got := string(sb.Snapshot()); got != "5678abcd" {
		t.Errorf("snapshot = %q, want %q", got, "5678abcd")
	}
	if sb.Len() != 8 {
		t.Errorf("len = %d, want 8", sb.Len())
	}
}

func TestAdoptRelaysOutput(t *testing.T) {
	m := NewManager()
	sess, out, _ := fakeShell()
	ms := m.Adopt("sess-1", sess)
	defer ms.Close()

	out.Write([]byte("hello"))
	waitFor(t, "scrollback", func() bool {
		return string(ms.scrollback.Snapshot()) == "hello"
	})
}

func TestAttachReplaysHistoryAndStreamsLive(t *testing.T) {
	m := NewManager()
	sess, out, _ := fakeShell()
	ms := m.Adopt("sess-1", sess)
	defer ms.Close()

	out.Write([]byte("before "))
	waitFor(t, "buffered output", func() bool { return ms.scrollback.Len() > 0 })

	sink := &syncBuffer{}
	history, err := ms.Attach(sink)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if string(history) != "before " {
		t.Errorf("history = %q", history)
	}

	out.Write([]byte("after"))
	waitFor(t, "live output", func() bool { return sink.String() == "after" })
}

func TestAttachIsExclusive(t *testing.T) {
	m := NewManager()
	sess, _, _ := fakeShell()
	ms := m.Adopt("sess-1", sess)
	defer ms.Close()

	if _, err := ms.Attach(&syncBuffer{}); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if _, err := ms.Attach(&syncBuffer{}); !errors.Is(err, ErrAlreadyAttached) {
		t.Fatalf("second attach: %v, want ErrAlreadyAttached", err)
	}

	ms.Detach()
	if ms.State() != ShellDetached {
		t.Errorf("state after detach = %s", ms.State())
	}
	if _, err := ms.Attach(&syncBuffer{}); err != nil {
		t.Fatalf("reattach after detach: %v", err)
	}
}

func TestShellExitClosesDone(t *testing.T) {
	m := NewManager()
	sess, out, _ := fakeShell()
	ms := m.Adopt("sess-1", sess)

	out.Close()
	select {
	case <-ms.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not closed after shell exit")
	}
	if ms.State() != ShellClosed {
		t.Errorf("state = %s, want closed", ms.State())
	}
	if _, err := ms.Attach(&syncBuffer{}); !errors.Is(err, ErrShellClosed) {
		t.Errorf("attach after exit: %v, want ErrShellClosed", err)
	}
}

func TestWriteInputReachesShell(t *testing.T) {
	m := NewManager()
	sess, _, stdin := fakeShell()
	ms := m.Adopt("sess-1", sess)
	defer ms.Close()

	if _, err := ms.WriteInput([]byte("ls\n")); err != nil {
		t.Fatalf("WriteInput: %v", err)
	}
	if stdin.String() != "ls\n" {
		t.Errorf("stdin = %q", stdin.String())
	}
}

func TestCloseAllForSession(t *testing.T) {
	m := NewManager()
	a, _, _ := fakeShell()
	b, _, _ := fakeShell()
	c, _, _ := fakeShell()
	m.Adopt("sess-1", a)
	m.Adopt("sess-1", b)
	other := m.Adopt("sess-2", c)
	defer other.Close()

	m.CloseAllForSession("sess-1")
	if got := len(m.ListForSession("sess-1")); got != 0 {
		t.Errorf("sess-1 shells after close = %d", got)
	}
	if got := len(m.ListForSession("sess-2")); got != 1 {
		t.Errorf("sess-2 shells = %d, want 1", got)
	}
}

func TestCleanupIdle(t *testing.T) {
	m := NewManager()
	m.IdleTimeout = time.Minute
	sess, _, _ := fakeShell()
	ms := m.Adopt("sess-1", sess)

	ms.mu.Lock()
	ms.lastActivity = time.Now().Add(-2 * time.Minute)
	ms.mu.Unlock()

	if n := m.CleanupIdle(); n != 1 {
		t.Fatalf("cleaned %d shells, want 1", n)
	}
	if m.Get(ms.ID) != nil {
		t.Error("idle shell still tracked")
	}
	if ms.State() != ShellClosed {
		t.Errorf("state = %s, want closed", ms.State())
	}
}

func TestRateLimiterExhaustsBurst(t *testing.T) {
	rl := NewRateLimiter(0, 3)
	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("message %d denied within burst", i)
		}
	}
	if rl.Allow() {
		t.Error("message allowed past burst with zero refill")
	}
}

func TestClampSize(t *testing.T) {
	cols, rows := ClampSize(10000, 10000)
	if cols != MaxTermCols || rows != MaxTermRows {
		t.Errorf("clamped to %dx%d", cols, rows)
	}
	cols, rows = ClampSize(80, 24)
	if cols != 80 || rows != 24 {
		t.Errorf("80x24 altered to %dx%d", cols, rows)
	}
}
