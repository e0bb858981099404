package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"My Android App", "my-android-app"},
		{"  spaced  out  ", "spaced-out"},
		{"UPPER_case.name", "upper-case-name"},
		{"한글이름", ""},
		{"mixed 한글 name", "mixed-name"},
		{"---", ""},
		{"already-slugged", "already-slugged"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewSessionID(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	if got := NewSessionID(now, "Demo App"); got != "20260314-092653-demo-app" {
		t.Errorf("NewSessionID = %q", got)
	}
	if got := NewSessionID(now, ""); got != "20260314-092653" {
		t.Errorf("NewSessionID with empty name = %q", got)
	}
}

func TestPrepareEmptyDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "20260101-000000-demo")

	if err := Prepare(dir, ""); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("session directory not created: %v", err)
	}
}

func TestPrepareCloneFailureLeavesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "20260101-000000-demo")

	err := Prepare(dir, "file:///nonexistent/repo.git")
	if err == nil {
		t.Skip("clone unexpectedly succeeded")
	}
	if _, statErr := os.Stat(dir); !os.IsNotExist(statErr) {
		t.Error("failed clone left a partial session directory behind")
	}
}
