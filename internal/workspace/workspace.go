// Package workspace manages per-session host directories and guards all file
// access against them.
package workspace

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify reduces a user-supplied label to a filesystem-safe slug.
func Slugify(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = slugPattern.ReplaceAllString(value, "-")
	return strings.Trim(value, "-")
}

// NewSessionID derives a stable session identifier from the creation time
// and the slugified project name.
func NewSessionID(now time.Time, projectName string) string {
	ts := now.UTC().Format("20060102-150405")
	if slug := Slugify(projectName); slug != "" {
		return ts + "-" + slug
	}
	return ts
}

// Prepare creates the session directory. When repoURL is set the repository
// is cloned into it; otherwise an empty directory is created. On clone
// failure the directory is removed so no partial checkout remains.
func Prepare(dir, repoURL string) error {
	if repoURL == "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create session directory: %w", err)
		}
		return nil
	}

	cmd := exec.Command("git", "clone", repoURL, dir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.RemoveAll(dir)
		return fmt.Errorf("git clone: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
