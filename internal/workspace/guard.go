package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscape is returned when a requested path resolves outside the
// session directory. Escapes are rejected, never clamped.
var ErrPathEscape = errors.New("path escapes session directory")

// FileEntry describes one directory entry returned by List.
type FileEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
	Mode  string `json:"mode"`
}

// Guard confines file operations to a single session directory. Every
// relative path is resolved against the root and canonicalized; anything
// that lands outside (via .. segments, absolute paths, or symlinks) is
// rejected with ErrPathEscape.
type Guard struct {
	root string
}

// NewGuard creates a guard rooted at dir. The directory must exist so its
// canonical form can be pinned up front.
func NewGuard(dir string) (*Guard, error) {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve session directory: %w", err)
	}
	return &Guard{root: resolved}, nil
}

// Root returns the canonical session directory.
func (g *Guard) Root() string { return g.root }

// Resolve maps a relative path to an absolute path under the root.
func (g *Guard) Resolve(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if filepath.IsAbs(rel) {
		return "", ErrPathEscape
	}

	cleaned := filepath.Clean(rel)
	if cleaned == "." || cleaned == "" {
		return g.root, nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrPathEscape
	}

	candidate := filepath.Join(g.root, cleaned)

	// Canonicalize against symlinks: resolve the nearest existing ancestor
	// and verify it is still under the root. The target itself may not exist
	// yet (writes create it).
	resolved, err := resolveExisting(candidate)
	if err != nil {
		return "", err
	}
	if resolved != g.root && !strings.HasPrefix(resolved, g.root+string(filepath.Separator)) {
		return "", ErrPathEscape
	}
	return candidate, nil
}

// resolveExisting walks up from path to the nearest existing ancestor,
// canonicalizes it, and re-joins the non-existing suffix.
func resolveExisting(path string) (string, error) {
	var suffix []string
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(suffix) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, suffix[i])
			}
			return resolved, nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolve path: %w", err)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", fmt.Errorf("resolve path: no existing ancestor for %s", path)
		}
		suffix = append(suffix, filepath.Base(current))
		current = parent
	}
}

// List returns the entries of a directory inside the sandbox, directories
// first, each group sorted by ReadDir's lexical order.
func (g *Guard) List(rel string) ([]FileEntry, error) {
	target, err := g.Resolve(rel)
	if err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(target)
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}

	dirs := make([]FileEntry, 0, len(dirEntries))
	files := make([]FileEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		entry := FileEntry{Name: de.Name(), IsDir: de.IsDir()}
		if info, err := de.Info(); err == nil {
			entry.Mode = info.Mode().String()
			if !de.IsDir() {
				entry.Size = info.Size()
			}
		}
		if de.IsDir() {
			dirs = append(dirs, entry)
		} else {
			files = append(files, entry)
		}
	}
	return append(dirs, files...), nil
}

// Read returns the whole contents of a file inside the sandbox.
func (g *Guard) Read(rel string) ([]byte, error) {
	target, err := g.Resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Write replaces the whole contents of a file inside the sandbox, creating
// intermediate directories as needed. The directories are themselves created
// through the guard, never outside it.
func (g *Guard) Write(rel string, data []byte) error {
	target, err := g.Resolve(rel)
	if err != nil {
		return err
	}
	if target == g.root {
		return fmt.Errorf("write file: path names the session root")
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(target, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Mkdir creates a directory (and parents) inside the sandbox.
func (g *Guard) Mkdir(rel string) error {
	target, err := g.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	return nil
}
