// Package filestore provides sandboxed artifact storage for tool handlers.
// The coordination engine never inspects file contents; it only forwards
// tool-reported paths.
package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/taskmesh/taskmesh/internal/retry"
)

// Store saves and loads artifacts under a sandbox root. All paths are
// resolved relative to the root; escapes are rejected, not clamped.
type Store struct {
	root string
}

// New creates a store rooted at the given directory, creating it if needed.
func New(root string) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	return &Store{root: abs}, nil
}

// Root returns the absolute sandbox root.
func (s *Store) Root() string { return s.root }

// Resolve maps a relative path to an absolute path inside the sandbox.
// Absolute inputs and traversal escapes are errors, marked permanent so
// retry loops give up on the first attempt.
func (s *Store) Resolve(rel string) (string, error) {
	if rel == "" {
		return "", retry.MarkPermanent(fmt.Errorf("empty path"))
	}
	if filepath.IsAbs(rel) {
		return "", retry.MarkPermanent(fmt.Errorf("absolute path %q not allowed in sandbox", rel))
	}
	abs := filepath.Join(s.root, filepath.Clean(rel))
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", retry.MarkPermanent(fmt.Errorf("path %q escapes sandbox", rel))
	}
	return abs, nil
}

// Save writes bytes to a sandbox-relative path, creating parent directories.
func (s *Store) Save(rel string, data []byte) error {
	abs, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// Load reads bytes from a sandbox-relative path.
func (s *Store) Load(rel string) ([]byte, error) {
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}
	return data, nil
}

// List returns the sandbox-relative paths under a directory.
func (s *Store) List(rel string) ([]string, error) {
	if rel == "" {
		rel = "."
	}
	abs, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		out = append(out, name)
	}
	return out, nil
}
