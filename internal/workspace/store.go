// Package workspace provides atomic, workspace-scoped filesystem storage.
//
// Every team maps to one workspace directory under the configured root. All
// paths handed to a Store are relative to that directory and are rejected if
// they escape it.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrPathTraversal is returned for any relative path that escapes the
// workspace root.
var ErrPathTraversal = errors.New("path escapes workspace root")

// ErrNotFound is returned when a read targets a file that does not exist.
var ErrNotFound = errors.New("file not found")

// wellKnownDirs are created by EnsureStructure.
var wellKnownDirs = []string{
	"company", "team", "skills", "crons", "scripts", "data", "logs",
}

// Store performs file I/O scoped to a single workspace directory.
type Store struct {
	id   string
	root string
}

// NewStore returns a store rooted at root/{id}. The directory is not created
// until EnsureStructure is called.
func NewStore(root, id string) *Store {
	return &Store{id: id, root: filepath.Join(root, sanitizeID(id))}
}

// ID returns the workspace identifier.
func (s *Store) ID() string { return s.id }

// Root returns the absolute workspace directory.
func (s *Store) Root() string { return s.root }

// resolve joins rel onto the workspace root and rejects traversal.
func (s *Store) resolve(rel string) (string, error) {
	if rel == "" {
		return s.root, nil
	}
	cleaned := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(rel)))
	if cleaned != s.root && !strings.HasPrefix(cleaned, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, rel)
	}
	return cleaned, nil
}

// Read returns the contents of rel.
func (s *Store) Read(rel string) (string, error) {
	path, err := s.resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

// Write atomically replaces rel with text (write-to-temp + rename).
func (s *Store) Write(rel, text string) error {
	path, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", rel, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", rel, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", rel, err)
	}
	return nil
}

// Append appends text to rel, creating it if missing.
func (s *Store) Append(rel, text string) error {
	path, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", rel, err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", rel, err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("append %s: %w", rel, err)
	}
	return nil
}

// Delete removes rel (file or directory tree).
func (s *Store) Delete(rel string) error {
	path, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if path == s.root {
		return fmt.Errorf("%w: refusing to delete workspace root", ErrPathTraversal)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete %s: %w", rel, err)
	}
	return nil
}

// Exists reports whether rel exists.
func (s *Store) Exists(rel string) bool {
	path, err := s.resolve(rel)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(path)
	return statErr == nil
}

// List returns the sorted entry names directly under rel.
func (s *Store) List(rel string) ([]string, error) {
	path, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// SearchMatch is one full-text hit from Search.
type SearchMatch struct {
	Path string `json:"path"` // workspace-relative
	Line int    `json:"line"`
	Text string `json:"text"`
}

// searchExtensions limits Search to text-bearing files.
var searchExtensions = map[string]bool{
	".md": true, ".json": true, ".txt": true, ".log": true, ".jsonl": true,
}

// Search walks rel and returns lines containing query (case-insensitive).
func (s *Store) Search(query, rel string) ([]SearchMatch, error) {
	base, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	var matches []SearchMatch
	walkErr := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || !searchExtensions[filepath.Ext(path)] {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		relPath, _ := filepath.Rel(s.root, path)
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(strings.ToLower(line), needle) {
				matches = append(matches, SearchMatch{
					Path: filepath.ToSlash(relPath),
					Line: i + 1,
					Text: strings.TrimSpace(line),
				})
			}
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("search %s: %w", rel, walkErr)
	}
	return matches, nil
}

// sanitizeID makes a workspace identifier safe as a directory name.
func sanitizeID(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
