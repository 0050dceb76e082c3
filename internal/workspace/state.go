package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const stateFile = "state.json"

// State is the persisted workspace lifecycle record.
type State struct {
	CreatedAt   time.Time      `json:"created_at"`
	OnboardedAt *time.Time     `json:"onboarded_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Settings    map[string]any `json:"settings,omitempty"`
}

// EnsureStructure creates the well-known directory tree and state.json if
// missing. Safe to call on every request.
func (s *Store) EnsureStructure() error {
	for _, dir := range wellKnownDirs {
		path, err := s.resolve(dir)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("ensure %s: %w", dir, err)
		}
	}
	if s.Exists(stateFile) {
		return nil
	}
	now := time.Now().UTC()
	return s.writeState(&State{CreatedAt: now, UpdatedAt: now})
}

// ReadState loads state.json. A missing file yields a zero-valued State.
func (s *Store) ReadState() (*State, error) {
	text, err := s.Read(stateFile)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &State{}, nil
		}
		return nil, err
	}
	var st State
	if err := json.Unmarshal([]byte(text), &st); err != nil {
		return nil, fmt.Errorf("parse state.json: %w", err)
	}
	return &st, nil
}

// UpdateState merges updates into state.json settings and stamps updated_at.
func (s *Store) UpdateState(updates map[string]any) error {
	st, err := s.ReadState()
	if err != nil {
		return err
	}
	if st.Settings == nil {
		st.Settings = make(map[string]any, len(updates))
	}
	for k, v := range updates {
		st.Settings[k] = v
	}
	st.UpdatedAt = time.Now().UTC()
	return s.writeState(st)
}

// MarkOnboarded stamps onboarded_at once.
func (s *Store) MarkOnboarded() error {
	st, err := s.ReadState()
	if err != nil {
		return err
	}
	if st.OnboardedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	st.OnboardedAt = &now
	st.UpdatedAt = now
	return s.writeState(st)
}

func (s *Store) writeState(st *State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state.json: %w", err)
	}
	return s.Write(stateFile, string(data))
}

// CopySeeds copies pre-shipped template files from src into subdir of the
// workspace. Existing files are never overwritten.
func (s *Store) CopySeeds(src, subdir string) error {
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat seeds: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("seeds path %s is not a directory", src)
	}

	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.ToSlash(filepath.Join(subdir, rel))
		if s.Exists(target) {
			return nil
		}
		in, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open seed %s: %w", rel, err)
		}
		defer in.Close()
		data, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("read seed %s: %w", rel, err)
		}
		return s.Write(target, string(data))
	})
}
