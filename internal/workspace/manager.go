package workspace

import (
	"fmt"
	"os"
	"sync"
)

// Manager hands out one Store per workspace, creating the directory tree
// lazily on first use.
type Manager struct {
	root     string
	seedsDir string

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager returns a manager rooted at root. seedsDir (optional) holds
// pre-shipped templates copied into new workspaces.
func NewManager(root, seedsDir string) *Manager {
	return &Manager{root: root, seedsDir: seedsDir, stores: make(map[string]*Store)}
}

// Get returns the store for id, ensuring its structure exists. The first call
// for a workspace also copies seed templates.
func (m *Manager) Get(id string) (*Store, error) {
	if id == "" {
		return nil, fmt.Errorf("empty workspace id")
	}
	m.mu.Lock()
	store, ok := m.stores[id]
	if !ok {
		store = NewStore(m.root, id)
		m.stores[id] = store
	}
	m.mu.Unlock()

	isNew := !store.Exists("state.json")
	if err := store.EnsureStructure(); err != nil {
		return nil, err
	}
	if isNew && m.seedsDir != "" {
		if err := store.CopySeeds(m.seedsDir, ""); err != nil {
			return nil, fmt.Errorf("seed workspace %s: %w", id, err)
		}
	}
	return store, nil
}

// List returns the ids of all workspaces present on disk.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
