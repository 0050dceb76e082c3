package capindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
)

// DBFile is the index location under a workspace root.
const DBFile = "data/capindex.db"

// Retriever applies the retrieval policy over one workspace's index and
// serializes population so a connect storm fetches schemas once.
type Retriever struct {
	ix *Index

	mu         sync.Mutex
	populating bool
}

func NewRetriever(ix *Index) *Retriever { return &Retriever{ix: ix} }

func (r *Retriever) Index() *Index { return r.ix }

// Populate fetches schemas via fetch and indexes them under appSlug. Only one
// population runs at a time; concurrent callers get (0, nil) and proceed
// without re-fetching.
func (r *Retriever) Populate(ctx context.Context, appSlug string, fetch func(ctx context.Context) ([]json.RawMessage, error)) (int, error) {
	r.mu.Lock()
	if r.populating {
		r.mu.Unlock()
		return 0, nil
	}
	r.populating = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.populating = false
		r.mu.Unlock()
	}()

	schemas, err := fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch tool schemas for %s: %w", appSlug, err)
	}
	added, err := r.ix.AddTools(ctx, schemas, appSlug)
	if err != nil {
		return 0, err
	}
	if added > 0 {
		slog.Info("capability index populated", "app", appSlug, "added", added)
	}
	return added, nil
}

// Retrieve returns nil when the index is too small to trust; the caller then
// falls back to broker-side discovery. A below-threshold TopScore is returned
// as-is so the caller can decide.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, connectedApps []string) (*Result, error) {
	size, err := r.ix.Size(ctx)
	if err != nil {
		return nil, err
	}
	if size < MinIndexedTools {
		return nil, nil
	}
	return r.ix.Retrieve(ctx, query, k, connectedApps)
}

// Registry hands out one Retriever per workspace, opening the index database
// under the workspace root on first use.
type Registry struct {
	mu         sync.Mutex
	retrievers map[string]*Retriever
}

func NewRegistry() *Registry {
	return &Registry{retrievers: make(map[string]*Retriever)}
}

// ForWorkspace returns the workspace's retriever, creating it if needed.
func (g *Registry) ForWorkspace(workspaceID, workspaceRoot string) (*Retriever, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if r, ok := g.retrievers[workspaceID]; ok {
		return r, nil
	}
	ix, err := Open(filepath.Join(workspaceRoot, filepath.FromSlash(DBFile)))
	if err != nil {
		return nil, err
	}
	r := NewRetriever(ix)
	g.retrievers[workspaceID] = r
	return r, nil
}

// Close closes every open index.
func (g *Registry) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, r := range g.retrievers {
		if err := r.ix.Close(); err != nil {
			slog.Warn("close capability index", "workspace", id, "error", err)
		}
	}
	g.retrievers = make(map[string]*Retriever)
}
