// Package hitl holds pending destructive-action approvals keyed by opaque id.
package hitl

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TTL is how long a pending action stays resolvable.
const TTL = 300 * time.Second

// Pending is one destructive tool call awaiting approval.
type Pending struct {
	ActionID    string
	ToolName    string
	Parameters  map[string]any
	Description string
	WorkspaceID string
	ChannelID   string
	ThreadTS    string
	CreatedAt   time.Time
}

// Registry is the in-memory pending-action map. Expired entries are
// inaccessible even before the sweep removes them.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*Pending
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		pending: make(map[string]*Pending),
		now:     time.Now,
	}
}

// Create registers a pending action and returns its id.
func (r *Registry) Create(p Pending) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	p.ActionID = uuid.NewString()
	p.CreatedAt = r.now()
	r.pending[p.ActionID] = &p
	return p.ActionID
}

// Get returns the pending action if it exists and has not expired.
func (r *Registry) Get(actionID string) (*Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	p, ok := r.pending[actionID]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Resolve pops the entry atomically. The second resolution of the same id
// returns nothing, so an action executes at most once.
func (r *Registry) Resolve(actionID string) (*Pending, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	p, ok := r.pending[actionID]
	if !ok {
		return nil, false
	}
	delete(r.pending, actionID)
	return p, true
}

// Len counts live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep()
	return len(r.pending)
}

// sweep removes expired entries. Callers hold the lock.
func (r *Registry) sweep() {
	cutoff := r.now().Add(-TTL)
	for id, p := range r.pending {
		if p.CreatedAt.Before(cutoff) {
			delete(r.pending, id)
		}
	}
}
