package infra

import (
	"sync"
	"time"
)

// DedupeGuard suppresses repeated mutating tool calls: a signature seen within
// the window is a duplicate. Idempotent calls are the caller's concern — they
// are never registered here.
type DedupeGuard struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time // test hook
}

func NewDedupeGuard(window time.Duration) *DedupeGuard {
	if window <= 0 {
		window = 5 * time.Second
	}
	return &DedupeGuard{
		seen:   make(map[string]time.Time),
		window: window,
		now:    time.Now,
	}
}

// CheckAndMark reports whether signature was already seen within the window.
// When it was not, the signature is registered atomically.
func (g *DedupeGuard) CheckAndMark(signature string) (duplicate bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if at, ok := g.seen[signature]; ok && now.Sub(at) < g.window {
		return true
	}
	g.seen[signature] = now

	// Opportunistic sweep to keep the map bounded.
	if len(g.seen) > 1024 {
		for sig, at := range g.seen {
			if now.Sub(at) >= g.window {
				delete(g.seen, sig)
			}
		}
	}
	return false
}

// MessageDeduper suppresses redelivered chat events by platform message key.
type MessageDeduper struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func NewMessageDeduper(ttl time.Duration) *MessageDeduper {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MessageDeduper{seen: make(map[string]time.Time), ttl: ttl}
}

// IsDuplicate is an atomic check-and-mark over the event key.
func (d *MessageDeduper) IsDuplicate(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	if at, ok := d.seen[key]; ok && now.Sub(at) < d.ttl {
		return true
	}
	d.seen[key] = now
	if len(d.seen) > 8192 {
		for k, at := range d.seen {
			if now.Sub(at) >= d.ttl {
				delete(d.seen, k)
			}
		}
	}
	return false
}
