// Package infra holds the process-wide safety primitives for tool execution:
// circuit breakers, per-service rate limiting, the tool-execution semaphore,
// duplicate-call suppression, and per-class timeout budgets.
package infra

import (
	"errors"
	"sync"
	"time"
)

// Circuit breaker states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// ErrCircuitOpen is returned when a breaker refuses a request.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening (default 5)
	Cooldown         time.Duration // open → half-open delay (default 60s)
	OnStateChange    func(service, from, to string)
}

// Breaker is a per-external-service health gate. In half-open, exactly one
// probe request is admitted; its outcome decides the next state.
type Breaker struct {
	service string
	cfg     BreakerConfig

	mu          sync.Mutex
	state       string
	failures    int
	openedAt    time.Time
	probing     bool
	lastFailure time.Time
}

func NewBreaker(service string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &Breaker{service: service, cfg: cfg, state: CircuitClosed}
}

// Allow reports whether a request may proceed. Callers that receive true must
// follow up with RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(b.openedAt) >= b.cfg.Cooldown {
			b.transition(CircuitHalfOpen)
			b.probing = true
			return true
		}
		return false
	case CircuitHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return true
}

// RecordSuccess closes the breaker from half-open, or clears the failure run.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case CircuitHalfOpen:
		b.probing = false
		b.transition(CircuitClosed)
	case CircuitClosed:
		b.failures = 0
	}
}

// RecordFailure counts a failure; at the threshold the breaker opens. A
// failed half-open probe re-opens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = time.Now()
	switch b.state {
	case CircuitClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		b.probing = false
		b.transition(CircuitOpen)
	}
}

// State returns the current state, applying the cooldown transition lazily.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && time.Since(b.openedAt) >= b.cfg.Cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

func (b *Breaker) transition(to string) {
	from := b.state
	b.state = to
	b.failures = 0
	if to == CircuitOpen {
		b.openedAt = time.Now()
	}
	if b.cfg.OnStateChange != nil && from != to {
		go b.cfg.OnStateChange(b.service, from, to)
	}
}

// BreakerRegistry hands out one breaker per external service name.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	defaults BreakerConfig
}

func NewBreakerRegistry(defaults BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{breakers: make(map[string]*Breaker), defaults: defaults}
}

// Get returns or creates the breaker for service.
func (r *BreakerRegistry) Get(service string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[service]; ok {
		return b
	}
	b = NewBreaker(service, r.defaults)
	r.breakers[service] = b
	return b
}

// OpenServices returns the names of all currently-open breakers.
func (r *BreakerRegistry) OpenServices() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var open []string
	for name, b := range r.breakers {
		if b.State() == CircuitOpen {
			open = append(open, name)
		}
	}
	return open
}
