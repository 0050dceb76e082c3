package infra

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiters hands out one token-bucket limiter per external service.
// Waiting happens outside any lock; only the map is serialized.
type RateLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewRateLimiters(rps, burst int) *RateLimiters {
	if rps <= 0 {
		rps = 10
	}
	if burst <= 0 {
		burst = rps
	}
	return &RateLimiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

// Wait blocks until service's limiter grants a token or ctx is done.
func (r *RateLimiters) Wait(ctx context.Context, service string) error {
	return r.get(service).Wait(ctx)
}

// Allow is a non-blocking probe.
func (r *RateLimiters) Allow(service string) bool {
	return r.get(service).Allow()
}

func (r *RateLimiters) get(service string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[service]
	if !ok {
		l = rate.NewLimiter(r.rps, r.burst)
		r.limiters[service] = l
	}
	return l
}
