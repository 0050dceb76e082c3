// Package fastpath short-circuits trivial messages and out-of-band intents
// before they reach the agent loop.
package fastpath

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"

	"github.com/lucyhq/lucy/internal/providers"
	"github.com/lucyhq/lucy/internal/router"
)

// Pool names. The first three serve fast-path replies; the rest serve
// degradation messages when infrastructure fails mid-run.
const (
	PoolGreeting           = "greeting"
	PoolStatus             = "status_idle"
	PoolHelp               = "help"
	PoolRateLimited        = "rate_limited"
	PoolToolTimeout        = "tool_timeout"
	PoolServiceUnavailable = "service_unavailable"
	PoolContextOverflow    = "context_overflow"
	PoolGeneric            = "generic"
)

// defaults serve until warming finishes (or forever, if it never does).
var defaults = map[string][]string{
	PoolGreeting: {
		"Hey! What can I do for you?",
		"Hi! What's up?",
	},
	PoolStatus: {
		"Nothing on my plate right now. Want to give me something?",
	},
	PoolHelp: {
		"I can handle email, calendars, docs, research, recurring jobs, and more. Just describe what you need.",
	},
	PoolRateLimited: {
		"I'm being rate limited right now. Give me a minute and try again.",
	},
	PoolToolTimeout: {
		"That took longer than I allow; the service may be slow. Want me to try again?",
	},
	PoolServiceUnavailable: {
		"One of the services I need is having trouble. I'll be able to retry shortly.",
	},
	PoolContextOverflow: {
		"That conversation got too long for me to carry. Start a fresh thread and I'll pick it up.",
	},
	PoolGeneric: {
		"Something went wrong on my side. Try again, and if it keeps happening tell me and I'll dig in.",
	},
}

var warmPrompts = map[string]string{
	PoolGreeting: "Write 6 short, varied, casual replies to a coworker saying hi on Slack. One per line, no numbering, under 60 characters each.",
	PoolStatus:   "Write 4 short, casual Slack replies saying you have no tasks running right now and inviting work. One per line, no numbering.",
	PoolHelp:     "Write 4 short Slack replies summarizing that you can handle email, calendar, docs, research, and recurring jobs. One per line, no numbering.",
}

// Pools holds canned replies, refreshed once at startup by an LLM call.
type Pools struct {
	mu    sync.RWMutex
	pools map[string][]string
	rand  func(n int) int
}

func NewPools() *Pools {
	copied := make(map[string][]string, len(defaults))
	for k, v := range defaults {
		copied[k] = append([]string(nil), v...)
	}
	return &Pools{pools: copied, rand: rand.Intn}
}

// Pick returns one message from the named pool.
func (p *Pools) Pick(pool string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	msgs := p.pools[pool]
	if len(msgs) == 0 {
		msgs = defaults[PoolGeneric]
	}
	return msgs[p.rand(len(msgs))]
}

// Warm regenerates the conversational pools through the fast tier. Failures
// leave the literal defaults in place.
func (p *Pools) Warm(ctx context.Context, r *router.Router) {
	for pool, prompt := range warmPrompts {
		resp, err := r.Route(ctx, router.Request{
			Messages: []providers.Message{{Role: "user", Content: prompt}},
			Tier:     "fast",
		}, nil)
		if err != nil {
			slog.Warn("pool warming failed, keeping defaults", "pool", pool, "error", err)
			continue
		}
		lines := splitPoolLines(resp.Content)
		if len(lines) == 0 {
			continue
		}
		p.mu.Lock()
		p.pools[pool] = lines
		p.mu.Unlock()
	}
	slog.Info("fast-path pools warmed")
}

func splitPoolLines(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-•*0123456789. "))
		if line == "" || len(line) > 120 {
			continue
		}
		out = append(out, line)
	}
	return out
}
