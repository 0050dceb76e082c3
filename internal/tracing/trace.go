// Package tracing records one Trace per request: spans, model/intent
// metadata and token usage. The trace travels in the request context and is
// emitted exactly once when the run finishes.
package tracing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Usage is the token accounting for one request.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates another usage sample.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Span is one timed section of a trace.
type Span struct {
	Name     string         `json:"name"`
	StartMs  int64          `json:"start_ms"`
	EndMs    int64          `json:"end_ms"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Trace is the per-request observability record.
type Trace struct {
	TraceID    string `json:"trace_id"`
	StartEpoch int64  `json:"start_epoch"`

	mu            sync.Mutex
	Spans         []Span   `json:"spans"`
	ModelUsed     string   `json:"model_used,omitempty"`
	Intent        string   `json:"intent,omitempty"`
	ToolCallsMade []string `json:"tool_calls_made,omitempty"`
	UserMessage   string   `json:"user_message,omitempty"`
	ResponseText  string   `json:"response_text,omitempty"`
	Usage         Usage    `json:"usage"`

	start time.Time
}

// New starts a trace rooted now.
func New() *Trace {
	now := time.Now().UTC()
	return &Trace{
		TraceID:    uuid.NewString(),
		StartEpoch: now.Unix(),
		start:      now,
	}
}

// SetModel records the model actually used (last writer wins).
func (t *Trace) SetModel(model string) {
	t.mu.Lock()
	t.ModelUsed = model
	t.mu.Unlock()
}

// SetIntent records the classified intent tier.
func (t *Trace) SetIntent(intent string) {
	t.mu.Lock()
	t.Intent = intent
	t.mu.Unlock()
}

// RecordToolCall appends a tool name to the call log.
func (t *Trace) RecordToolCall(name string) {
	t.mu.Lock()
	t.ToolCallsMade = append(t.ToolCallsMade, name)
	t.mu.Unlock()
}

// AddUsage accumulates token usage.
func (t *Trace) AddUsage(u Usage) {
	t.mu.Lock()
	t.Usage.Add(u)
	t.mu.Unlock()
}

// SetResponse records the final user-facing text.
func (t *Trace) SetResponse(text string) {
	t.mu.Lock()
	t.ResponseText = text
	t.mu.Unlock()
}

// TotalMs is the elapsed time since the trace origin.
func (t *Trace) TotalMs() int64 {
	return time.Since(t.start).Milliseconds()
}

// StartSpan opens a span; call the returned func to close it. Safe for
// concurrent spans (parallel tool batches).
func (t *Trace) StartSpan(name string, metadata map[string]any) func() {
	startMs := time.Since(t.start).Milliseconds()
	return func() {
		endMs := time.Since(t.start).Milliseconds()
		t.mu.Lock()
		t.Spans = append(t.Spans, Span{
			Name:     name,
			StartMs:  startMs,
			EndMs:    endMs,
			Metadata: metadata,
		})
		t.mu.Unlock()
	}
}

type ctxKey struct{}

// WithTrace attaches a trace to the context.
func WithTrace(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, ctxKey{}, t)
}

// FromContext returns the ambient trace, or nil.
func FromContext(ctx context.Context) *Trace {
	t, _ := ctx.Value(ctxKey{}).(*Trace)
	return t
}

// StartSpan opens a span on the ambient trace; a no-op closer is returned
// when the context carries no trace.
func StartSpan(ctx context.Context, name string, metadata map[string]any) func() {
	if t := FromContext(ctx); t != nil {
		return t.StartSpan(name, metadata)
	}
	return func() {}
}
