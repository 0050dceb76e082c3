package tracing

import (
	"context"
	"encoding/json"
	"log/slog"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// ThreadLogStore is the slice of the workspace store the collector needs.
type ThreadLogStore interface {
	Append(rel, text string) error
}

// Collector finishes traces: one structured log event per request, an
// optional per-thread JSONL append, and an optional OTel mirror.
type Collector struct {
	tracer      oteltrace.Tracer
	provider    *sdktrace.TracerProvider
	threadJSONL bool
}

// NewCollector builds a collector. otlpEndpoint may be empty (no export).
func NewCollector(ctx context.Context, otlpEndpoint, serviceName string, threadJSONL bool) (*Collector, error) {
	c := &Collector{threadJSONL: threadJSONL}
	if otlpEndpoint == "" {
		return c, nil
	}
	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(otlpEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, err
	}
	c.provider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	c.tracer = c.provider.Tracer(serviceName)
	return c, nil
}

// Shutdown flushes any pending exports.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c.provider == nil {
		return nil
	}
	return c.provider.Shutdown(ctx)
}

// Finish emits the trace once. store and threadRef are optional; when both
// are set and JSONL is enabled, the trace is appended to
// logs/threads/{threadRef}.jsonl.
func (c *Collector) Finish(ctx context.Context, t *Trace, store ThreadLogStore, threadRef string) {
	if t == nil {
		return
	}

	t.mu.Lock()
	spanCount := len(t.Spans)
	toolCalls := len(t.ToolCallsMade)
	model, intent := t.ModelUsed, t.Intent
	usage := t.Usage
	t.mu.Unlock()

	slog.Info("request trace",
		"trace_id", t.TraceID,
		"model", model,
		"intent", intent,
		"tool_calls", toolCalls,
		"spans", spanCount,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"total_ms", t.TotalMs(),
	)

	if c.tracer != nil {
		c.mirrorToOtel(ctx, t)
	}

	if c.threadJSONL && store != nil && threadRef != "" {
		line, err := json.Marshal(t.snapshot())
		if err == nil {
			rel := path.Join("logs", "threads", escapeThreadRef(threadRef)+".jsonl")
			if err := store.Append(rel, string(line)+"\n"); err != nil {
				slog.Warn("trace: thread log append failed", "error", err)
			}
		}
	}
}

// snapshot copies the trace fields into a plain struct for serialization.
func (t *Trace) snapshot() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]any{
		"trace_id":        t.TraceID,
		"start_epoch":     t.StartEpoch,
		"spans":           append([]Span(nil), t.Spans...),
		"model_used":      t.ModelUsed,
		"intent":          t.Intent,
		"tool_calls_made": append([]string(nil), t.ToolCallsMade...),
		"user_message":    t.UserMessage,
		"response_text":   t.ResponseText,
		"usage":           t.Usage,
		"total_ms":        time.Since(t.start).Milliseconds(),
	}
}

// mirrorToOtel replays the finished spans onto the OTel tracer with their
// recorded timestamps.
func (c *Collector) mirrorToOtel(ctx context.Context, t *Trace) {
	origin := time.Unix(t.StartEpoch, 0)
	rootCtx, root := c.tracer.Start(ctx, "lucy.request",
		oteltrace.WithTimestamp(t.start),
		oteltrace.WithAttributes(
			attribute.String("lucy.trace_id", t.TraceID),
			attribute.String("lucy.model", t.ModelUsed),
			attribute.String("lucy.intent", t.Intent),
			attribute.Int("lucy.tool_calls", len(t.ToolCallsMade)),
		))
	t.mu.Lock()
	spans := append([]Span(nil), t.Spans...)
	t.mu.Unlock()
	for _, s := range spans {
		_, child := c.tracer.Start(rootCtx, s.Name,
			oteltrace.WithTimestamp(origin.Add(time.Duration(s.StartMs)*time.Millisecond)))
		child.End(oteltrace.WithTimestamp(origin.Add(time.Duration(s.EndMs) * time.Millisecond)))
	}
	root.End(oteltrace.WithTimestamp(t.start.Add(time.Duration(t.TotalMs()) * time.Millisecond)))
}

// escapeThreadRef makes a chat thread timestamp filesystem-safe.
func escapeThreadRef(ref string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ':', '/':
			return '_'
		}
		return r
	}, ref)
}
