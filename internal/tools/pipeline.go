package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lucyhq/lucy/internal/hitl"
	"github.com/lucyhq/lucy/internal/infra"
	"github.com/lucyhq/lucy/internal/tracing"
)

// ToolResultMaxChars caps the string form of a tool result fed back to the
// LLM; longer results get a visible truncation marker.
const ToolResultMaxChars = 20000

// DedupeWindow is how long an identical mutating signature blocks re-execution.
const DedupeWindow = 5 * time.Second

// Observation is what the agent loop appends to the conversation after one
// tool call.
type Observation struct {
	Tool          string
	Content       string
	IsError       bool
	ErrorType     string
	NeedsApproval bool
	ActionID      string
	Signature     string
}

// Screen holds per-workspace overrides for destructive-verb classification.
type Screen struct {
	AllowVerbs []string // verbs treated as safe despite the default deny list
	DenyVerbs  []string // extra verbs requiring approval
}

func (s Screen) destructive(name string) bool {
	upper := strings.ToUpper(name)
	for _, v := range s.AllowVerbs {
		if containsToken(upper, strings.ToUpper(v)) {
			return false
		}
	}
	for _, v := range s.DenyVerbs {
		if containsToken(upper, strings.ToUpper(v)) {
			return true
		}
	}
	return IsDestructive(name)
}

// Call is one screened tool invocation.
type Call struct {
	Name        string
	Args        map[string]any
	WorkspaceID string
	// Approved bypasses the destructive screen after a human confirmed the
	// action.
	Approved bool
	Screen   Screen
}

// Executor runs tool calls through the guard pipeline: dedupe, destructive
// screen, semaphore, circuit breaker, class timeout, truncation.
type Executor struct {
	registry *Registry
	dedupe   *infra.DedupeGuard
	sem      *infra.Semaphore
	breakers *infra.BreakerRegistry
	approval  *hitl.Registry
	limits    *infra.RateLimiters
	resultMax int
}

func NewExecutor(registry *Registry, sem *infra.Semaphore, breakers *infra.BreakerRegistry, approval *hitl.Registry) *Executor {
	return &Executor{
		registry:  registry,
		dedupe:    infra.NewDedupeGuard(DedupeWindow),
		sem:       sem,
		breakers:  breakers,
		approval:  approval,
		resultMax: ToolResultMaxChars,
	}
}

// WithRateLimits enables per-service token-bucket pacing ahead of execution.
func (e *Executor) WithRateLimits(limits *infra.RateLimiters) *Executor {
	e.limits = limits
	return e
}

// WithDedupeWindow overrides the identical-call suppression window.
func (e *Executor) WithDedupeWindow(d time.Duration) *Executor {
	if d > 0 {
		e.dedupe = infra.NewDedupeGuard(d)
	}
	return e
}

// WithResultMaxChars overrides the truncation budget for tool results.
func (e *Executor) WithResultMaxChars(n int) *Executor {
	if n > 0 {
		e.resultMax = n
	}
	return e
}

// Execute runs one call through the pipeline and always returns an
// observation; errors surface as structured error observations, never as
// panics or bare failures.
func (e *Executor) Execute(ctx context.Context, call Call) Observation {
	sig := Signature(call.Name, call.Args)
	obs := Observation{Tool: call.Name, Signature: sig}

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return e.errorObs(obs, "invalid_params", fmt.Sprintf("unknown tool %q", call.Name), "")
	}

	if !IsIdempotent(call.Name) && e.dedupe.CheckAndMark(sig) {
		return e.errorObs(obs, "duplicate_blocked",
			"identical call executed moments ago; reuse its result", "")
	}

	if !call.Approved && call.Screen.destructive(call.Name) {
		actionID := e.approval.Create(hitl.Pending{
			ToolName:    call.Name,
			Parameters:  call.Args,
			Description: describeCall(call.Name, call.Args),
			WorkspaceID: call.WorkspaceID,
			ChannelID:   ChannelFrom(ctx),
			ThreadTS:    ThreadFrom(ctx),
		})
		obs.NeedsApproval = true
		obs.ActionID = actionID
		obs.Content = mustJSON(map[string]any{
			"tool":      call.Name,
			"status":    "needs_approval",
			"action_id": actionID,
			"note":      "destructive action held for human approval; do not retry, tell the user what you want to do",
		})
		tracing.ToolCalls.WithLabelValues(call.Name, "needs_approval").Inc()
		return obs
	}

	service := infra.ServiceForTool(call.Name)
	breaker := e.breakers.Get(service)
	if !breaker.Allow() {
		return e.errorObs(obs, "service_unavailable",
			fmt.Sprintf("%s is temporarily unavailable", service),
			"tell the user the service is having trouble and suggest trying later")
	}

	if err := e.sem.Acquire(ctx); err != nil {
		return e.errorObs(obs, "retryable", "tool execution cancelled: "+err.Error(), "")
	}
	defer e.sem.Release()

	if e.limits != nil {
		if err := e.limits.Wait(ctx, service); err != nil {
			return e.errorObs(obs, "retryable", "rate limit wait cancelled: "+err.Error(), "")
		}
	}

	class := infra.ClassifyTool(call.Name)
	runCtx, cancel := context.WithTimeout(ctx, class.Budget())
	defer cancel()

	start := time.Now()
	end := tracing.StartSpan(ctx, "tool:"+call.Name, map[string]any{"class": string(class)})
	result := tool.Execute(runCtx, call.Args)
	end()
	elapsed := time.Since(start)
	tracing.ToolDuration.WithLabelValues(string(class)).Observe(elapsed.Seconds())

	if runCtx.Err() == context.DeadlineExceeded {
		breaker.RecordFailure()
		return e.errorObs(obs, "tool_timeout",
			fmt.Sprintf("%s exceeded its %s budget", call.Name, class.Budget()), "")
	}
	if result.IsError {
		e.classifyFailure(breaker, result)
		kind := errorKind(result)
		return e.errorObs(obs, kind, result.ForLLM, noteFor(kind))
	}

	breaker.RecordSuccess()
	tracing.ToolCalls.WithLabelValues(call.Name, "ok").Inc()
	if t := tracing.FromContext(ctx); t != nil {
		t.RecordToolCall(call.Name)
	}
	obs.Content = truncateTo(result.ForLLM, e.resultMax)
	return obs
}

func (e *Executor) errorObs(obs Observation, errorType, message, note string) Observation {
	obs.IsError = true
	obs.ErrorType = errorType
	payload := map[string]any{
		"tool":       obs.Tool,
		"status":     "error",
		"error_type": errorType,
		"error":      message,
	}
	if note != "" {
		payload["note"] = note
	}
	obs.Content = mustJSON(payload)
	tracing.ToolCalls.WithLabelValues(obs.Tool, "error").Inc()
	slog.Warn("tool call failed", "tool", obs.Tool, "error_type", errorType, "error", message)
	return obs
}

// classifyFailure counts only infrastructure-style failures against the
// breaker; bad parameters say nothing about service health.
func (e *Executor) classifyFailure(breaker *infra.Breaker, result *Result) {
	switch errorKind(result) {
	case "retryable":
		breaker.RecordFailure()
	default:
		breaker.RecordSuccess()
	}
}

// errorKind maps a failed result onto the shared error taxonomy.
func errorKind(result *Result) string {
	msg := strings.ToLower(result.ForLLM)
	if result.Err != nil {
		msg += " " + strings.ToLower(result.Err.Error())
	}
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return "retryable"
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") || strings.Contains(msg, "504") ||
		strings.Contains(msg, "connection") || strings.Contains(msg, "timeout"):
		return "retryable"
	case strings.Contains(msg, "401") || strings.Contains(msg, "403") ||
		strings.Contains(msg, "permission") || strings.Contains(msg, "unauthorized"):
		return "auth"
	case strings.Contains(msg, "400") || strings.Contains(msg, "validation") ||
		strings.Contains(msg, "invalid"):
		return "invalid_params"
	default:
		return "fatal"
	}
}

func noteFor(kind string) string {
	switch kind {
	case "auth":
		return "the connection needs re-authorization; ask the user to reconnect the service"
	case "invalid_params":
		return "adjust the parameters and try once more"
	default:
		return ""
	}
}

// Truncate caps a result string and appends a visible marker when cut.
func Truncate(s string) string {
	return truncateTo(s, ToolResultMaxChars)
}

func truncateTo(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n[TRUNCATED: %d of %d chars shown]", max, len(s))
}

func describeCall(name string, args map[string]any) string {
	parts := make([]string, 0, len(args))
	for k, v := range args {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	if len(parts) == 0 {
		return name
	}
	return name + " with " + strings.Join(parts, ", ")
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf(`{"status":"error","error":%q}`, err.Error())
	}
	return string(b)
}
