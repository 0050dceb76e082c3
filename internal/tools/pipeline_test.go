package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/lucyhq/lucy/internal/hitl"
	"github.com/lucyhq/lucy/internal/infra"
)

type fakeTool struct {
	name    string
	execute func(ctx context.Context, args map[string]any) *Result
}

func (f *fakeTool) Name() string               { return f.name }
func (f *fakeTool) Description() string        { return "fake" }
func (f *fakeTool) Parameters() map[string]any { return objParams(nil, map[string]any{}) }
func (f *fakeTool) Execute(ctx context.Context, args map[string]any) *Result {
	return f.execute(ctx, args)
}

func newTestExecutor(t *testing.T, tools ...Tool) (*Executor, *hitl.Registry) {
	t.Helper()
	reg := NewRegistry()
	for _, tool := range tools {
		reg.Register(tool)
	}
	approval := hitl.NewRegistry()
	breakers := infra.NewBreakerRegistry(infra.BreakerConfig{
		FailureThreshold: 3,
		Cooldown:         time.Minute,
	})
	return NewExecutor(reg, infra.NewSemaphore(8), breakers, approval), approval
}

func decodeObs(t *testing.T, obs Observation) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(obs.Content), &m); err != nil {
		t.Fatalf("observation not JSON: %q", obs.Content)
	}
	return m
}

func TestExecuteSuccess(t *testing.T) {
	e, _ := newTestExecutor(t, &fakeTool{
		name: "workspace_list",
		execute: func(context.Context, map[string]any) *Result {
			return NewResult("skills\ncrons")
		},
	})
	obs := e.Execute(context.Background(), Call{Name: "workspace_list", Args: map[string]any{}})
	if obs.IsError {
		t.Fatalf("unexpected error: %s", obs.Content)
	}
	if obs.Content != "skills\ncrons" {
		t.Errorf("content = %q", obs.Content)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	e, _ := newTestExecutor(t)
	obs := e.Execute(context.Background(), Call{Name: "nope", Args: map[string]any{}})
	if !obs.IsError || obs.ErrorType != "invalid_params" {
		t.Errorf("obs = %+v", obs)
	}
}

func TestExecuteTimeoutErrorType(t *testing.T) {
	e, _ := newTestExecutor(t, &fakeTool{
		name: "workspace_list",
		execute: func(ctx context.Context, _ map[string]any) *Result {
			<-ctx.Done()
			return NewResult("late")
		},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	obs := e.Execute(ctx, Call{Name: "workspace_list", Args: map[string]any{}})
	if !obs.IsError || obs.ErrorType != "tool_timeout" {
		t.Errorf("obs = %+v, want error_type tool_timeout", obs)
	}
	if m := decodeObs(t, obs); m["error_type"] != "tool_timeout" {
		t.Errorf("payload error_type = %v", m["error_type"])
	}
}

func TestExecuteDuplicateBlocked(t *testing.T) {
	calls := 0
	e, _ := newTestExecutor(t, &fakeTool{
		name: "create_note",
		execute: func(context.Context, map[string]any) *Result {
			calls++
			return NewResult("ok")
		},
	})
	args := map[string]any{"text": "same"}
	first := e.Execute(context.Background(), Call{Name: "create_note", Args: args})
	if first.IsError {
		t.Fatalf("first call failed: %s", first.Content)
	}
	second := e.Execute(context.Background(), Call{Name: "create_note", Args: args})
	if !second.IsError || second.ErrorType != "duplicate_blocked" {
		t.Errorf("second call = %+v", second)
	}
	if calls != 1 {
		t.Errorf("tool ran %d times, want 1", calls)
	}

	different := e.Execute(context.Background(), Call{Name: "create_note", Args: map[string]any{"text": "other"}})
	if different.IsError {
		t.Errorf("different parameters blocked: %+v", different)
	}
}

func TestExecuteIdempotentNeverDeduplicated(t *testing.T) {
	calls := 0
	e, _ := newTestExecutor(t, &fakeTool{
		name: "GMAIL_LIST_THREADS",
		execute: func(context.Context, map[string]any) *Result {
			calls++
			return NewResult("threads")
		},
	})
	args := map[string]any{"query": "is:unread"}
	for i := 0; i < 3; i++ {
		if obs := e.Execute(context.Background(), Call{Name: "GMAIL_LIST_THREADS", Args: args}); obs.IsError {
			t.Fatalf("call %d failed: %s", i, obs.Content)
		}
	}
	if calls != 3 {
		t.Errorf("tool ran %d times, want 3", calls)
	}
}

func TestExecuteDestructiveHeldForApproval(t *testing.T) {
	ran := false
	e, approval := newTestExecutor(t, &fakeTool{
		name: "GMAIL_SEND_EMAIL",
		execute: func(context.Context, map[string]any) *Result {
			ran = true
			return NewResult("sent")
		},
	})
	obs := e.Execute(context.Background(), Call{
		Name:        "GMAIL_SEND_EMAIL",
		Args:        map[string]any{"to": "a@b.com"},
		WorkspaceID: "T100",
	})
	if ran {
		t.Fatal("destructive tool executed without approval")
	}
	if !obs.NeedsApproval || obs.ActionID == "" {
		t.Fatalf("obs = %+v", obs)
	}
	m := decodeObs(t, obs)
	if m["status"] != "needs_approval" {
		t.Errorf("status = %v", m["status"])
	}

	p, ok := approval.Resolve(obs.ActionID)
	if !ok || p.ToolName != "GMAIL_SEND_EMAIL" || p.WorkspaceID != "T100" {
		t.Errorf("pending record = %+v ok=%v", p, ok)
	}
}

func TestExecuteApprovedBypassesScreen(t *testing.T) {
	ran := false
	e, _ := newTestExecutor(t, &fakeTool{
		name: "GMAIL_SEND_EMAIL",
		execute: func(context.Context, map[string]any) *Result {
			ran = true
			return NewResult("sent")
		},
	})
	obs := e.Execute(context.Background(), Call{
		Name:     "GMAIL_SEND_EMAIL",
		Args:     map[string]any{"to": "a@b.com"},
		Approved: true,
	})
	if !ran || obs.IsError {
		t.Errorf("approved call did not run: %+v", obs)
	}
}

func TestExecuteOpenBreakerShortCircuits(t *testing.T) {
	e, _ := newTestExecutor(t, &fakeTool{
		name: "GMAIL_LIST_THREADS",
		execute: func(context.Context, map[string]any) *Result {
			return ErrorResult("503 service unavailable")
		},
	})
	// Trip the gmail breaker.
	for i := 0; i < 3; i++ {
		e.Execute(context.Background(), Call{
			Name: "GMAIL_LIST_THREADS",
			Args: map[string]any{"i": float64(i)},
		})
	}
	obs := e.Execute(context.Background(), Call{
		Name: "GMAIL_LIST_THREADS",
		Args: map[string]any{"i": 99.0},
	})
	if obs.ErrorType != "service_unavailable" {
		t.Errorf("error_type = %q, want service_unavailable", obs.ErrorType)
	}
}

func TestExecuteErrorClassification(t *testing.T) {
	tests := []struct {
		message  string
		wantKind string
	}{
		{"429 too many requests", "retryable"},
		{"connection refused", "retryable"},
		{"401 unauthorized", "auth"},
		{"permission denied for this mailbox", "auth"},
		{"400 validation failed: missing field to", "invalid_params"},
		{"something exploded", "fatal"},
	}
	for _, tt := range tests {
		t.Run(tt.wantKind+"/"+tt.message, func(t *testing.T) {
			msg := tt.message
			e, _ := newTestExecutor(t, &fakeTool{
				name: "workspace_list",
				execute: func(context.Context, map[string]any) *Result {
					return ErrorResult(msg)
				},
			})
			obs := e.Execute(context.Background(), Call{Name: "workspace_list", Args: map[string]any{}})
			if obs.ErrorType != tt.wantKind {
				t.Errorf("error_type = %q, want %q", obs.ErrorType, tt.wantKind)
			}
			m := decodeObs(t, obs)
			if m["status"] != "error" || m["tool"] != "workspace_list" {
				t.Errorf("observation shape: %v", m)
			}
		})
	}
}

func TestExecuteTruncatesLongResults(t *testing.T) {
	e, _ := newTestExecutor(t, &fakeTool{
		name: "workspace_read",
		execute: func(context.Context, map[string]any) *Result {
			return NewResult(strings.Repeat("x", ToolResultMaxChars+100))
		},
	})
	obs := e.Execute(context.Background(), Call{Name: "workspace_read", Args: map[string]any{}})
	if !strings.Contains(obs.Content, "[TRUNCATED:") {
		t.Error("long result not truncated")
	}
}

func TestExecuteResultMaxCharsOverride(t *testing.T) {
	e, _ := newTestExecutor(t, &fakeTool{
		name: "workspace_read",
		execute: func(context.Context, map[string]any) *Result {
			return NewResult(strings.Repeat("x", 600))
		},
	})
	e.WithResultMaxChars(500)
	obs := e.Execute(context.Background(), Call{Name: "workspace_read", Args: map[string]any{}})
	if !strings.Contains(obs.Content, "[TRUNCATED: 500 of 600 chars shown]") {
		t.Errorf("override budget not applied: %q", obs.Content[max(0, len(obs.Content)-60):])
	}
}
