package agent

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/lucyhq/lucy/internal/config"
	"github.com/lucyhq/lucy/internal/hitl"
	"github.com/lucyhq/lucy/internal/infra"
	"github.com/lucyhq/lucy/internal/providers"
	"github.com/lucyhq/lucy/internal/router"
	"github.com/lucyhq/lucy/internal/tools"
)

// scriptedProvider returns canned responses in order.
type scriptedProvider struct {
	responses []*providers.ChatResponse
	calls     int
	requests  []providers.ChatRequest
}

func (s *scriptedProvider) Name() string { return "scripted" }

func (s *scriptedProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	s.requests = append(s.requests, req)
	if s.calls >= len(s.responses) {
		return &providers.ChatResponse{Content: "done"}, nil
	}
	r := s.responses[s.calls]
	s.calls++
	return r, nil
}

func newTestLoop(t *testing.T, p providers.Provider, registered ...tools.Tool) *Loop {
	t.Helper()
	cfg := config.Default()
	cfg.Router.Tiers = map[string]config.TierConfig{
		"default": {Primary: "model-a"},
	}
	r := router.New(p, cfg, "soul")

	reg := tools.NewRegistry()
	for _, tool := range registered {
		reg.Register(tool)
	}
	exec := tools.NewExecutor(reg,
		infra.NewSemaphore(8),
		infra.NewBreakerRegistry(infra.BreakerConfig{FailureThreshold: 5, Cooldown: time.Minute}),
		hitl.NewRegistry())
	return NewLoop(r, reg, exec, nil)
}

func toolCallResponse(id, name string, args map[string]any) *providers.ChatResponse {
	return &providers.ChatResponse{
		ToolCalls: []providers.ToolCall{{ID: id, Name: name, Arguments: args}},
	}
}

type staticTool struct {
	name   string
	result *tools.Result
	calls  int
}

func (s *staticTool) Name() string               { return s.name }
func (s *staticTool) Description() string        { return "static" }
func (s *staticTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (s *staticTool) Execute(context.Context, map[string]any) *tools.Result {
	s.calls++
	return s.result
}

func TestRunDirectReply(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{{Content: "hi there"}}}
	loop := newTestLoop(t, p)

	resp, err := loop.Run(context.Background(), Request{
		WorkspaceID:  "T100",
		SystemPrompt: "You are Lucy.",
		UserMessage:  "hello",
		Tier:         "default",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Text != "hi there" || resp.Iterations != 1 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestRunToolThenReply(t *testing.T) {
	tool := &staticTool{name: "workspace_list", result: tools.NewResult("skills\ncrons")}
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolCallResponse("call_1", "workspace_list", map[string]any{}),
		{Content: "you have skills and crons"},
	}}
	loop := newTestLoop(t, p, tool)

	resp, err := loop.Run(context.Background(), Request{
		WorkspaceID: "T100", SystemPrompt: "sys", UserMessage: "what's set up?", Tier: "default",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tool.calls != 1 {
		t.Errorf("tool calls = %d", tool.calls)
	}
	if resp.Text != "you have skills and crons" || resp.Iterations != 2 {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.ToolsCalled) != 1 || resp.ToolsCalled[0] != "workspace_list" {
		t.Errorf("tools called = %v", resp.ToolsCalled)
	}

	// The second request must carry the tool observation.
	second := p.requests[1]
	var sawTool bool
	for _, m := range second.Messages {
		if m.Role == "tool" && m.ToolCallID == "call_1" {
			sawTool = true
		}
	}
	if !sawTool {
		t.Error("tool observation missing from followup request")
	}
}

func TestRunMaxIterations(t *testing.T) {
	tool := &staticTool{name: "workspace_list", result: tools.NewResult("x")}
	var responses []*providers.ChatResponse
	for i := 0; i < MaxIterations+2; i++ {
		responses = append(responses, toolCallResponse(
			fmt.Sprintf("call_%d", i), "workspace_list", map[string]any{"i": float64(i)}))
	}
	loop := newTestLoop(t, &scriptedProvider{responses: responses}, tool)

	resp, err := loop.Run(context.Background(), Request{
		WorkspaceID: "T100", SystemPrompt: "sys", UserMessage: "go", Tier: "default",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Iterations != MaxIterations {
		t.Errorf("iterations = %d, want %d", resp.Iterations, MaxIterations)
	}
	if resp.Text == "" {
		t.Error("no force-stop message")
	}
}

func TestRunLoopGuard(t *testing.T) {
	tool := &staticTool{name: "workspace_list", result: tools.NewResult("same")}
	same := map[string]any{"path": "skills"}
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolCallResponse("c1", "workspace_list", same),
		toolCallResponse("c2", "workspace_list", same),
		toolCallResponse("c3", "workspace_list", same),
		toolCallResponse("c4", "workspace_list", same),
	}}
	loop := newTestLoop(t, p, tool)

	resp, err := loop.Run(context.Background(), Request{
		WorkspaceID: "T100", SystemPrompt: "sys", UserMessage: "go", Tier: "default",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Text != loopingReply {
		t.Errorf("text = %q, want looping reply", resp.Text)
	}
	if resp.Iterations >= MaxIterations {
		t.Errorf("guard did not fire early: %d iterations", resp.Iterations)
	}
	// The third identical batch still runs; the guard stops the round trip
	// after it, so all three executions are on record.
	if tool.calls != 3 {
		t.Errorf("tool executions = %d, want 3", tool.calls)
	}
	if len(resp.ToolsCalled) != 3 {
		t.Errorf("ToolsCalled = %v, want 3 entries", resp.ToolsCalled)
	}
}

func TestRunParseErrorBecomesObservation(t *testing.T) {
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{
			ID: "c1", Name: "workspace_list", ParseError: "invalid_json_arguments",
		}}},
		{Content: "recovered"},
	}}
	tool := &staticTool{name: "workspace_list", result: tools.NewResult("x")}
	loop := newTestLoop(t, p, tool)

	resp, err := loop.Run(context.Background(), Request{
		WorkspaceID: "T100", SystemPrompt: "sys", UserMessage: "go", Tier: "default",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tool.calls != 0 {
		t.Error("tool executed despite argument parse error")
	}
	if resp.Text != "recovered" {
		t.Errorf("text = %q", resp.Text)
	}
}

func TestRunPendingApproval(t *testing.T) {
	tool := &staticTool{name: "GMAIL_SEND_EMAIL", result: tools.NewResult("sent")}
	p := &scriptedProvider{responses: []*providers.ChatResponse{
		toolCallResponse("c1", "GMAIL_SEND_EMAIL", map[string]any{"to": "a@b.com"}),
		{Content: "I need your approval to send that email."},
	}}
	loop := newTestLoop(t, p, tool)

	resp, err := loop.Run(context.Background(), Request{
		WorkspaceID: "T100", SystemPrompt: "sys", UserMessage: "email bob", Tier: "default",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if tool.calls != 0 {
		t.Error("destructive tool executed without approval")
	}
	if resp.PendingAction == "" {
		t.Error("pending action id not surfaced")
	}
}

func TestTrim(t *testing.T) {
	msgs := []providers.Message{{Role: "system", Content: "sys"}}
	for i := 0; i < 100; i++ {
		msgs = append(msgs, providers.Message{Role: "user", Content: fmt.Sprint(i)})
	}
	got := Trim(msgs)
	if len(got) != MaxNonSystemMessages+1 {
		t.Fatalf("len = %d, want %d", len(got), MaxNonSystemMessages+1)
	}
	if got[0].Role != "system" {
		t.Error("system message dropped")
	}
	if got[len(got)-1].Content != "99" {
		t.Errorf("newest message lost: %q", got[len(got)-1].Content)
	}
}

func TestTrimDropsOrphanToolObservation(t *testing.T) {
	msgs := []providers.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "old"},
		// Lands exactly at the head of the trim window.
		{Role: "tool", Content: "obs", ToolCallID: "x"},
	}
	for i := 0; i < MaxNonSystemMessages-1; i++ {
		msgs = append(msgs, providers.Message{Role: "user", Content: fmt.Sprint(i)})
	}
	got := Trim(msgs)
	if got[1].Role == "tool" {
		t.Error("trimmed window starts with an orphaned tool message")
	}
	if len(got) != MaxNonSystemMessages {
		t.Errorf("len = %d, want %d", len(got), MaxNonSystemMessages)
	}
}
