// Package agent runs the tool-calling loop: alternate LLM calls and tool
// executions until a tool-free reply or a termination guard fires.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lucyhq/lucy/internal/providers"
	"github.com/lucyhq/lucy/internal/router"
	"github.com/lucyhq/lucy/internal/tools"
	"github.com/lucyhq/lucy/internal/tracing"
)

const (
	// MaxIterations bounds LLM round trips per run.
	MaxIterations = 6
	// MaxNonSystemMessages is the trim window: the system message plus this
	// many most-recent items survive.
	MaxNonSystemMessages = 40
	// WallClockCap force-stops a run regardless of progress.
	WallClockCap = 3 * time.Minute
	// loopSignatureRepeat is how many consecutive iterations may issue the
	// same signature before the loop guard fires.
	loopSignatureRepeat = 3
)

const loopingReply = "I appear to be looping on the same action without making progress, so I stopped. Tell me how you'd like to proceed."

// Request is one agent run.
type Request struct {
	WorkspaceID  string
	SystemPrompt string
	Messages     []providers.Message // thread context, oldest first
	UserMessage  string
	Tier         string
	Intent       string
	TaskID       string
	Screen       tools.Screen
	TZOffset     float64
	TZLabel      string
}

// Response is the run outcome.
type Response struct {
	Text          string
	Iterations    int
	PendingAction string // HITL action id when the run stopped for approval
	ToolsCalled   []string
}

// Loop orchestrates one run: prompt, route, execute tool batches, repeat.
type Loop struct {
	router   *router.Router
	registry *tools.Registry
	executor *tools.Executor
	costs    router.CostStore
}

func NewLoop(r *router.Router, registry *tools.Registry, executor *tools.Executor, costs router.CostStore) *Loop {
	return &Loop{router: r, registry: registry, executor: executor, costs: costs}
}

// Run executes the loop until a tool-free reply or a guard fires.
func (l *Loop) Run(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	messages := append([]providers.Message{{Role: "system", Content: req.SystemPrompt}}, req.Messages...)
	if req.UserMessage != "" {
		messages = append(messages, providers.Message{Role: "user", Content: req.UserMessage})
	}
	if t := tracing.FromContext(ctx); t != nil {
		t.SetIntent(req.Intent)
	}

	resp := &Response{}
	var sigHistory []string   // one joined signature set per iteration
	var lastBatchAllErrors bool

	for iteration := 1; iteration <= MaxIterations; iteration++ {
		resp.Iterations = iteration
		if time.Since(start) > WallClockCap {
			slog.Warn("agent run hit wall-clock cap", "workspace", req.WorkspaceID, "elapsed", time.Since(start))
			tracing.AgentRuns.WithLabelValues("wall_clock").Inc()
			resp.Text = loopingReply
			return resp, nil
		}

		messages = Trim(messages)
		// The router prepends the soul preamble ahead of our system prompt.
		chatResp, err := l.router.Route(ctx, router.Request{
			Messages:      messages,
			Tier:          req.Tier,
			WorkspaceID:   req.WorkspaceID,
			TaskID:        req.TaskID,
			Tools:         l.registry.Definitions(),
			TZOffsetHours: req.TZOffset,
			TZLabel:       req.TZLabel,
		}, l.costs)
		if err != nil {
			tracing.AgentRuns.WithLabelValues("model_unavailable").Inc()
			return nil, fmt.Errorf("agent run iteration %d: %w", iteration, err)
		}

		if len(chatResp.ToolCalls) == 0 {
			resp.Text = chatResp.Content
			tracing.AgentRuns.WithLabelValues("completed").Inc()
			if t := tracing.FromContext(ctx); t != nil {
				t.SetResponse(resp.Text)
			}
			return resp, nil
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   chatResp.Content,
			ToolCalls: chatResp.ToolCalls,
		})

		batchSig := batchSignature(chatResp.ToolCalls)
		sigHistory = append(sigHistory, batchSig)
		if lastBatchAllErrors && len(sigHistory) >= 2 && sigHistory[len(sigHistory)-2] == batchSig {
			slog.Warn("agent re-issued a fully failed batch", "workspace", req.WorkspaceID)
			tracing.AgentRuns.WithLabelValues("error_repeat").Inc()
			resp.Text = loopingReply
			return resp, nil
		}

		observations := l.executeBatch(ctx, req, chatResp.ToolCalls)
		allErrors := true
		for i, obs := range observations {
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    obs.Content,
				ToolCallID: chatResp.ToolCalls[i].ID,
			})
			resp.ToolsCalled = append(resp.ToolsCalled, obs.Tool)
			if obs.NeedsApproval {
				resp.PendingAction = obs.ActionID
			}
			if !obs.IsError {
				allErrors = false
			}
		}
		lastBatchAllErrors = allErrors

		// The repeated batch still executes; the guard stops the next round
		// trip, not the call itself.
		if repeats(sigHistory, loopSignatureRepeat) {
			slog.Warn("agent loop guard fired", "workspace", req.WorkspaceID, "signature_repeats", loopSignatureRepeat)
			tracing.AgentRuns.WithLabelValues("loop_guard").Inc()
			resp.Text = loopingReply
			return resp, nil
		}
	}

	tracing.AgentRuns.WithLabelValues("max_iterations").Inc()
	resp.Text = "I ran out of steps before finishing. Here's where I got to; ask me to continue if you want me to keep going."
	return resp, nil
}

// executeBatch runs one tool-call batch in parallel and returns observations
// in call order.
func (l *Loop) executeBatch(ctx context.Context, req Request, calls []providers.ToolCall) []tools.Observation {
	if len(calls) == 1 {
		return []tools.Observation{l.execute(ctx, req, calls[0])}
	}

	type indexed struct {
		idx int
		obs tools.Observation
	}
	results := make(chan indexed, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, tc providers.ToolCall) {
			defer wg.Done()
			results <- indexed{idx: idx, obs: l.execute(ctx, req, tc)}
		}(i, tc)
	}
	go func() { wg.Wait(); close(results) }()

	collected := make([]indexed, 0, len(calls))
	for r := range results {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })

	out := make([]tools.Observation, len(collected))
	for i, r := range collected {
		out[i] = r.obs
	}
	return out
}

func (l *Loop) execute(ctx context.Context, req Request, tc providers.ToolCall) tools.Observation {
	if tc.ParseError != "" {
		return tools.Observation{
			Tool:      tc.Name,
			IsError:   true,
			ErrorType: "invalid_params",
			Content:   fmt.Sprintf(`{"tool":%q,"status":"error","error_type":"invalid_params","error":"arguments were not valid JSON"}`, tc.Name),
		}
	}
	return l.executor.Execute(ctx, tools.Call{
		Name:        tc.Name,
		Args:        tc.Arguments,
		WorkspaceID: req.WorkspaceID,
		Screen:      req.Screen,
	})
}

// Trim keeps the system message plus the last MaxNonSystemMessages items.
func Trim(messages []providers.Message) []providers.Message {
	if len(messages) == 0 {
		return messages
	}
	var system []providers.Message
	rest := messages
	if messages[0].Role == "system" {
		system = messages[:1]
		rest = messages[1:]
	}
	if len(rest) > MaxNonSystemMessages {
		rest = rest[len(rest)-MaxNonSystemMessages:]
		// Never lead with an orphaned tool observation.
		for len(rest) > 0 && rest[0].Role == "tool" {
			rest = rest[1:]
		}
	}
	return append(append([]providers.Message{}, system...), rest...)
}

func batchSignature(calls []providers.ToolCall) string {
	sigs := make([]string, len(calls))
	for i, tc := range calls {
		sigs[i] = tools.Signature(tc.Name, tc.Arguments)
	}
	sort.Strings(sigs)
	return strings.Join(sigs, "|")
}

// repeats reports whether the last n entries are identical.
func repeats(history []string, n int) bool {
	if len(history) < n {
		return false
	}
	last := history[len(history)-1]
	for _, s := range history[len(history)-n : len(history)-1] {
		if s != last {
			return false
		}
	}
	return true
}
