package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/lucyhq/lucy/internal/config"
	"github.com/lucyhq/lucy/internal/providers"
	"github.com/lucyhq/lucy/internal/tracing"
)

// CostStore is the slice of the workspace store the cost log needs.
type CostStore interface {
	Append(rel, text string) error
}

// Router dispatches chat requests across a tier's primary and fallback
// models, always prepending the system preamble.
type Router struct {
	provider providers.Provider
	cfg      *config.Config
	soul     string
	costLog  bool
}

// Request is one routed LLM call.
type Request struct {
	Messages      []providers.Message
	Tier          string
	WorkspaceID   string
	TaskID        string
	Tools         []providers.ToolDefinition
	TZOffsetHours float64
	TZLabel       string
}

func New(provider providers.Provider, cfg *config.Config, soul string) *Router {
	return &Router{
		provider: provider,
		cfg:      cfg,
		soul:     soul,
		costLog:  cfg.Telemetry.CostLog,
	}
}

// Route tries the tier's primary model, then each fallback in order. All-fail
// returns ErrModelUnavailable wrapping the last error.
func (r *Router) Route(ctx context.Context, req Request, costStore CostStore) (*providers.ChatResponse, error) {
	tier := r.cfg.Tier(req.Tier)
	models := append([]string{tier.Primary}, tier.Fallbacks...)

	messages := append([]providers.Message{{
		Role:    "system",
		Content: r.preamble(req.TZOffsetHours, req.TZLabel),
	}}, req.Messages...)

	var lastErr error
	for _, model := range models {
		end := tracing.StartSpan(ctx, "llm_call", map[string]any{"model": model, "tier": req.Tier})
		resp, err := r.provider.Chat(ctx, providers.ChatRequest{
			Messages:    messages,
			Tools:       req.Tools,
			Model:       model,
			MaxTokens:   r.cfg.Router.MaxTokens,
			Temperature: r.cfg.Router.Temperature,
		})
		end()

		if err != nil {
			lastErr = err
			tracing.LLMRequests.WithLabelValues(model, "error").Inc()
			slog.Warn("model call failed, trying fallback",
				"model", model, "tier", req.Tier, "kind", providers.Classify(err), "error", err)
			continue
		}

		tracing.LLMRequests.WithLabelValues(model, "ok").Inc()
		if t := tracing.FromContext(ctx); t != nil {
			t.SetModel(model)
			if resp.Usage != nil {
				t.AddUsage(tracing.Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				})
			}
		}
		if resp.Usage != nil {
			tracing.Tokens.WithLabelValues("prompt").Add(float64(resp.Usage.PromptTokens))
			tracing.Tokens.WithLabelValues("completion").Add(float64(resp.Usage.CompletionTokens))
			if r.costLog && costStore != nil {
				go r.appendCostLog(costStore, req, model, resp.Usage)
			}
		}
		return resp, nil
	}
	return nil, fmt.Errorf("%w: tier %s: %v", providers.ErrModelUnavailable, req.Tier, lastErr)
}

// preamble is the system block the router always prepends: soul, the current
// time in UTC and the user's zone, and the tool-calling rules.
func (r *Router) preamble(tzOffsetHours float64, tzLabel string) string {
	now := time.Now().UTC()
	loc := time.FixedZone(tzLabel, int(tzOffsetHours*3600))
	local := now.In(loc)
	todayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	tomorrowStart := todayStart.AddDate(0, 0, 1)
	dayAfter := todayStart.AddDate(0, 0, 2)

	if tzLabel == "" {
		tzLabel = "UTC"
	}

	return r.soul + "\n\n" +
		"Current time:\n" +
		"- UTC: " + now.Format(time.RFC3339) + "\n" +
		"- Local (" + tzLabel + "): " + local.Format(time.RFC3339) + "\n" +
		"- Today: " + todayStart.Format(time.RFC3339) + " to " + tomorrowStart.Format(time.RFC3339) + "\n" +
		"- Tomorrow: " + tomorrowStart.Format(time.RFC3339) + " to " + dayAfter.Format(time.RFC3339) + "\n\n" +
		"Tool-calling rules:\n" +
		"- Use concrete timestamps computed from the times above, never template variables.\n" +
		"- If a tool already returned data, do not call it again with identical parameters.\n" +
		"- Never claim a tool listed in your tools is unavailable."
}

type costRecord struct {
	Timestamp        string `json:"timestamp"`
	WorkspaceID      string `json:"workspace_id"`
	TaskID           string `json:"task_id,omitempty"`
	Model            string `json:"model"`
	Tier             string `json:"tier"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

func (r *Router) appendCostLog(store CostStore, req Request, model string, usage *providers.Usage) {
	rec := costRecord{
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		WorkspaceID:      req.WorkspaceID,
		TaskID:           req.TaskID,
		Model:            model,
		Tier:             req.Tier,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	rel := path.Join("logs", "costs", time.Now().UTC().Format("2006-01-02")+".jsonl")
	if err := store.Append(rel, string(line)+"\n"); err != nil {
		slog.Warn("cost log append failed", "error", err)
	}
}
