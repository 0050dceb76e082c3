package gateway

import (
	"context"
	"log/slog"

	"github.com/lucyhq/lucy/internal/chat"
	"github.com/lucyhq/lucy/internal/tools"
)

// HandleAction resolves an approval button press. Resolve is exactly-once, so
// double clicks and races collapse to a single execution.
func (s *Server) HandleAction(ctx context.Context, act chat.Action) {
	pending, ok := s.approvals.Resolve(act.ActionID)
	if !ok {
		s.reply(ctx, act.ChannelID, act.ThreadTS,
			"That approval expired or was already handled.")
		return
	}

	if act.Decision != "approve" {
		slog.Info("action cancelled", "action", act.ActionID, "tool", pending.ToolName, "by", act.UserID)
		s.reply(ctx, act.ChannelID, act.ThreadTS,
			"Cancelled. I won't run "+pending.ToolName+".")
		return
	}

	rt, err := s.runtimeFor(pending.WorkspaceID)
	if err != nil {
		slog.Error("approval run: workspace unavailable", "workspace", pending.WorkspaceID, "error", err)
		s.reply(ctx, act.ChannelID, act.ThreadTS, "I couldn't run that: workspace unavailable.")
		return
	}

	slog.Info("action approved", "action", act.ActionID, "tool", pending.ToolName, "by", act.UserID)
	runCtx := tools.WithWorkspace(ctx, rt.store)
	runCtx = tools.WithChannel(runCtx, pending.ChannelID)
	runCtx = tools.WithUser(runCtx, act.UserID)

	obs := rt.executor.Execute(runCtx, tools.Call{
		Name:        pending.ToolName,
		Args:        pending.Parameters,
		WorkspaceID: pending.WorkspaceID,
		Approved:    true,
	})

	replyTS := act.ThreadTS
	if replyTS == "" {
		replyTS = pending.ThreadTS
	}
	if obs.IsError {
		s.reply(ctx, act.ChannelID, replyTS,
			"Approved, but the action failed: "+obs.Content)
		return
	}
	s.reply(ctx, act.ChannelID, replyTS, "Done. "+summarizeResult(obs))
}

// summarizeResult keeps the confirmation short; full output is in the trace.
func summarizeResult(obs tools.Observation) string {
	const max = 400
	content := obs.Content
	if len(content) > max {
		content = content[:max] + "..."
	}
	return content
}
