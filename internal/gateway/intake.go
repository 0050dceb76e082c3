package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/lucyhq/lucy/internal/agent"
	"github.com/lucyhq/lucy/internal/capindex"
	"github.com/lucyhq/lucy/internal/chat"
	"github.com/lucyhq/lucy/internal/fastpath"
	"github.com/lucyhq/lucy/internal/prompt"
	"github.com/lucyhq/lucy/internal/providers"
	"github.com/lucyhq/lucy/internal/router"
	"github.com/lucyhq/lucy/internal/sessions"
	"github.com/lucyhq/lucy/internal/tools"
	"github.com/lucyhq/lucy/internal/tracing"
)

// retrieveTopK is how many indexed tools one message pulls into the run.
const retrieveTopK = 8

// HandleMessage is the inbound pipeline: dedup, fast path, then a full agent
// run serialized per thread.
func (s *Server) HandleMessage(ctx context.Context, ev chat.Event) {
	if s.deduper.IsDuplicate(ev.Key()) {
		return
	}
	// DMs and mentions always engage; ambient channel chatter does not.
	if !ev.IsDM && !ev.Mentioned && ev.ThreadTS == "" {
		return
	}

	workspaceID := ev.TeamID
	if workspaceID == "" {
		workspaceID = s.cfg.Chat.DefaultTeam
	}
	threadRoot := ev.ThreadTS
	if threadRoot == "" {
		threadRoot = ev.TS
	}
	threadKey := sessions.ThreadKey(workspaceID, ev.ChannelID, threadRoot)

	replyTS := ev.ThreadTS
	if replyTS == "" && s.cfg.Chat.ThreadReplies {
		replyTS = ev.TS
	}

	depth := s.threads.Depth(threadKey)
	if intent := fastpath.Match(ev.Text, depth); intent != fastpath.IntentNone {
		if reply, ok := s.gate.Reply(intent, workspaceID, threadRoot); ok {
			s.reply(ctx, ev.ChannelID, replyTS, reply)
			return
		}
	}

	// One run at a time per thread keeps replies in receipt order.
	lock := s.threadLock(threadKey)
	lock.Lock()
	defer lock.Unlock()

	if s.cfg.Chat.ReactionAck {
		if err := s.chat.AddReaction(ctx, ev.ChannelID, ev.TS, "eyes"); err != nil {
			slog.Debug("reaction ack failed", "error", err)
		}
	}

	reply := s.runAgent(ctx, workspaceID, threadKey, ev)
	if reply == "" {
		return
	}
	s.reply(ctx, ev.ChannelID, replyTS, reply)
}

// runAgent performs the full path: classify, compose, retrieve, run.
func (s *Server) runAgent(ctx context.Context, workspaceID, threadKey string, ev chat.Event) string {
	rt, err := s.runtimeFor(workspaceID)
	if err != nil {
		slog.Error("workspace unavailable", "workspace", workspaceID, "error", err)
		return s.pools.Pick(fastpath.PoolGeneric)
	}

	trace := tracing.New()
	ctx = tracing.WithTrace(ctx, trace)
	defer s.collector.Finish(ctx, trace, rt.store, threadKey)

	history := s.threads.History(threadKey)
	cls := router.Classify(router.Signals{
		Message:          ev.Text,
		ThreadDepth:      len(history),
		PrevHadToolCalls: historyHasToolCalls(history),
	})

	connected := s.connectedApps(ctx, rt)
	channelName, channelTopic := s.channelContext(ctx, ev.ChannelID)
	tzOffset, tzLabel := s.userTimezone(ctx, ev.UserID)
	system, err := rt.builder.Build(prompt.Input{
		UserMessage:       ev.Text,
		UserID:            ev.UserID,
		ConnectedServices: connected,
		ChannelName:       channelName,
		ChannelTopic:      channelTopic,
	})
	if err != nil {
		slog.Error("prompt build failed", "workspace", workspaceID, "error", err)
		return s.pools.Pick(fastpath.PoolGeneric)
	}

	s.retrieveTools(ctx, rt, ev.Text, connected)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	task := s.board.Start(workspaceID, ev.ChannelID, threadKey, taskDescription(ev.Text), cancel)
	s.board.SetState(task.ID, "working")

	runCtx = tools.WithWorkspace(runCtx, rt.store)
	runCtx = tools.WithChannel(runCtx, ev.ChannelID)
	runCtx = tools.WithThread(runCtx, threadKey)
	runCtx = tools.WithUser(runCtx, ev.UserID)

	resp, err := rt.loop.Run(runCtx, agent.Request{
		WorkspaceID:  workspaceID,
		SystemPrompt: system,
		Messages:     history,
		UserMessage:  ev.Text,
		Tier:         cls.Tier,
		Intent:       cls.Intent,
		TaskID:       task.ID,
		TZOffset:     tzOffset,
		TZLabel:      tzLabel,
	})
	if err != nil {
		s.board.SetState(task.ID, "failed")
		if errors.Is(err, providers.ErrModelUnavailable) {
			return s.pools.Pick(fastpath.PoolServiceUnavailable)
		}
		if errors.Is(err, context.Canceled) {
			return ""
		}
		slog.Error("agent run failed", "workspace", workspaceID, "error", err)
		return s.pools.Pick(fastpath.PoolGeneric)
	}
	s.board.SetState(task.ID, "done")

	text := agent.ProcessOutput(resp.Text)
	trace.SetResponse(text)

	s.threads.Append(threadKey,
		providers.Message{Role: "user", Content: ev.Text},
		providers.Message{Role: "assistant", Content: text},
	)
	if err := s.threads.Save(threadKey); err != nil {
		slog.Warn("thread save failed", "error", err)
	}

	if resp.PendingAction != "" {
		s.postApprovalPrompt(ctx, rt, ev, resp.PendingAction, text)
		return ""
	}
	return text
}

// reply posts text, upgrading structured replies to Block Kit.
func (s *Server) reply(ctx context.Context, channelID, threadTS, text string) {
	req := chat.PostRequest{ChannelID: channelID, Text: text, ThreadTS: threadTS}
	if blocks := chat.BlocksFor(text); blocks != nil {
		req.Blocks = blocks
	}
	if _, err := s.chat.Post(ctx, req); err != nil {
		slog.Error("reply post failed", "channel", channelID, "error", err)
	}
}

// postApprovalPrompt surfaces a held destructive action with its buttons.
func (s *Server) postApprovalPrompt(ctx context.Context, rt *runtime, ev chat.Event, actionID, text string) {
	pending, ok := s.approvals.Get(actionID)
	if !ok {
		return
	}
	threadTS := ev.ThreadTS
	if threadTS == "" && s.cfg.Chat.ThreadReplies {
		threadTS = ev.TS
	}
	body := text
	if body == "" {
		body = pending.Description
	}
	_, err := s.chat.Post(ctx, chat.PostRequest{
		ChannelID: ev.ChannelID,
		Text:      body,
		Blocks:    chat.ApprovalBlocks(body, pending.ToolName, actionID),
		ThreadTS:  threadTS,
	})
	if err != nil {
		slog.Error("approval prompt post failed", "action", actionID, "error", err)
	}
}

// retrieveTools populates the index on first use and registers retrieved
// broker tools for this run. A thin or low-relevance index leaves discovery
// to the broker's search_tools at run time.
func (s *Server) retrieveTools(ctx context.Context, rt *runtime, message string, connected []string) {
	if rt.retriever == nil || rt.broker == nil {
		return
	}
	if size, err := rt.retriever.Index().Size(ctx); err == nil && size == 0 {
		for _, app := range connected {
			app := app
			added, err := rt.retriever.Populate(ctx, app, func(ctx context.Context) ([]json.RawMessage, error) {
				return rt.broker.FetchToolSchemas(ctx, app)
			})
			if err != nil {
				slog.Warn("tool index populate failed", "app", app, "error", err)
				continue
			}
			if added > 0 {
				slog.Info("tool index populated", "app", app, "tools", added)
			}
		}
	}

	res, err := rt.retriever.Retrieve(ctx, message, retrieveTopK, connected)
	if err != nil || res == nil {
		return
	}
	if res.TopScore < capindex.MinRelevanceScore {
		return
	}
	for _, rec := range res.Tools {
		name, desc, params, ok := parseToolSchema(rec.Schema)
		if !ok {
			continue
		}
		rt.registry.Register(tools.DiscoveredTool(rt.broker, name, desc, params))
		if err := rt.retriever.Index().RecordUsage(ctx, rec.ToolName); err != nil {
			slog.Debug("use count update failed", "tool", rec.ToolName, "error", err)
		}
	}
}

// parseToolSchema accepts both bare and {"function": {...}} wrapped OpenAI
// tool schemas.
func parseToolSchema(raw json.RawMessage) (name, desc string, params map[string]any, ok bool) {
	var outer struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Parameters  map[string]any  `json:"parameters"`
		Function    json.RawMessage `json:"function"`
	}
	if err := json.Unmarshal(raw, &outer); err != nil {
		return "", "", nil, false
	}
	if outer.Name == "" && len(outer.Function) > 0 {
		if err := json.Unmarshal(outer.Function, &outer); err != nil {
			return "", "", nil, false
		}
	}
	if outer.Name == "" {
		return "", "", nil, false
	}
	return outer.Name, outer.Description, outer.Parameters, true
}

// connectedApps asks the broker which integrations the workspace has; a
// broker outage degrades to none.
func (s *Server) connectedApps(ctx context.Context, rt *runtime) []string {
	if rt.broker == nil {
		return nil
	}
	listCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	apps, err := rt.broker.ConnectedApps(listCtx)
	if err != nil {
		slog.Debug("connected apps lookup failed", "error", err)
		return nil
	}
	return apps
}

// userTimezone resolves the sender's profile timezone so time windows are
// grounded in their local zone; lookup failures fall back to UTC.
func (s *Server) userTimezone(ctx context.Context, userID string) (float64, string) {
	if userID == "" {
		return 0, "UTC"
	}
	tzCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	offset, label, err := s.chat.UserTimezone(tzCtx, userID)
	if err != nil {
		slog.Debug("user timezone lookup failed", "user", userID, "error", err)
		return 0, "UTC"
	}
	if label == "" {
		label = "UTC"
	}
	return offset, label
}

func (s *Server) channelContext(ctx context.Context, channelID string) (string, string) {
	infoCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	name, topic, err := s.chat.ChannelInfo(infoCtx, channelID)
	if err != nil {
		return "", ""
	}
	return name, topic
}

func historyHasToolCalls(history []providers.Message) bool {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "tool" || len(history[i].ToolCalls) > 0 {
			return true
		}
	}
	return false
}

// taskDescription is the short label shown in status lines.
func taskDescription(message string) string {
	desc := strings.TrimSpace(message)
	if len(desc) > 80 {
		desc = desc[:77] + "..."
	}
	return desc
}
