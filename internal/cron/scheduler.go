package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lucyhq/lucy/internal/skills"
	"github.com/lucyhq/lucy/internal/tracing"
	"github.com/lucyhq/lucy/internal/workspace"
)

// AgentRunner executes a cron instruction through the agent loop and returns
// the final reply text.
type AgentRunner interface {
	RunInstruction(ctx context.Context, workspaceID, instruction, channel string) (string, error)
}

// Deliverer posts cron output to chat.
type Deliverer interface {
	Post(ctx context.Context, channelID, text string, blocks json.RawMessage, threadTS string) error
	PostDM(ctx context.Context, userID, text string, blocks json.RawMessage) error
}

// SchedulerConfig tunes retry and script behavior.
type SchedulerConfig struct {
	RetryBaseDelay time.Duration
	TickInterval   time.Duration
	ScriptTimeout  time.Duration
	// DefaultTimezone applies to definitions that set none; UTC when empty.
	DefaultTimezone string
}

func (c *SchedulerConfig) withDefaults() {
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 5 * time.Second
	}
	if c.TickInterval == 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.ScriptTimeout == 0 {
		c.ScriptTimeout = 2 * time.Minute
	}
}

// Scheduler runs a single timer loop; each fire dispatches into its own
// goroutine so a slow cron never delays the next one.
type Scheduler struct {
	manager *workspace.Manager
	runner  AgentRunner
	deliver Deliverer
	cfg     SchedulerConfig

	mu       sync.Mutex
	defs     []*Definition
	lastFire map[string]time.Time // workspace/slug → last fire considered

	reload chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewScheduler(manager *workspace.Manager, runner AgentRunner, deliver Deliverer, cfg SchedulerConfig) *Scheduler {
	cfg.withDefaults()
	return &Scheduler{
		manager:  manager,
		runner:   runner,
		deliver:  deliver,
		cfg:      cfg,
		lastFire: make(map[string]time.Time),
		reload:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Reload requests a re-discovery on the next loop pass. Safe from any
// goroutine; coalesces bursts.
func (s *Scheduler) Reload() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// Run discovers definitions and loops until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.rediscover()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(s.done)
			s.wg.Wait()
			return
		case <-s.reload:
			s.rediscover()
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) rediscover() {
	defs, err := Discover(s.manager)
	if err != nil {
		slog.Error("cron discovery failed", "error", err)
		return
	}
	if s.cfg.DefaultTimezone != "" {
		for _, def := range defs {
			if def.Timezone == "" {
				def.Timezone = s.cfg.DefaultTimezone
			}
		}
	}
	s.mu.Lock()
	s.defs = defs
	s.mu.Unlock()
	slog.Info("cron definitions loaded", "count", len(defs))
}

// tick fires every definition whose next fire time since the last check has
// passed.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	defs := append([]*Definition(nil), s.defs...)
	s.mu.Unlock()

	for _, def := range defs {
		key := def.WorkspaceID + "/" + def.Slug
		s.mu.Lock()
		last, ok := s.lastFire[key]
		if !ok {
			last = now.Add(-s.cfg.TickInterval)
		}
		s.mu.Unlock()

		next, err := def.NextFire(last)
		if err != nil || next.After(now) {
			continue
		}
		s.mu.Lock()
		s.lastFire[key] = now
		s.mu.Unlock()

		s.wg.Add(1)
		go func(def *Definition, at time.Time) {
			defer s.wg.Done()
			s.fire(ctx, def, at)
		}(def, next)
	}
}

// fire runs one cron occurrence, wrapped in the retry loop.
func (s *Scheduler) fire(ctx context.Context, def *Definition, at time.Time) {
	store, err := s.manager.Get(def.WorkspaceID)
	if err != nil {
		slog.Error("cron fire: workspace open failed", "workspace", def.WorkspaceID, "error", err)
		return
	}

	start := s.now()
	var status string
	var lastErr error

	attempts := 1 + def.MaxRetries
	for attempt := 1; attempt <= attempts; attempt++ {
		status, lastErr = s.attempt(ctx, def, store)
		if lastErr == nil {
			break
		}
		slog.Warn("cron attempt failed",
			"workspace", def.WorkspaceID, "slug", def.Slug, "attempt", attempt, "error", lastErr)
		if attempt < attempts {
			select {
			case <-time.After(s.cfg.RetryBaseDelay << (attempt - 1)):
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}
	if lastErr != nil {
		status = StatusFailed
		if def.NotifyOnFailure && def.Channel != "" {
			msg := fmt.Sprintf("The recurring job %q failed: %v", def.Title, lastErr)
			if err := s.deliver.Post(ctx, def.Channel, msg, nil, ""); err != nil {
				slog.Error("cron failure notice undeliverable", "slug", def.Slug, "error", err)
			}
		}
	}

	elapsed := s.now().Sub(start)
	if err := AppendLogEntry(store, def.Slug, at, elapsed, status); err != nil {
		slog.Error("cron log append failed", "slug", def.Slug, "error", err)
	}
	tracing.CronExecutions.WithLabelValues(status).Inc()

	if def.MaxRuns > 0 && DeliveredCount(store, def.Slug) >= def.MaxRuns {
		s.selfDelete(store, def)
	}
}

// attempt is one pass through the fire procedure. A skip is success with
// StatusSkipped; an error triggers the retry loop.
func (s *Scheduler) attempt(ctx context.Context, def *Definition, store *workspace.Store) (string, error) {
	if def.ConditionScriptPath != "" {
		passed, err := s.runConditionScript(ctx, store, def)
		if err != nil {
			return "", err
		}
		if !passed {
			return StatusSkipped, nil
		}
	}

	if def.DependsOn != "" {
		if got := LatestStatus(store, def.DependsOn); got != def.DependsOnStatus {
			slog.Info("cron dependency not met",
				"slug", def.Slug, "depends_on", def.DependsOn, "want", def.DependsOnStatus, "got", got)
			return StatusSkipped, nil
		}
	}

	instruction := s.buildInstruction(def, store)

	var response string
	var err error
	switch def.Type {
	case "script":
		response, err = s.runScript(ctx, store, def)
	default:
		response, err = s.runner.RunInstruction(ctx, def.WorkspaceID, instruction, def.Channel)
	}
	if err != nil {
		return "", err
	}

	trimmed := strings.TrimSpace(response)
	if trimmed == "" || strings.EqualFold(trimmed, "SKIP") {
		return StatusSkipped, nil
	}

	if err := s.deliverResponse(ctx, def, store, trimmed); err != nil {
		return "", err
	}
	return StatusDelivered, nil
}

// buildInstruction composes title, description, learnings, and global
// context (current time + workspace knowledge).
func (s *Scheduler) buildInstruction(def *Definition, store *workspace.Store) string {
	var sb strings.Builder
	sb.WriteString(def.Title)
	if def.Description != "" {
		sb.WriteString("\n\n" + def.Description)
	}
	if learnings, err := store.Read(def.Dir() + "/" + LearningsFile); err == nil {
		if trimmed := strings.TrimSpace(learnings); trimmed != "" {
			sb.WriteString("\n\nAccumulated learnings for this job:\n" + trimmed)
		}
	}
	sb.WriteString("\n\nCurrent time (UTC): " + s.now().UTC().Format(time.RFC3339))

	loader := skills.NewLoader(store)
	if company := loader.Company(); company != nil {
		sb.WriteString("\n\nCompany context:\n" + strings.TrimSpace(company.Body))
	}
	if team := loader.Team(); team != nil {
		sb.WriteString("\n\nTeam context:\n" + strings.TrimSpace(team.Body))
	}
	return sb.String()
}

// runConditionScript runs the gate script; exit 0 means proceed.
func (s *Scheduler) runConditionScript(ctx context.Context, store *workspace.Store, def *Definition) (bool, error) {
	path, err := s.scriptAbs(store, def.ConditionScriptPath)
	if err != nil {
		return false, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ScriptTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = store.Root()
	cmd.Env = append(os.Environ(), "WORKSPACE_ID="+def.WorkspaceID)
	if err := cmd.Run(); err != nil {
		if _, isExit := err.(*exec.ExitError); isExit {
			return false, nil
		}
		return false, fmt.Errorf("condition script %s: %w", def.ConditionScriptPath, err)
	}
	return true, nil
}

// runScript executes a script cron, capturing combined output.
func (s *Scheduler) runScript(ctx context.Context, store *workspace.Store, def *Definition) (string, error) {
	path, err := s.scriptAbs(store, def.ScriptPath)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ScriptTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, path)
	cmd.Dir = store.Root()
	cmd.Env = append(os.Environ(), "WORKSPACE_ID="+def.WorkspaceID)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("script %s: %w: %s", def.ScriptPath, err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// scriptAbs resolves a workspace-relative script path, refusing escapes.
func (s *Scheduler) scriptAbs(store *workspace.Store, rel string) (string, error) {
	if !store.Exists(rel) {
		return "", fmt.Errorf("script not found: %s", rel)
	}
	abs := filepath.Join(store.Root(), filepath.FromSlash(rel))
	if !strings.HasPrefix(filepath.Clean(abs), filepath.Clean(store.Root())+string(filepath.Separator)) {
		return "", workspace.ErrPathTraversal
	}
	return abs, nil
}

// deliverResponse routes the cron output by delivery mode: structured blocks
// when the response is a JSON object carrying a "blocks" field, plain text
// otherwise. log_only records the run without posting.
func (s *Scheduler) deliverResponse(ctx context.Context, def *Definition, store *workspace.Store, response string) error {
	if def.DeliveryMode == DeliverLogOnly {
		return nil
	}

	text := response
	var blocks json.RawMessage
	var structured struct {
		Blocks json.RawMessage `json:"blocks"`
	}
	if strings.HasPrefix(response, "{") &&
		json.Unmarshal([]byte(response), &structured) == nil &&
		len(structured.Blocks) > 0 {
		text, blocks = "", structured.Blocks
	}

	if def.DeliveryMode == DeliverDM {
		return s.deliver.PostDM(ctx, def.User, text, blocks)
	}
	if def.Channel == "" {
		return nil
	}
	threadTS := ""
	if def.DeliveryMode == DeliverThread {
		threadTS = s.readLastThread(store, def.Slug)
	}
	return s.deliver.Post(ctx, def.Channel, text, blocks, threadTS)
}

func (s *Scheduler) readLastThread(store *workspace.Store, slug string) string {
	text, err := store.Read("crons/" + slug + "/last_thread_ts")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

// selfDelete removes an exhausted cron's directory contents and drops it from
// the schedule.
func (s *Scheduler) selfDelete(store *workspace.Store, def *Definition) {
	slog.Info("cron reached max_runs, removing", "workspace", def.WorkspaceID, "slug", def.Slug)
	if err := store.Delete(def.Dir()); err != nil {
		slog.Warn("cron self-delete", "slug", def.Slug, "error", err)
	}
	s.mu.Lock()
	kept := s.defs[:0]
	for _, d := range s.defs {
		if !(d.WorkspaceID == def.WorkspaceID && d.Slug == def.Slug) {
			kept = append(kept, d)
		}
	}
	s.defs = kept
	s.mu.Unlock()
}
