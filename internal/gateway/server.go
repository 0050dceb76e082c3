// Package gateway wires the chat surface, the agent loop, the tool pipeline,
// and the background scheduler into one running process.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucyhq/lucy/internal/agent"
	"github.com/lucyhq/lucy/internal/capindex"
	"github.com/lucyhq/lucy/internal/chat"
	"github.com/lucyhq/lucy/internal/config"
	"github.com/lucyhq/lucy/internal/cron"
	"github.com/lucyhq/lucy/internal/fastpath"
	"github.com/lucyhq/lucy/internal/hitl"
	"github.com/lucyhq/lucy/internal/infra"
	"github.com/lucyhq/lucy/internal/prompt"
	"github.com/lucyhq/lucy/internal/providers"
	"github.com/lucyhq/lucy/internal/router"
	"github.com/lucyhq/lucy/internal/sessions"
	"github.com/lucyhq/lucy/internal/tools"
	"github.com/lucyhq/lucy/internal/tracing"
	"github.com/lucyhq/lucy/internal/workspace"
)

// Server owns every subsystem of a running Lucy instance.
type Server struct {
	cfg        *config.Config
	chat       chat.Client
	workspaces *workspace.Manager
	router     *router.Router
	approvals  *hitl.Registry
	caps       *capindex.Registry
	threads    *sessions.Manager
	board      *agent.TaskBoard
	pools      *fastpath.Pools
	gate       *fastpath.Gate
	deduper    *infra.MessageDeduper
	sem        *infra.Semaphore
	breakers   *infra.BreakerRegistry
	limits     *infra.RateLimiters
	collector  *tracing.Collector
	scheduler  *cron.Scheduler
	watcher    *cron.Watcher
	assetsDir  string

	// runtimes caches the per-workspace tool registry, executor, and loop.
	mu       sync.Mutex
	runtimes map[string]*runtime

	// threadLocks serialize agent runs within one thread so replies land in
	// receipt order.
	lockMu      sync.Mutex
	threadLocks map[string]*sync.Mutex

	httpServer *http.Server
}

// runtime is the per-workspace slice of the system.
type runtime struct {
	workspaceID string
	store       *workspace.Store
	registry    *tools.Registry
	executor    *tools.Executor
	loop        *agent.Loop
	builder     *prompt.Builder
	broker      *tools.BrokerClient
	retriever   *capindex.Retriever
	costs       router.CostStore
}

// New assembles a server from config. The chat client may be nil in --http
// mode.
func New(cfg *config.Config, chatClient chat.Client, assetsDir string) (*Server, error) {
	provider := providers.NewOpenAIProvider("openai", cfg.Router.APIKey, cfg.Router.APIBase)
	soul, _ := os.ReadFile(filepath.Join(assetsDir, "soul.md"))

	s := &Server{
		cfg:         cfg,
		chat:        chatClient,
		workspaces:  workspace.NewManager(expandHome(cfg.Workspaces.Root), cfg.Workspaces.SeedsDir),
		router:      router.New(provider, cfg, string(soul)),
		approvals:   hitl.NewRegistry(),
		caps:        capindex.NewRegistry(),
		threads:     sessions.NewManager(filepath.Join(expandHome(cfg.Gateway.StateDir), "threads")),
		board:       agent.NewTaskBoard(),
		pools:       fastpath.NewPools(),
		deduper:     infra.NewMessageDeduper(10 * time.Minute),
		sem:         infra.NewSemaphore(cfg.Tools.MaxConcurrent),
		breakers: infra.NewBreakerRegistry(infra.BreakerConfig{
			FailureThreshold: cfg.Tools.BreakerFailures,
			Cooldown:         time.Duration(cfg.Tools.BreakerCooldownSec) * time.Second,
		}),
		limits:      infra.NewRateLimiters(cfg.Tools.RateLimitRPS, 0),
		assetsDir:   assetsDir,
		runtimes:    make(map[string]*runtime),
		threadLocks: make(map[string]*sync.Mutex),
	}
	s.gate = fastpath.NewGate(s.pools, s.board)

	var err error
	s.collector, err = tracing.NewCollector(context.Background(),
		cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, cfg.Telemetry.ThreadJSONL)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	if cfg.Cron.Enabled {
		s.scheduler = cron.NewScheduler(s.workspaces, s, s, cron.SchedulerConfig{
			RetryBaseDelay:  time.Duration(cfg.Cron.BaseRetryMs) * time.Millisecond,
			TickInterval:    time.Duration(cfg.Cron.TickSeconds) * time.Second,
			ScriptTimeout:   time.Duration(cfg.Cron.ScriptTimeout) * time.Second,
			DefaultTimezone: cfg.Cron.Timezone,
		})
	}
	return s, nil
}

// Run starts every enabled subsystem and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	go s.pools.Warm(ctx, s.router)

	if s.scheduler != nil {
		go s.scheduler.Run(ctx)
		if s.cfg.Cron.WatchReload {
			w, err := cron.NewWatcher(expandHome(s.cfg.Workspaces.Root), s.scheduler.Reload)
			if err != nil {
				slog.Warn("cron watcher unavailable", "error", err)
			} else {
				s.watcher = w
				defer w.Close()
			}
		}
	}

	if s.cfg.Email.Enabled && s.cfg.Email.ListenerURL != "" {
		go s.runEmailListener(ctx)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- s.serveHTTP(ctx) }()

	if sc, ok := s.chat.(*chat.SlackClient); ok {
		go func() { errCh <- sc.Run(ctx, s) }()
	}

	select {
	case <-ctx.Done():
		s.shutdown()
		return nil
	case err := <-errCh:
		s.shutdown()
		return err
	}
}

func (s *Server) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if s.httpServer != nil {
		s.httpServer.Shutdown(shutdownCtx)
	}
	s.caps.Close()
	s.collector.Shutdown(shutdownCtx)
}

// serveHTTP exposes health, metrics, and the spaces callback endpoints.
func (s *Server) serveHTTP(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":           "ok",
			"open_breakers":    s.breakers.OpenServices(),
			"pending_approval": s.approvals.Len(),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())
	if s.cfg.Spaces.Enabled {
		s.registerSpacesRoutes(mux)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("http listening", "addr", addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// runtimeFor returns the workspace's runtime, building it on first use.
func (s *Server) runtimeFor(workspaceID string) (*runtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rt, ok := s.runtimes[workspaceID]; ok {
		return rt, nil
	}

	store, err := s.workspaces.Get(workspaceID)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	for _, t := range tools.WorkspaceTools() {
		registry.Register(t)
	}
	for _, t := range tools.MemoryTools() {
		registry.Register(t)
	}
	for _, t := range tools.CronTools() {
		registry.Register(t)
	}
	for _, t := range tools.SnapshotTools() {
		registry.Register(t)
	}
	if s.cfg.Tools.Web.SearchEnabled {
		registry.Register(tools.NewWebSearchTool(s.cfg.Tools.Web.BraveAPIKey, s.cfg.Tools.Web.MaxResults))
	}
	if s.cfg.Tools.GatewayURL != "" {
		gc := tools.NewGatewayClient(s.cfg.Tools.GatewayURL, s.cfg.Tools.GatewayToken)
		for _, t := range tools.GatewayTools(gc) {
			registry.Register(t)
		}
	}

	var broker *tools.BrokerClient
	if s.cfg.Tools.BrokerURL != "" {
		broker = tools.NewBrokerClient(s.cfg.Tools.BrokerURL, s.cfg.Tools.BrokerKey, workspaceID)
		for _, t := range tools.BrokerTools(broker) {
			registry.Register(t)
		}
	}
	if s.cfg.Email.Enabled && s.cfg.Email.ListenerURL != "" {
		ec := tools.NewEmailClient(s.cfg.Email.ListenerURL, s.cfg.Email.Token)
		registry.Register(tools.NewSendEmailTool(ec, workspaceID))
	}

	executor := tools.NewExecutor(registry, s.sem, s.breakers, s.approvals).
		WithRateLimits(s.limits).
		WithDedupeWindow(s.cfg.DedupeWindow()).
		WithResultMaxChars(s.cfg.Tools.ResultMaxChars)

	retriever, err := s.caps.ForWorkspace(workspaceID, store.Root())
	if err != nil {
		slog.Warn("capability index unavailable", "workspace", workspaceID, "error", err)
	}

	costs := router.CostStore(nil)
	if s.cfg.Telemetry.CostLog {
		costs = store
	}

	rt := &runtime{
		workspaceID: workspaceID,
		store:       store,
		registry:    registry,
		executor:    executor,
		loop:        agent.NewLoop(s.router, registry, executor, costs),
		builder:     prompt.NewBuilder(s.assetsDir, store),
		broker:      broker,
		retriever:   retriever,
		costs:       costs,
	}
	s.runtimes[workspaceID] = rt
	return rt, nil
}

// threadLock returns the mutex serializing one thread's runs.
func (s *Server) threadLock(key string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	mu, ok := s.threadLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.threadLocks[key] = mu
	}
	return mu
}

// RunInstruction implements cron.AgentRunner: a scheduler-initiated agent run
// with no thread context.
func (s *Server) RunInstruction(ctx context.Context, workspaceID, instruction, channel string) (string, error) {
	rt, err := s.runtimeFor(workspaceID)
	if err != nil {
		return "", err
	}
	system, err := rt.builder.Build(prompt.Input{UserMessage: instruction})
	if err != nil {
		return "", err
	}
	ctx = tools.WithWorkspace(ctx, rt.store)
	ctx = tools.WithChannel(ctx, channel)
	resp, err := rt.loop.Run(ctx, agent.Request{
		WorkspaceID:  workspaceID,
		SystemPrompt: system,
		UserMessage:  instruction,
		Tier:         "default",
		Intent:       "cron",
	})
	if err != nil {
		return "", err
	}
	return agent.ProcessOutput(resp.Text), nil
}

// Post implements cron.Deliverer.
func (s *Server) Post(ctx context.Context, channelID, text string, blocks json.RawMessage, threadTS string) error {
	if s.chat == nil {
		return fmt.Errorf("no chat client configured")
	}
	_, err := s.chat.Post(ctx, chat.PostRequest{
		ChannelID: channelID,
		Text:      text,
		Blocks:    blocks,
		ThreadTS:  threadTS,
	})
	return err
}

// PostDM implements cron.Deliverer's direct-message delivery.
func (s *Server) PostDM(ctx context.Context, userID, text string, blocks json.RawMessage) error {
	if s.chat == nil {
		return fmt.Errorf("no chat client configured")
	}
	channelID, err := s.chat.OpenDM(ctx, userID)
	if err != nil {
		return err
	}
	_, err = s.chat.Post(ctx, chat.PostRequest{
		ChannelID: channelID,
		Text:      text,
		Blocks:    blocks,
	})
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// expandHome resolves a leading ~ in configured paths.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
