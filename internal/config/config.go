package config

import (
	"sync"
	"time"
)

// Config is the root configuration for the Lucy gateway.
type Config struct {
	Gateway    GatewayConfig    `json:"gateway"`
	Workspaces WorkspacesConfig `json:"workspaces"`
	Router     RouterConfig     `json:"router"`
	Tools      ToolsConfig      `json:"tools"`
	Chat       ChatConfig       `json:"chat"`
	Cron       CronConfig       `json:"cron"`
	Email      EmailConfig      `json:"email,omitempty"`
	Spaces     SpacesConfig     `json:"spaces,omitempty"`
	Telemetry  TelemetryConfig  `json:"telemetry,omitempty"`
	mu         sync.RWMutex
}

// GatewayConfig configures the server process itself.
type GatewayConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	StateDir string `json:"state_dir,omitempty"` // lock file + warm pool cache (default: ~/.lucy)
}

// WorkspacesConfig configures per-team workspace storage.
type WorkspacesConfig struct {
	Root     string `json:"root"`                // parent dir of {workspace_id}/ trees
	SeedsDir string `json:"seeds_dir,omitempty"` // pre-shipped templates copied on onboarding
}

// RouterConfig configures the model router.
type RouterConfig struct {
	APIBase string `json:"api_base"` // OpenAI-compatible endpoint
	APIKey  string `json:"-"`        // env LUCY_ROUTER_API_KEY or keys.json only

	// Tiers maps tier name → tier model config. Missing tiers fall back to
	// the "default" tier.
	Tiers map[string]TierConfig `json:"tiers,omitempty"`

	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// TierConfig names the primary model and its fallbacks for one routing tier.
type TierConfig struct {
	Primary   string   `json:"primary"`
	Fallbacks []string `json:"fallbacks,omitempty"`
}

// ToolsConfig configures tool execution.
type ToolsConfig struct {
	// GatewayURL is the remote exec/file-ops HTTP gateway (POST /tools/invoke).
	GatewayURL   string `json:"gateway_url,omitempty"`
	GatewayToken string `json:"-"` // env LUCY_GATEWAY_TOKEN or keys.json only

	// BrokerURL is the meta-integration broker endpoint; BrokerKey
	// authenticates against it.
	BrokerURL string `json:"broker_url,omitempty"`
	BrokerKey string `json:"-"` // env LUCY_BROKER_KEY or keys.json only

	MaxConcurrent      int `json:"max_concurrent,omitempty"`        // process-wide semaphore (default 8)
	ResultMaxChars     int `json:"result_max_chars,omitempty"`      // truncation budget (default 12000)
	DedupeWindowSecs   int `json:"dedupe_window_secs,omitempty"`    // mutating-call window (default 5)
	BreakerFailures    int `json:"breaker_failures,omitempty"`      // failures before open (default 5)
	BreakerCooldownSec int `json:"breaker_cooldown_secs,omitempty"` // open → half-open (default 60)
	RateLimitRPS       int `json:"rate_limit_rps,omitempty"`        // per-service limiter (default 10)

	Web WebToolsConfig `json:"web,omitempty"`
}

// WebToolsConfig configures the built-in web search tool.
type WebToolsConfig struct {
	SearchEnabled bool   `json:"search_enabled"`
	MaxResults    int    `json:"max_results,omitempty"`
	BraveAPIKey   string `json:"-"` // env LUCY_BRAVE_API_KEY or keys.json only
}

// ChatConfig configures the chat-platform boundary.
type ChatConfig struct {
	BotToken      string `json:"-"`                        // env LUCY_SLACK_BOT_TOKEN or keys.json only
	AppToken      string `json:"-"`                        // env LUCY_SLACK_APP_TOKEN or keys.json only (socket mode)
	BotUserID     string `json:"bot_user_id,omitempty"`
	DefaultTeam   string `json:"default_team,omitempty"`
	ReactionAck   bool   `json:"reaction_ack"`             // eyes-emoji acknowledgement on intake
	ThreadReplies bool   `json:"thread_replies,omitempty"` // reply in thread by default
}

// CronConfig configures the background scheduler.
type CronConfig struct {
	Enabled       bool   `json:"enabled"`
	TickSeconds   int    `json:"tick_seconds,omitempty"`    // scheduler resolution (default 20)
	BaseRetryMs   int    `json:"base_retry_ms,omitempty"`   // backoff base delay (default 2000)
	ScriptTimeout int    `json:"script_timeout,omitempty"`  // seconds per script run (default 120)
	Timezone      string `json:"timezone,omitempty"`        // fallback when a definition has none
	WatchReload   bool   `json:"watch_reload"`              // fsnotify reload of crons/ dirs
}

// EmailConfig configures the inbound email WebSocket listener.
type EmailConfig struct {
	Enabled     bool   `json:"enabled"`
	ListenerURL string `json:"listener_url,omitempty"`
	Token       string `json:"-"` // env LUCY_EMAIL_TOKEN or keys.json only
}

// SpacesConfig configures the inbound callback endpoints for Lucy-built apps.
type SpacesConfig struct {
	Enabled bool `json:"enabled"`
	// ProjectSecrets maps project_name → shared secret. Requests with a
	// mismatched secret are rejected with 403.
	ProjectSecrets map[string]string `json:"-"` // keys.json only
}

// TelemetryConfig configures trace export and metrics.
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"` // empty = no export
	MetricsAddr  string `json:"metrics_addr,omitempty"`  // prometheus /metrics listener
	ThreadJSONL  bool   `json:"thread_jsonl"`            // per-thread trace append under logs/threads/
	CostLog      bool   `json:"cost_log"`                // per-request token cost JSONL
	ServiceName  string `json:"service_name,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:     "0.0.0.0",
			Port:     18890,
			StateDir: "~/.lucy",
		},
		Workspaces: WorkspacesConfig{
			Root:     "~/.lucy/workspaces",
			SeedsDir: "seeds",
		},
		Router: RouterConfig{
			APIBase:     "https://api.openai.com/v1",
			MaxTokens:   8192,
			Temperature: 0.7,
			Tiers: map[string]TierConfig{
				"fast":     {Primary: "gpt-4o-mini"},
				"default":  {Primary: "gpt-4o", Fallbacks: []string{"gpt-4o-mini"}},
				"code":     {Primary: "gpt-4o", Fallbacks: []string{"gpt-4o-mini"}},
				"research": {Primary: "o3", Fallbacks: []string{"gpt-4o"}},
				"document": {Primary: "gpt-4o", Fallbacks: []string{"gpt-4o-mini"}},
				"frontier": {Primary: "o3", Fallbacks: []string{"gpt-4o"}},
			},
		},
		Tools: ToolsConfig{
			MaxConcurrent:      8,
			ResultMaxChars:     12000,
			DedupeWindowSecs:   5,
			BreakerFailures:    5,
			BreakerCooldownSec: 60,
			RateLimitRPS:       10,
			Web: WebToolsConfig{
				SearchEnabled: true,
				MaxResults:    5,
			},
		},
		Chat: ChatConfig{
			ReactionAck:   true,
			ThreadReplies: true,
		},
		Cron: CronConfig{
			Enabled:     true,
			TickSeconds: 20,
			BaseRetryMs: 2000,
			WatchReload: true,
		},
		Telemetry: TelemetryConfig{
			ThreadJSONL: true,
			CostLog:     true,
			ServiceName: "lucy",
		},
	}
}

// Tier returns the tier config for name, falling back to "default".
func (c *Config) Tier(name string) TierConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if t, ok := c.Router.Tiers[name]; ok && t.Primary != "" {
		return t
	}
	return c.Router.Tiers["default"]
}

// DedupeWindow returns the mutating tool-call dedupe window as a duration.
func (c *Config) DedupeWindow() time.Duration {
	return time.Duration(c.Tools.DedupeWindowSecs) * time.Second
}
