package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, merges keys.json credentials, then
// overlays env vars. Precedence: env > keys.json > config file > defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.mergeKeysFile(filepath.Join(filepath.Dir(path), "keys.json")); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	cfg.expandPaths()
	return cfg, nil
}

// keysFile is the shape of the optional keys.json credentials file.
type keysFile struct {
	SlackBotToken  string            `json:"slack_bot_token,omitempty"`
	SlackAppToken  string            `json:"slack_app_token,omitempty"`
	RouterAPIKey   string            `json:"router_api_key,omitempty"`
	GatewayToken   string            `json:"gateway_token,omitempty"`
	BrokerKey      string            `json:"broker_key,omitempty"`
	EmailToken     string            `json:"email_token,omitempty"`
	BraveAPIKey    string            `json:"brave_api_key,omitempty"`
	ProjectSecrets map[string]string `json:"project_secrets,omitempty"`
}

func (c *Config) mergeKeysFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read keys file: %w", err)
	}

	var keys keysFile
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("parse keys file: %w", err)
	}

	setIfEmpty := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
		}
	}
	setIfEmpty(&c.Chat.BotToken, keys.SlackBotToken)
	setIfEmpty(&c.Chat.AppToken, keys.SlackAppToken)
	setIfEmpty(&c.Router.APIKey, keys.RouterAPIKey)
	setIfEmpty(&c.Tools.GatewayToken, keys.GatewayToken)
	setIfEmpty(&c.Tools.BrokerKey, keys.BrokerKey)
	setIfEmpty(&c.Email.Token, keys.EmailToken)
	setIfEmpty(&c.Tools.Web.BraveAPIKey, keys.BraveAPIKey)
	if c.Spaces.ProjectSecrets == nil {
		c.Spaces.ProjectSecrets = keys.ProjectSecrets
	}
	return nil
}

// applyEnvOverrides overlays LUCY_-prefixed env vars. Env wins over everything.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("LUCY_SLACK_BOT_TOKEN", &c.Chat.BotToken)
	envStr("LUCY_SLACK_APP_TOKEN", &c.Chat.AppToken)
	envStr("LUCY_ROUTER_API_KEY", &c.Router.APIKey)
	envStr("LUCY_ROUTER_API_BASE", &c.Router.APIBase)
	envStr("LUCY_GATEWAY_TOKEN", &c.Tools.GatewayToken)
	envStr("LUCY_GATEWAY_URL", &c.Tools.GatewayURL)
	envStr("LUCY_BROKER_KEY", &c.Tools.BrokerKey)
	envStr("LUCY_BROKER_URL", &c.Tools.BrokerURL)
	envStr("LUCY_EMAIL_TOKEN", &c.Email.Token)
	envStr("LUCY_BRAVE_API_KEY", &c.Tools.Web.BraveAPIKey)
	envStr("LUCY_WORKSPACES_ROOT", &c.Workspaces.Root)
	envStr("LUCY_STATE_DIR", &c.Gateway.StateDir)
	envStr("LUCY_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)
	envStr("LUCY_METRICS_ADDR", &c.Telemetry.MetricsAddr)
	envStr("LUCY_HOST", &c.Gateway.Host)

	if v := os.Getenv("LUCY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Gateway.Port = n
		}
	}
	if v := os.Getenv("LUCY_EMAIL_LISTENER_URL"); v != "" {
		c.Email.ListenerURL = v
		c.Email.Enabled = true
	}
}

// expandPaths resolves ~ in path-valued settings.
func (c *Config) expandPaths() {
	c.Workspaces.Root = expandHome(c.Workspaces.Root)
	c.Gateway.StateDir = expandHome(c.Gateway.StateDir)
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
