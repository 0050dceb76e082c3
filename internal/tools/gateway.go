package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GatewayClient talks to the remote execution gateway: POST /tools/invoke
// with {tool, args} returning {ok, result | error}.
type GatewayClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewGatewayClient(baseURL, token string) *GatewayClient {
	return &GatewayClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

type gatewayEnvelope struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Invoke sends one tool invocation and returns the raw result.
func (c *GatewayClient) Invoke(ctx context.Context, tool string, args map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{"tool": tool, "args": args})
	if err != nil {
		return nil, fmt.Errorf("encode gateway request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway %s: %w", tool, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("gateway %s: read response: %w", tool, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway %s: status %d: %s", tool, resp.StatusCode, truncateForError(data))
	}

	var env gatewayEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("gateway %s: decode response: %w", tool, err)
	}
	if !env.OK {
		if env.Error != nil {
			return nil, fmt.Errorf("gateway %s: %s: %s", tool, env.Error.Type, env.Error.Message)
		}
		return nil, fmt.Errorf("gateway %s: request failed", tool)
	}
	return env.Result, nil
}

func truncateForError(b []byte) string {
	const max = 300
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

// gatewayTool exposes one gateway operation as a registry tool.
type gatewayTool struct {
	client *GatewayClient
	name   string
	desc   string
	params map[string]any
}

func (t *gatewayTool) Name() string               { return t.name }
func (t *gatewayTool) Description() string        { return t.desc }
func (t *gatewayTool) Parameters() map[string]any { return t.params }

func (t *gatewayTool) Execute(ctx context.Context, args map[string]any) *Result {
	result, err := t.client.Invoke(ctx, t.name, args)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(string(result))
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func numProp(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func boolProp(desc string) map[string]any {
	return map[string]any{"type": "boolean", "description": desc}
}

func objParams(required []string, props map[string]any) map[string]any {
	p := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		p["required"] = required
	}
	return p
}

// GatewayTools builds the remote exec / file-op tool set.
func GatewayTools(client *GatewayClient) []Tool {
	return []Tool{
		&gatewayTool{client, "exec",
			"Run a shell command on the remote workbench. Long-running commands should set background=true and be polled via process.",
			objParams([]string{"command"}, map[string]any{
				"command":    strProp("Shell command to run."),
				"timeout":    numProp("Seconds before the command is killed."),
				"workdir":    strProp("Working directory."),
				"env":        map[string]any{"type": "object", "description": "Extra environment variables."},
				"background": boolProp("Run detached and return a sessionId."),
			})},
		&gatewayTool{client, "process",
			"Manage background exec sessions: list, poll, read logs, or kill.",
			objParams([]string{"action"}, map[string]any{
				"action":    map[string]any{"type": "string", "enum": []string{"list", "poll", "log", "kill"}},
				"sessionId": strProp("Session to operate on."),
				"limit":     numProp("Max log lines."),
				"offset":    numProp("Log line offset."),
			})},
		&gatewayTool{client, "read",
			"Read a file from the remote workbench.",
			objParams([]string{"path"}, map[string]any{"path": strProp("Absolute file path.")})},
		&gatewayTool{client, "write",
			"Write a file on the remote workbench, replacing any existing content.",
			objParams([]string{"path", "content"}, map[string]any{
				"path":    strProp("Absolute file path."),
				"content": strProp("Full file content."),
			})},
		&gatewayTool{client, "edit",
			"Replace an exact string in a remote file.",
			objParams([]string{"path", "old_string", "new_string"}, map[string]any{
				"path":       strProp("Absolute file path."),
				"old_string": strProp("Exact text to replace."),
				"new_string": strProp("Replacement text."),
			})},
		&gatewayTool{client, "web_fetch",
			"Fetch a URL and return its content as text or markdown.",
			objParams([]string{"url"}, map[string]any{
				"url":         strProp("URL to fetch."),
				"extractMode": map[string]any{"type": "string", "enum": []string{"text", "markdown", "raw"}},
				"maxChars":    numProp("Cap on returned characters."),
			})},
		&gatewayTool{client, "session_status",
			"Report the remote workbench session status.",
			objParams(nil, map[string]any{})},
	}
}
