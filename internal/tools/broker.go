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

// Broker tool names. Together they form the discovery and execution surface
// of the meta-integration broker.
const (
	BrokerSearchTools       = "search_tools"
	BrokerManageConnections = "manage_connections"
	BrokerMultiExecute      = "multi_execute_tool"
	BrokerRemoteWorkbench   = "remote_workbench"
	BrokerRemoteBash        = "remote_bash"
)

// BrokerClient calls the meta-integration broker. The broker speaks the same
// tool shape as /chat/completions: calls go out as
// {function: {name, arguments}} and results come back as tool messages.
type BrokerClient struct {
	baseURL     string
	apiKey      string
	workspaceID string
	http        *http.Client
}

func NewBrokerClient(baseURL, apiKey, workspaceID string) *BrokerClient {
	return &BrokerClient{
		baseURL:     baseURL,
		apiKey:      apiKey,
		workspaceID: workspaceID,
		http:        &http.Client{Timeout: 50 * time.Second},
	}
}

type brokerCallBody struct {
	WorkspaceID string             `json:"workspace_id"`
	Call        brokerFunctionCall `json:"tool_call"`
}

type brokerFunctionCall struct {
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type brokerCallResponse struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Error   string          `json:"error,omitempty"`
}

// Call invokes one broker tool and returns the tool message content.
func (c *BrokerClient) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	argJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode broker arguments: %w", err)
	}
	body := brokerCallBody{WorkspaceID: c.workspaceID}
	body.Call.Type = "function"
	body.Call.Function.Name = name
	body.Call.Function.Arguments = string(argJSON)

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("encode broker call: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tool_calls", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build broker request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("broker %s: %w", name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("broker %s: read response: %w", name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("broker %s: status %d: %s", name, resp.StatusCode, truncateForError(data))
	}

	var out brokerCallResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("broker %s: decode response: %w", name, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("broker %s: %s", name, out.Error)
	}
	var asString string
	if err := json.Unmarshal(out.Content, &asString); err == nil {
		return asString, nil
	}
	return string(out.Content), nil
}

// FetchToolSchemas asks the broker for OpenAI-format tool definitions for one
// app, used to populate the capability index on connect events.
func (c *BrokerClient) FetchToolSchemas(ctx context.Context, appSlug string) ([]json.RawMessage, error) {
	content, err := c.Call(ctx, BrokerSearchTools, map[string]any{
		"app":    appSlug,
		"format": "openai",
	})
	if err != nil {
		return nil, err
	}
	var schemas []json.RawMessage
	if err := json.Unmarshal([]byte(content), &schemas); err != nil {
		return nil, fmt.Errorf("decode tool schemas for %s: %w", appSlug, err)
	}
	return schemas, nil
}

// ConnectedApps lists the app slugs the workspace has authorized.
func (c *BrokerClient) ConnectedApps(ctx context.Context) ([]string, error) {
	content, err := c.Call(ctx, BrokerManageConnections, map[string]any{"action": "list"})
	if err != nil {
		return nil, err
	}
	var out struct {
		Connected []string `json:"connected"`
	}
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("decode connected apps: %w", err)
	}
	return out.Connected, nil
}

// brokerTool exposes one broker operation as a registry tool.
type brokerTool struct {
	client *BrokerClient
	name   string
	desc   string
	params map[string]any
}

func (t *brokerTool) Name() string               { return t.name }
func (t *brokerTool) Description() string        { return t.desc }
func (t *brokerTool) Parameters() map[string]any { return t.params }

func (t *brokerTool) Execute(ctx context.Context, args map[string]any) *Result {
	content, err := t.client.Call(ctx, t.name, args)
	if err != nil {
		return ErrorResult(err.Error()).WithError(err)
	}
	return NewResult(content)
}

// DiscoveredTool wraps an indexed integration tool so retrieved schemas can
// be executed directly through the broker.
func DiscoveredTool(client *BrokerClient, name, description string, params map[string]any) Tool {
	return &brokerTool{client, name, description, params}
}

// BrokerTools builds the five broker tools.
func BrokerTools(client *BrokerClient) []Tool {
	return []Tool{
		&brokerTool{client, BrokerSearchTools,
			"Discover integration tools matching a use case. Returns tool definitions you can execute with multi_execute_tool.",
			objParams([]string{"use_case"}, map[string]any{
				"use_case": strProp("What you are trying to do, in plain words."),
				"app":      strProp("Optional app slug to restrict the search."),
			})},
		&brokerTool{client, BrokerManageConnections,
			"List, create, or check the workspace's integration connections.",
			objParams([]string{"action"}, map[string]any{
				"action": map[string]any{"type": "string", "enum": []string{"list", "initiate", "status"}},
				"app":    strProp("App slug for initiate/status."),
			})},
		&brokerTool{client, BrokerMultiExecute,
			"Execute one or more discovered integration tools with concrete arguments.",
			objParams([]string{"tool_calls"}, map[string]any{
				"tool_calls": map[string]any{
					"type":        "array",
					"description": "Calls to run, each {tool_name, arguments}.",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"tool_name": strProp("Discovered tool name."),
							"arguments": map[string]any{"type": "object"},
						},
						"required": []string{"tool_name"},
					},
				},
			})},
		&brokerTool{client, BrokerRemoteWorkbench,
			"Operate the broker-hosted workbench for long-running integration jobs.",
			objParams([]string{"action"}, map[string]any{
				"action":  strProp("Workbench action."),
				"payload": map[string]any{"type": "object"},
			})},
		&brokerTool{client, BrokerRemoteBash,
			"Run a shell command on the broker-hosted workbench.",
			objParams([]string{"command"}, map[string]any{
				"command": strProp("Shell command."),
				"timeout": numProp("Seconds before the command is killed."),
			})},
	}
}
