package infra

import (
	"strings"
	"time"
)

// ToolClass buckets tools by the timeout budget they get.
type ToolClass string

const (
	ClassMetaBroker  ToolClass = "meta_broker"
	ClassIntegration ToolClass = "integration"
	ClassLLMCall     ToolClass = "llm_call"
	ClassDefault     ToolClass = "default"
)

// Budget returns the execution timeout for a tool class.
func (c ToolClass) Budget() time.Duration {
	switch c {
	case ClassMetaBroker:
		return 45 * time.Second
	case ClassIntegration:
		return 20 * time.Second
	case ClassLLMCall:
		return 90 * time.Second
	default:
		return 30 * time.Second
	}
}

// integrationPrefixes mark vendor-namespaced integration tools.
var integrationPrefixes = []string{
	"GMAIL_", "GOOGLECALENDAR_", "GOOGLEDRIVE_", "GOOGLEDOCS_", "GOOGLESHEETS_",
	"GITHUB_", "LINEAR_", "NOTION_", "JIRA_", "HUBSPOT_", "SLACK_",
}

// brokerTools are the discovery and execution surface of the meta-broker.
var brokerTools = map[string]bool{
	"SEARCH_TOOLS":       true,
	"MANAGE_CONNECTIONS": true,
	"MULTI_EXECUTE_TOOL": true,
	"REMOTE_WORKBENCH":   true,
	"REMOTE_BASH":        true,
}

// ClassifyTool maps a tool name to its class by name prefix.
func ClassifyTool(name string) ToolClass {
	upper := strings.ToUpper(name)
	if strings.HasPrefix(upper, "COMPOSIO_") || brokerTools[upper] {
		return ClassMetaBroker
	}
	for _, p := range integrationPrefixes {
		if strings.HasPrefix(upper, p) {
			return ClassIntegration
		}
	}
	if upper == "LLM_CALL" || strings.HasPrefix(upper, "LLM_") {
		return ClassLLMCall
	}
	return ClassDefault
}

// ServiceForTool derives the circuit-breaker service key for a tool name: the
// vendor prefix for integrations, the class name otherwise.
func ServiceForTool(name string) string {
	upper := strings.ToUpper(name)
	for _, p := range integrationPrefixes {
		if strings.HasPrefix(upper, p) {
			return strings.ToLower(strings.TrimSuffix(p, "_"))
		}
	}
	return string(ClassifyTool(name))
}
