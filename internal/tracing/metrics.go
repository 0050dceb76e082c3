package tracing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the process-wide Prometheus collectors.
var (
	ToolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lucy_tool_calls_total",
		Help: "Tool executions by tool name and outcome.",
	}, []string{"tool", "status"})

	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "lucy_tool_duration_seconds",
		Help:    "Tool execution latency.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"class"})

	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lucy_llm_requests_total",
		Help: "Model-router requests by model and outcome.",
	}, []string{"model", "status"})

	Tokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lucy_tokens_total",
		Help: "Token usage by kind (prompt, completion).",
	}, []string{"kind"})

	AgentRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lucy_agent_runs_total",
		Help: "Agent runs by terminal state.",
	}, []string{"state"})

	CronExecutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lucy_cron_executions_total",
		Help: "Cron executions by status (delivered, skipped, failed).",
	}, []string{"status"})
)
