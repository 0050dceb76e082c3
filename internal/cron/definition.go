// Package cron discovers per-workspace recurring jobs and fires them on
// schedule, running either a script or a full agent invocation.
package cron

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/lucyhq/lucy/internal/workspace"
)

// TaskFile is the definition filename inside a cron directory.
const TaskFile = "task.json"

// LearningsFile holds accumulated guidance a cron feeds into its instruction.
const LearningsFile = "LEARNINGS.md"

// LogFile is the append-only execution log.
const LogFile = "execution.log"

// Execution statuses written to the log.
const (
	StatusDelivered = "delivered"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// Delivery modes.
const (
	DeliverChannel = "channel"
	DeliverThread  = "thread"
	DeliverDM      = "dm"
	DeliverLogOnly = "log_only"
)

// Definition is one cron's task.json.
type Definition struct {
	Title          string `json:"title"`
	Description    string `json:"description,omitempty"`
	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone,omitempty"`
	// Type selects the execution mode: "agent" (default) or "script".
	Type       string `json:"type,omitempty"`
	ScriptPath string `json:"script_path,omitempty"`
	Channel    string `json:"channel,omitempty"`
	// User is the DM recipient for delivery_mode "dm".
	User string `json:"user,omitempty"`
	// DeliveryMode: "channel" (default), "thread" to reply under the cron's
	// last delivery, "dm" to message User directly, or "log_only" to record
	// the run without posting.
	DeliveryMode string `json:"delivery_mode,omitempty"`

	ConditionScriptPath string `json:"condition_script_path,omitempty"`
	// DependsOn names another cron in this workspace whose latest run must
	// have DependsOnStatus before this one fires.
	DependsOn       string `json:"depends_on,omitempty"`
	DependsOnStatus string `json:"depends_on_status,omitempty"`

	MaxRuns         int  `json:"max_runs,omitempty"`
	MaxRetries      int  `json:"max_retries,omitempty"`
	NotifyOnFailure bool `json:"notify_on_failure,omitempty"`

	// Slug and WorkspaceID are derived from the directory, not the file.
	Slug        string `json:"-"`
	WorkspaceID string `json:"-"`
}

// ParseDefinition decodes and validates a task.json body.
func ParseDefinition(data []byte, workspaceID, slug string) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("cron %s/%s: parse task.json: %w", workspaceID, slug, err)
	}
	def.Slug = slug
	def.WorkspaceID = workspaceID
	if def.Type == "" {
		def.Type = "agent"
	}
	if def.DependsOnStatus == "" {
		def.DependsOnStatus = StatusDelivered
	}
	if err := def.validate(); err != nil {
		return nil, fmt.Errorf("cron %s/%s: %w", workspaceID, slug, err)
	}
	return &def, nil
}

func (d *Definition) validate() error {
	if d.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !gronx.New().IsValid(d.CronExpression) {
		return fmt.Errorf("invalid cron expression %q", d.CronExpression)
	}
	switch d.Type {
	case "agent":
	case "script":
		if d.ScriptPath == "" {
			return fmt.Errorf("script crons need script_path")
		}
	default:
		return fmt.Errorf("unknown type %q", d.Type)
	}
	switch d.DeliveryMode {
	case "", DeliverChannel, DeliverThread, DeliverLogOnly:
	case DeliverDM:
		if d.User == "" {
			return fmt.Errorf("dm delivery needs user")
		}
	default:
		return fmt.Errorf("unknown delivery_mode %q", d.DeliveryMode)
	}
	if d.Timezone != "" {
		if _, err := time.LoadLocation(d.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q", d.Timezone)
		}
	}
	return nil
}

// Location resolves the cron's timezone, defaulting to UTC.
func (d *Definition) Location() *time.Location {
	if d.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NextFire computes the next fire time strictly after ref.
func (d *Definition) NextFire(ref time.Time) (time.Time, error) {
	next, err := gronx.NextTickAfter(d.CronExpression, ref.In(d.Location()), false)
	if err != nil {
		return time.Time{}, fmt.Errorf("cron %s/%s: next fire: %w", d.WorkspaceID, d.Slug, err)
	}
	return next, nil
}

// Dir is the cron's workspace-relative directory.
func (d *Definition) Dir() string { return "crons/" + d.Slug }

// LatestStatus reads the status of the most recent execution-log entry;
// empty when the cron never ran.
func LatestStatus(store *workspace.Store, slug string) string {
	text, err := store.Read("crons/" + slug + "/" + LogFile)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "## ") {
			continue
		}
		if j := strings.Index(line, "status: "); j >= 0 {
			return strings.TrimSuffix(strings.TrimSpace(line[j+len("status: "):]), ")")
		}
	}
	return ""
}

// DeliveredCount counts execution-log entries that actually delivered;
// skipped and failed runs never count toward max_runs.
func DeliveredCount(store *workspace.Store, slug string) int {
	text, err := store.Read("crons/" + slug + "/" + LogFile)
	if err != nil {
		return 0
	}
	n := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "## ") {
			continue
		}
		if strings.Contains(line, "status: "+StatusDelivered) {
			n++
		}
	}
	return n
}

// AppendLogEntry records one execution: "## {iso} (elapsed: Xms, status: S)".
func AppendLogEntry(store *workspace.Store, slug string, at time.Time, elapsed time.Duration, status string) error {
	entry := fmt.Sprintf("## %s (elapsed: %dms, status: %s)\n",
		at.UTC().Format(time.RFC3339), elapsed.Milliseconds(), status)
	return store.Append("crons/"+slug+"/"+LogFile, entry)
}
