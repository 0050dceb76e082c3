package cron

import (
	"strings"
	"testing"
	"time"

	"github.com/lucyhq/lucy/internal/workspace"
)

func TestParseDefinition(t *testing.T) {
	data := []byte(`{
		"title": "Daily standup digest",
		"description": "Summarize yesterday's activity",
		"cron_expression": "0 9 * * 1-5",
		"timezone": "America/Los_Angeles",
		"channel": "C123",
		"max_retries": 2
	}`)
	def, err := ParseDefinition(data, "T1", "standup")
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	if def.Slug != "standup" || def.WorkspaceID != "T1" {
		t.Errorf("slug/workspace = %q/%q", def.Slug, def.WorkspaceID)
	}
	if def.Type != "agent" {
		t.Errorf("default type = %q, want agent", def.Type)
	}
	if def.DependsOnStatus != StatusDelivered {
		t.Errorf("default depends_on_status = %q", def.DependsOnStatus)
	}
	if def.Location().String() != "America/Los_Angeles" {
		t.Errorf("location = %v", def.Location())
	}
}

func TestParseDefinitionRejects(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"missing title", `{"cron_expression": "* * * * *"}`},
		{"bad expression", `{"title": "x", "cron_expression": "not a cron"}`},
		{"script without path", `{"title": "x", "cron_expression": "* * * * *", "type": "script"}`},
		{"bad timezone", `{"title": "x", "cron_expression": "* * * * *", "timezone": "Mars/Olympus"}`},
		{"malformed json", `{"title":`},
		{"dm without user", `{"title": "x", "cron_expression": "* * * * *", "delivery_mode": "dm"}`},
		{"unknown delivery mode", `{"title": "x", "cron_expression": "* * * * *", "delivery_mode": "carrier_pigeon"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseDefinition([]byte(tc.json), "T1", "bad"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNextFire(t *testing.T) {
	def, err := ParseDefinition([]byte(`{"title": "x", "cron_expression": "0 9 * * *", "timezone": "UTC"}`), "T1", "x")
	if err != nil {
		t.Fatal(err)
	}
	ref := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	next, err := def.NextFire(ref)
	if err != nil {
		t.Fatalf("NextFire: %v", err)
	}
	want := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestExecutionLogRoundTrip(t *testing.T) {
	store := workspace.NewStore(t.TempDir(), "T1")
	if err := store.EnsureStructure(); err != nil {
		t.Fatal(err)
	}

	if got := LatestStatus(store, "digest"); got != "" {
		t.Errorf("LatestStatus with no log = %q", got)
	}
	if got := DeliveredCount(store, "digest"); got != 0 {
		t.Errorf("DeliveredCount with no log = %d", got)
	}

	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if err := AppendLogEntry(store, "digest", at, 1500*time.Millisecond, StatusDelivered); err != nil {
		t.Fatal(err)
	}
	if err := AppendLogEntry(store, "digest", at.Add(24*time.Hour), 200*time.Millisecond, StatusSkipped); err != nil {
		t.Fatal(err)
	}

	log, err := store.Read("crons/digest/" + LogFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(log, "## 2026-03-10T09:00:00Z (elapsed: 1500ms, status: delivered)") {
		t.Errorf("log entry format wrong:\n%s", log)
	}
	if got := DeliveredCount(store, "digest"); got != 1 {
		t.Errorf("DeliveredCount = %d, want 1 (skipped runs never count)", got)
	}
	if got := LatestStatus(store, "digest"); got != StatusSkipped {
		t.Errorf("LatestStatus = %q, want skipped", got)
	}
	if err := AppendLogEntry(store, "digest", at.Add(48*time.Hour), 90*time.Millisecond, StatusFailed); err != nil {
		t.Fatal(err)
	}
	if got := DeliveredCount(store, "digest"); got != 1 {
		t.Errorf("DeliveredCount after a failure = %d, want 1", got)
	}
}
