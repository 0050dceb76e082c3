package cron

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucyhq/lucy/internal/workspace"
)

type fakeRunner struct {
	response     string
	failures     int
	calls        int
	instructions []string
}

func (r *fakeRunner) RunInstruction(_ context.Context, _, instruction, _ string) (string, error) {
	r.calls++
	r.instructions = append(r.instructions, instruction)
	if r.failures > 0 {
		r.failures--
		return "", errors.New("model unavailable")
	}
	return r.response, nil
}

type post struct {
	channel  string
	text     string
	blocks   json.RawMessage
	threadTS string
}

type fakeDeliverer struct {
	posts []post
	dms   []post
}

func (d *fakeDeliverer) Post(_ context.Context, channelID, text string, blocks json.RawMessage, threadTS string) error {
	d.posts = append(d.posts, post{channelID, text, blocks, threadTS})
	return nil
}

func (d *fakeDeliverer) PostDM(_ context.Context, userID, text string, blocks json.RawMessage) error {
	d.dms = append(d.dms, post{userID, text, blocks, ""})
	return nil
}

func newTestScheduler(t *testing.T, runner *fakeRunner, deliver *fakeDeliverer) (*Scheduler, *workspace.Store) {
	t.Helper()
	manager := workspace.NewManager(t.TempDir(), "")
	store, err := manager.Get("T1")
	if err != nil {
		t.Fatal(err)
	}
	s := NewScheduler(manager, runner, deliver, SchedulerConfig{RetryBaseDelay: time.Millisecond})
	return s, store
}

func testDef(t *testing.T, store *workspace.Store, slug, raw string) *Definition {
	t.Helper()
	if err := store.Write("crons/"+slug+"/"+TaskFile, raw); err != nil {
		t.Fatal(err)
	}
	def, err := ParseDefinition([]byte(raw), "T1", slug)
	if err != nil {
		t.Fatal(err)
	}
	return def
}

func writeScript(t *testing.T, store *workspace.Store, rel, body string) {
	t.Helper()
	path := filepath.Join(store.Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestFireDeliversAndLogs(t *testing.T) {
	runner := &fakeRunner{response: "Here is the digest."}
	deliver := &fakeDeliverer{}
	s, store := newTestScheduler(t, runner, deliver)
	def := testDef(t, store, "digest",
		`{"title": "Daily digest", "description": "Summarize activity", "cron_expression": "0 9 * * *", "channel": "C123"}`)

	s.fire(context.Background(), def, time.Now())

	if len(deliver.posts) != 1 {
		t.Fatalf("posts = %d, want 1", len(deliver.posts))
	}
	if deliver.posts[0].channel != "C123" || deliver.posts[0].text != "Here is the digest." {
		t.Errorf("post = %+v", deliver.posts[0])
	}
	if got := LatestStatus(store, "digest"); got != StatusDelivered {
		t.Errorf("status = %q, want delivered", got)
	}
	if len(runner.instructions) != 1 || !strings.Contains(runner.instructions[0], "Daily digest") {
		t.Errorf("instruction = %v", runner.instructions)
	}
}

func TestFireSkipResponseSuppressed(t *testing.T) {
	for _, resp := range []string{"SKIP", "skip", "  Skip  ", ""} {
		runner := &fakeRunner{response: resp}
		deliver := &fakeDeliverer{}
		s, store := newTestScheduler(t, runner, deliver)
		def := testDef(t, store, "quiet",
			`{"title": "Quiet check", "cron_expression": "0 9 * * *", "channel": "C123"}`)

		s.fire(context.Background(), def, time.Now())

		if len(deliver.posts) != 0 {
			t.Errorf("response %q: delivered anyway", resp)
		}
		if got := LatestStatus(store, "quiet"); got != StatusSkipped {
			t.Errorf("response %q: status = %q, want skipped", resp, got)
		}
	}
}

func TestFireConditionScriptGates(t *testing.T) {
	runner := &fakeRunner{response: "never seen"}
	deliver := &fakeDeliverer{}
	s, store := newTestScheduler(t, runner, deliver)
	writeScript(t, store, "scripts/gate.sh", "exit 1")
	def := testDef(t, store, "gated",
		`{"title": "Gated", "cron_expression": "0 9 * * *", "channel": "C123", "condition_script_path": "scripts/gate.sh"}`)

	s.fire(context.Background(), def, time.Now())

	if runner.calls != 0 {
		t.Errorf("runner called %d times despite failed condition", runner.calls)
	}
	if got := LatestStatus(store, "gated"); got != StatusSkipped {
		t.Errorf("status = %q, want skipped", got)
	}
}

func TestFireConditionScriptPasses(t *testing.T) {
	runner := &fakeRunner{response: "go"}
	deliver := &fakeDeliverer{}
	s, store := newTestScheduler(t, runner, deliver)
	writeScript(t, store, "scripts/gate.sh", "exit 0")
	def := testDef(t, store, "open",
		`{"title": "Open", "cron_expression": "0 9 * * *", "channel": "C123", "condition_script_path": "scripts/gate.sh"}`)

	s.fire(context.Background(), def, time.Now())

	if runner.calls != 1 {
		t.Errorf("runner calls = %d, want 1", runner.calls)
	}
}

func TestFireDependencyGates(t *testing.T) {
	runner := &fakeRunner{response: "report"}
	deliver := &fakeDeliverer{}
	s, store := newTestScheduler(t, runner, deliver)
	def := testDef(t, store, "followup",
		`{"title": "Followup", "cron_expression": "0 10 * * *", "channel": "C123", "depends_on": "digest"}`)

	// Upstream never ran: followup is skipped.
	s.fire(context.Background(), def, time.Now())
	if runner.calls != 0 {
		t.Fatal("ran despite unmet dependency")
	}
	if got := LatestStatus(store, "followup"); got != StatusSkipped {
		t.Errorf("status = %q, want skipped", got)
	}

	// Upstream delivered: followup runs.
	if err := AppendLogEntry(store, "digest", time.Now(), time.Second, StatusDelivered); err != nil {
		t.Fatal(err)
	}
	s.fire(context.Background(), def, time.Now())
	if runner.calls != 1 {
		t.Errorf("runner calls = %d after dependency met, want 1", runner.calls)
	}
}

func TestFireScriptMode(t *testing.T) {
	runner := &fakeRunner{}
	deliver := &fakeDeliverer{}
	s, store := newTestScheduler(t, runner, deliver)
	writeScript(t, store, "scripts/report.sh", `echo "workspace is $WORKSPACE_ID"`)
	def := testDef(t, store, "script-job",
		`{"title": "Script job", "cron_expression": "0 9 * * *", "type": "script", "script_path": "scripts/report.sh", "channel": "C123"}`)

	s.fire(context.Background(), def, time.Now())

	if runner.calls != 0 {
		t.Error("agent runner invoked for script cron")
	}
	if len(deliver.posts) != 1 || !strings.Contains(deliver.posts[0].text, "workspace is T1") {
		t.Fatalf("posts = %+v", deliver.posts)
	}
	if got := LatestStatus(store, "script-job"); got != StatusDelivered {
		t.Errorf("status = %q", got)
	}
}

func TestFireRetriesThenSucceeds(t *testing.T) {
	runner := &fakeRunner{response: "eventually", failures: 1}
	deliver := &fakeDeliverer{}
	s, store := newTestScheduler(t, runner, deliver)
	def := testDef(t, store, "flaky",
		`{"title": "Flaky", "cron_expression": "0 9 * * *", "channel": "C123", "max_retries": 2}`)

	s.fire(context.Background(), def, time.Now())

	if runner.calls != 2 {
		t.Errorf("runner calls = %d, want 2", runner.calls)
	}
	if got := LatestStatus(store, "flaky"); got != StatusDelivered {
		t.Errorf("status = %q, want delivered", got)
	}
}

func TestFireExhaustedRetriesNotifies(t *testing.T) {
	runner := &fakeRunner{failures: 100}
	deliver := &fakeDeliverer{}
	s, store := newTestScheduler(t, runner, deliver)
	def := testDef(t, store, "broken",
		`{"title": "Broken", "cron_expression": "0 9 * * *", "channel": "C123", "max_retries": 1, "notify_on_failure": true}`)

	s.fire(context.Background(), def, time.Now())

	if runner.calls != 2 {
		t.Errorf("runner calls = %d, want 2", runner.calls)
	}
	if got := LatestStatus(store, "broken"); got != StatusFailed {
		t.Errorf("status = %q, want failed", got)
	}
	if len(deliver.posts) != 1 || !strings.Contains(deliver.posts[0].text, `"Broken" failed`) {
		t.Fatalf("failure notice = %+v", deliver.posts)
	}
}

func TestFireBlocksDelivery(t *testing.T) {
	runner := &fakeRunner{response: `{"blocks": [{"type": "section", "text": {"type": "mrkdwn", "text": "hi"}}]}`}
	deliver := &fakeDeliverer{}
	s, store := newTestScheduler(t, runner, deliver)
	def := testDef(t, store, "blocky",
		`{"title": "Blocky", "cron_expression": "0 9 * * *", "channel": "C123"}`)

	s.fire(context.Background(), def, time.Now())

	if len(deliver.posts) != 1 {
		t.Fatalf("posts = %d", len(deliver.posts))
	}
	p := deliver.posts[0]
	if p.text != "" || len(p.blocks) == 0 || !strings.Contains(string(p.blocks), "section") {
		t.Errorf("post = %+v", p)
	}
}

func TestFireMaxRunsSelfDeletes(t *testing.T) {
	runner := &fakeRunner{response: "one and done"}
	deliver := &fakeDeliverer{}
	s, store := newTestScheduler(t, runner, deliver)
	def := testDef(t, store, "once",
		`{"title": "Once", "cron_expression": "0 9 * * *", "channel": "C123", "max_runs": 1}`)
	s.mu.Lock()
	s.defs = []*Definition{def}
	s.mu.Unlock()

	s.fire(context.Background(), def, time.Now())

	if store.Exists("crons/once/" + TaskFile) {
		t.Error("task.json survived max_runs")
	}
	s.mu.Lock()
	remaining := len(s.defs)
	s.mu.Unlock()
	if remaining != 0 {
		t.Errorf("definition still scheduled after self-delete")
	}
}

func TestFireLearningsInInstruction(t *testing.T) {
	runner := &fakeRunner{response: "ok"}
	deliver := &fakeDeliverer{}
	s, store := newTestScheduler(t, runner, deliver)
	def := testDef(t, store, "learned",
		`{"title": "Learned", "cron_expression": "0 9 * * *", "channel": "C123"}`)
	if err := store.Write("crons/learned/"+LearningsFile, "Prefer bullet lists."); err != nil {
		t.Fatal(err)
	}

	s.fire(context.Background(), def, time.Now())

	if len(runner.instructions) != 1 || !strings.Contains(runner.instructions[0], "Prefer bullet lists.") {
		t.Errorf("instruction missing learnings: %v", runner.instructions)
	}
}

func TestFireMaxRunsCountsOnlyDeliveries(t *testing.T) {
	// Skipped and failed runs must not burn max_runs budget.
	runner := &fakeRunner{response: "SKIP"}
	deliver := &fakeDeliverer{}
	s, store := newTestScheduler(t, runner, deliver)
	def := testDef(t, store, "sticky",
		`{"title": "Sticky", "cron_expression": "0 9 * * *", "channel": "C123", "max_runs": 1}`)
	s.mu.Lock()
	s.defs = []*Definition{def}
	s.mu.Unlock()

	s.fire(context.Background(), def, time.Now())
	if !store.Exists("crons/sticky/" + TaskFile) {
		t.Fatal("task.json deleted after a skipped run")
	}

	runner.response = "report"
	runner.failures = 100
	s.fire(context.Background(), def, time.Now())
	if got := LatestStatus(store, "sticky"); got != StatusFailed {
		t.Fatalf("status = %q, want failed", got)
	}
	if !store.Exists("crons/sticky/" + TaskFile) {
		t.Fatal("task.json deleted after a failed run")
	}

	runner.failures = 0
	s.fire(context.Background(), def, time.Now())
	if store.Exists("crons/sticky/" + TaskFile) {
		t.Error("task.json survived the delivered run")
	}
}

func TestFireDMDelivery(t *testing.T) {
	runner := &fakeRunner{response: "your eyes only"}
	deliver := &fakeDeliverer{}
	s, store := newTestScheduler(t, runner, deliver)
	def := testDef(t, store, "private",
		`{"title": "Private", "cron_expression": "0 9 * * *", "delivery_mode": "dm", "user": "U777"}`)

	s.fire(context.Background(), def, time.Now())

	if len(deliver.posts) != 0 {
		t.Errorf("channel posts = %+v, want none", deliver.posts)
	}
	if len(deliver.dms) != 1 || deliver.dms[0].channel != "U777" || deliver.dms[0].text != "your eyes only" {
		t.Fatalf("dms = %+v", deliver.dms)
	}
	if got := LatestStatus(store, "private"); got != StatusDelivered {
		t.Errorf("status = %q, want delivered", got)
	}
}

func TestFireLogOnlyDelivery(t *testing.T) {
	runner := &fakeRunner{response: "recorded, not posted"}
	deliver := &fakeDeliverer{}
	s, store := newTestScheduler(t, runner, deliver)
	def := testDef(t, store, "silent",
		`{"title": "Silent", "cron_expression": "0 9 * * *", "channel": "C123", "delivery_mode": "log_only"}`)

	s.fire(context.Background(), def, time.Now())

	if len(deliver.posts) != 0 || len(deliver.dms) != 0 {
		t.Errorf("log_only posted: posts=%+v dms=%+v", deliver.posts, deliver.dms)
	}
	if got := LatestStatus(store, "silent"); got != StatusDelivered {
		t.Errorf("status = %q, want delivered", got)
	}
}
