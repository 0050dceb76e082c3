package capindex

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "capindex.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func toolSchema(name, desc string, params ...string) json.RawMessage {
	props := map[string]any{}
	for _, p := range params {
		props[p] = map[string]any{"type": "string", "description": p + " value"}
	}
	b, _ := json.Marshal(map[string]any{
		"name":        name,
		"description": desc,
		"parameters":  map[string]any{"type": "object", "properties": props},
	})
	return b
}

func TestAddToolsDedup(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	schemas := []json.RawMessage{
		toolSchema("GMAIL_SEND_EMAIL", "Send an email", "to", "subject", "body"),
		toolSchema("GMAIL_LIST_THREADS", "List email threads", "query"),
	}
	added, err := ix.AddTools(ctx, schemas, "gmail")
	if err != nil {
		t.Fatalf("AddTools: %v", err)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}

	added, err = ix.AddTools(ctx, schemas, "gmail")
	if err != nil {
		t.Fatalf("AddTools again: %v", err)
	}
	if added != 0 {
		t.Errorf("re-add = %d, want 0", added)
	}
	if n, _ := ix.Size(ctx); n != 2 {
		t.Errorf("size = %d, want 2", n)
	}
}

func TestRetrieveRanksByRelevance(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	_, err := ix.AddTools(ctx, []json.RawMessage{
		toolSchema("GMAIL_SEND_EMAIL", "Send an email message to a recipient", "to", "subject"),
		toolSchema("GOOGLECALENDAR_CREATE_EVENT", "Create a calendar event", "title", "start"),
		toolSchema("GITHUB_LIST_ISSUES", "List repository issues", "repo"),
	}, "composio")
	if err != nil {
		t.Fatal(err)
	}

	res, err := ix.Retrieve(ctx, "send an email to the team", 2, nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Tools) == 0 {
		t.Fatal("no tools retrieved")
	}
	if res.Tools[0].ToolName != "GMAIL_SEND_EMAIL" {
		t.Errorf("top tool = %s, want GMAIL_SEND_EMAIL", res.Tools[0].ToolName)
	}
	if res.TopScore <= 0 {
		t.Errorf("top score = %f, want > 0", res.TopScore)
	}
}

func TestRetrieveFiltersByConnectedApps(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	if _, err := ix.AddTools(ctx, []json.RawMessage{
		toolSchema("GMAIL_SEND_EMAIL", "Send an email", "to"),
	}, "gmail"); err != nil {
		t.Fatal(err)
	}
	if _, err := ix.AddTools(ctx, []json.RawMessage{
		toolSchema("OUTLOOK_SEND_EMAIL", "Send an email", "to"),
	}, "outlook"); err != nil {
		t.Fatal(err)
	}

	res, err := ix.Retrieve(ctx, "send email", 10, []string{"gmail"})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, tool := range res.Tools {
		if tool.AppSlug != "gmail" {
			t.Errorf("retrieved %s from unconnected app %s", tool.ToolName, tool.AppSlug)
		}
	}
	if len(res.Tools) != 1 {
		t.Errorf("tool count = %d, want 1", len(res.Tools))
	}
}

func TestRecordUsage(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	if _, err := ix.AddTools(ctx, []json.RawMessage{
		toolSchema("GMAIL_SEND_EMAIL", "Send an email", "to"),
	}, "gmail"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := ix.RecordUsage(ctx, "GMAIL_SEND_EMAIL"); err != nil {
			t.Fatal(err)
		}
	}
	res, err := ix.Retrieve(ctx, "send email", 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Tools[0].UseCount != 3 {
		t.Errorf("use_count = %d, want 3", res.Tools[0].UseCount)
	}
}

func TestStaleFlag(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	if ix.IsStale(ctx) {
		t.Error("fresh index reports stale")
	}
	if err := ix.MarkStale(ctx, true); err != nil {
		t.Fatal(err)
	}
	if !ix.IsStale(ctx) {
		t.Error("marked index not stale")
	}
	if err := ix.MarkStale(ctx, false); err != nil {
		t.Fatal(err)
	}
	if ix.IsStale(ctx) {
		t.Error("cleared index still stale")
	}
}

func TestFTSQuery(t *testing.T) {
	tests := []struct{ in, want string }{
		{"book a meeting", `"book" OR "meeting"`},
		{"what's on my calendar?", `"what" OR "on" OR "my" OR "calendar"`},
		{"", ""},
		{"send send send", `"send"`},
	}
	for _, tt := range tests {
		if got := ftsQuery(tt.in); got != tt.want {
			t.Errorf("ftsQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRetrieverBelowFloorReturnsNil(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	r := NewRetriever(ix)

	if _, err := ix.AddTools(ctx, []json.RawMessage{
		toolSchema("GMAIL_SEND_EMAIL", "Send an email", "to"),
	}, "gmail"); err != nil {
		t.Fatal(err)
	}

	res, err := r.Retrieve(ctx, "send email", 5, nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res != nil {
		t.Errorf("retriever returned %+v below the index floor, want nil", res)
	}
}

func TestRetrieverAboveFloor(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	r := NewRetriever(ix)

	var schemas []json.RawMessage
	for i := 0; i < MinIndexedTools; i++ {
		schemas = append(schemas, toolSchema(
			fmt.Sprintf("TOOL_%d_SEARCH", i), fmt.Sprintf("Search resource number %d", i), "query"))
	}
	if _, err := ix.AddTools(ctx, schemas, "composio"); err != nil {
		t.Fatal(err)
	}

	res, err := r.Retrieve(ctx, "search resource", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res == nil || len(res.Tools) == 0 {
		t.Fatal("expected retrieval above the index floor")
	}
}

func TestPopulateSerialized(t *testing.T) {
	ix := openTestIndex(t)
	r := NewRetriever(ix)
	ctx := context.Background()

	fetchStarted := make(chan struct{})
	release := make(chan struct{})
	var fetches int
	var mu sync.Mutex

	slowFetch := func(context.Context) ([]json.RawMessage, error) {
		mu.Lock()
		fetches++
		mu.Unlock()
		close(fetchStarted)
		<-release
		return []json.RawMessage{toolSchema("GMAIL_SEND_EMAIL", "Send an email", "to")}, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := r.Populate(ctx, "gmail", slowFetch); err != nil {
			t.Errorf("Populate: %v", err)
		}
	}()

	<-fetchStarted
	added, err := r.Populate(ctx, "gmail", func(context.Context) ([]json.RawMessage, error) {
		t.Error("concurrent populate re-fetched")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("concurrent Populate: %v", err)
	}
	if added != 0 {
		t.Errorf("concurrent Populate added = %d, want 0", added)
	}

	close(release)
	<-done

	mu.Lock()
	if fetches != 1 {
		t.Errorf("fetch count = %d, want 1", fetches)
	}
	mu.Unlock()
}
