package tools

import (
	"context"
	"fmt"
	"testing"
)

type fakeSearchBackend struct {
	lastCount int
}

func (f *fakeSearchBackend) Name() string { return "fake" }

func (f *fakeSearchBackend) Search(_ context.Context, query string, count int) ([]SearchHit, error) {
	f.lastCount = count
	hits := make([]SearchHit, count)
	for i := range hits {
		hits[i] = SearchHit{Title: fmt.Sprintf("%s %d", query, i), URL: "https://example.com"}
	}
	return hits, nil
}

func TestWebSearchDefaultCount(t *testing.T) {
	backend := &fakeSearchBackend{}
	tool := NewWebSearchTool("", 3)
	tool.backends = []SearchBackend{backend}

	res := tool.Execute(context.Background(), map[string]any{"query": "golang"})
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.ForLLM)
	}
	if backend.lastCount != 3 {
		t.Errorf("default count = %d, want 3", backend.lastCount)
	}

	// Explicit count still wins over the configured default.
	tool.Execute(context.Background(), map[string]any{"query": "rust", "count": float64(7)})
	if backend.lastCount != 7 {
		t.Errorf("explicit count = %d, want 7", backend.lastCount)
	}
}

func TestWebSearchDefaultCountFallback(t *testing.T) {
	tool := NewWebSearchTool("", 0)
	if tool.defaultCount != searchDefaultCount {
		t.Errorf("defaultCount = %d, want %d", tool.defaultCount, searchDefaultCount)
	}
	tool = NewWebSearchTool("", searchMaxCount+5)
	if tool.defaultCount != searchDefaultCount {
		t.Errorf("out-of-range defaultCount = %d, want %d", tool.defaultCount, searchDefaultCount)
	}
}

func TestCleanDDGURL(t *testing.T) {
	got := cleanDDGURL("//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&rut=abc")
	if got != "https://go.dev/doc/" {
		t.Errorf("cleanDDGURL = %q", got)
	}
	if got := cleanDDGURL("https://go.dev"); got != "https://go.dev" {
		t.Errorf("plain URL rewritten: %q", got)
	}
}
