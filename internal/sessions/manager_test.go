package sessions

import (
	"testing"

	"github.com/lucyhq/lucy/internal/providers"
)

func TestThreadKey(t *testing.T) {
	got := ThreadKey("T1", "C42", "1724668800.000100")
	want := "thread:T1:C42:1724668800.000100"
	if got != want {
		t.Errorf("key = %q, want %q", got, want)
	}
}

func TestAppendHistoryDepth(t *testing.T) {
	m := NewManager("")
	key := ThreadKey("T1", "C1", "100.1")

	if m.Depth(key) != 0 {
		t.Errorf("empty depth = %d", m.Depth(key))
	}
	m.Append(key,
		providers.Message{Role: "user", Content: "hello"},
		providers.Message{Role: "assistant", Content: "hi"},
	)
	if m.Depth(key) != 2 {
		t.Errorf("depth = %d, want 2", m.Depth(key))
	}

	history := m.History(key)
	if len(history) != 2 || history[0].Content != "hello" {
		t.Fatalf("history = %+v", history)
	}
	// Mutating the copy must not touch the stored history.
	history[0].Content = "tampered"
	if m.History(key)[0].Content != "hello" {
		t.Error("History returned a shared slice")
	}
}

func TestTruncate(t *testing.T) {
	m := NewManager("")
	key := ThreadKey("T1", "C1", "100.1")
	for i := 0; i < 10; i++ {
		m.Append(key, providers.Message{Role: "user", Content: "m"})
	}
	m.Truncate(key, 4)
	if got := m.Depth(key); got != 4 {
		t.Errorf("depth after truncate = %d, want 4", got)
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	key := ThreadKey("T1", "C1", "100.1")
	m.Append(key, providers.Message{Role: "user", Content: "persist me"})
	m.AccumulateTokens(key, 120, 40)
	if err := m.Save(key); err != nil {
		t.Fatal(err)
	}

	reloaded := NewManager(dir)
	history := reloaded.History(key)
	if len(history) != 1 || history[0].Content != "persist me" {
		t.Fatalf("reloaded history = %+v", history)
	}
}

func TestReset(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	key := ThreadKey("T1", "C1", "100.1")
	m.Append(key, providers.Message{Role: "user", Content: "x"})
	if err := m.Save(key); err != nil {
		t.Fatal(err)
	}
	m.Reset(key)
	if m.Depth(key) != 0 {
		t.Error("reset left history in memory")
	}
	if len(NewManager(dir).History(key)) != 0 {
		t.Error("reset left history on disk")
	}
}
