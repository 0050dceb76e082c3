// Package sessions keeps per-thread conversation history so follow-up
// messages in a Slack thread carry their context into the agent loop.
package sessions

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lucyhq/lucy/internal/providers"
)

// Thread stores conversation history for one workspace thread.
type Thread struct {
	Key      string              `json:"key"` // thread:{workspace}:{channel}:{thread_ts}
	Messages []providers.Message `json:"messages"`
	Created  time.Time           `json:"created"`
	Updated  time.Time           `json:"updated"`

	InputTokens  int64 `json:"input_tokens,omitempty"`
	OutputTokens int64 `json:"output_tokens,omitempty"`
}

// Manager handles thread lifecycle, persistence, and lookup.
type Manager struct {
	threads map[string]*Thread
	mu      sync.RWMutex
	storage string
}

func NewManager(storage string) *Manager {
	m := &Manager{
		threads: make(map[string]*Thread),
		storage: storage,
	}
	if storage != "" {
		os.MkdirAll(storage, 0o755)
		m.loadAll()
	}
	return m
}

// ThreadKey builds the composite key for a thread. Top-level messages use
// their own ts as the thread root.
func ThreadKey(workspaceID, channelID, threadTS string) string {
	return fmt.Sprintf("thread:%s:%s:%s", workspaceID, channelID, threadTS)
}

// Append adds messages to a thread, creating it on first use.
func (m *Manager) Append(key string, msgs ...providers.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[key]
	if !ok {
		t = &Thread{Key: key, Created: time.Now()}
		m.threads[key] = t
	}
	t.Messages = append(t.Messages, msgs...)
	t.Updated = time.Now()
}

// History returns a copy of the thread's messages, oldest first.
func (m *Manager) History(key string) []providers.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[key]
	if !ok {
		return nil
	}
	msgs := make([]providers.Message, len(t.Messages))
	copy(msgs, t.Messages)
	return msgs
}

// Depth is the number of stored messages; the fast path uses it to tell
// top-level messages from thread replies.
func (m *Manager) Depth(key string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[key]
	if !ok {
		return 0
	}
	return len(t.Messages)
}

// AccumulateTokens adds a run's usage to the thread totals.
func (m *Manager) AccumulateTokens(key string, input, output int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.threads[key]; ok {
		t.InputTokens += input
		t.OutputTokens += output
	}
}

// Truncate keeps only the last keepLast messages of a thread.
func (m *Manager) Truncate(key string, keepLast int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[key]
	if !ok || len(t.Messages) <= keepLast {
		return
	}
	t.Messages = append([]providers.Message(nil), t.Messages[len(t.Messages)-keepLast:]...)
	t.Updated = time.Now()
}

// Reset drops a thread's history in memory and on disk.
func (m *Manager) Reset(key string) {
	m.mu.Lock()
	delete(m.threads, key)
	m.mu.Unlock()
	if m.storage != "" {
		os.Remove(filepath.Join(m.storage, sanitizeFilename(key)+".json"))
	}
}

// Save persists one thread to its JSON file.
func (m *Manager) Save(key string) error {
	if m.storage == "" {
		return nil
	}
	m.mu.RLock()
	t, ok := m.threads[key]
	if !ok {
		m.mu.RUnlock()
		return nil
	}
	data, err := json.MarshalIndent(t, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal thread %s: %w", key, err)
	}
	path := filepath.Join(m.storage, sanitizeFilename(key)+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save thread %s: %w", key, err)
	}
	return nil
}

func (m *Manager) loadAll() {
	entries, err := os.ReadDir(m.storage)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.storage, e.Name()))
		if err != nil {
			continue
		}
		var t Thread
		if err := json.Unmarshal(data, &t); err != nil {
			slog.Warn("skipping corrupt thread file", "file", e.Name(), "error", err)
			continue
		}
		if t.Key != "" {
			m.threads[t.Key] = &t
		}
	}
}

// sanitizeFilename makes a thread key safe as a file name.
func sanitizeFilename(key string) string {
	r := strings.NewReplacer(":", "_", "/", "_", "\\", "_", " ", "_")
	return r.Replace(key)
}
