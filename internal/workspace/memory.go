package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	memoryFile = "data/session_memory.json"

	// MaxMemoryFacts bounds session memory; the oldest fact is evicted on
	// insert beyond this.
	MaxMemoryFacts = 50
)

// MemoryFact is one cross-thread fact promoted from chat.
type MemoryFact struct {
	Fact      string    `json:"fact"`
	Source    string    `json:"source"`
	Category  string    `json:"category"` // company | team | general
	Timestamp time.Time `json:"timestamp"`
}

// validMemoryCategories gates Category values on insert.
var validMemoryCategories = map[string]bool{"company": true, "team": true, "general": true}

// ReadMemory loads session memory. Missing file yields an empty list.
func (s *Store) ReadMemory() ([]MemoryFact, error) {
	text, err := s.Read(memoryFile)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var facts []MemoryFact
	if err := json.Unmarshal([]byte(text), &facts); err != nil {
		return nil, fmt.Errorf("parse session memory: %w", err)
	}
	return facts, nil
}

// AddMemory inserts a fact, deduplicated by case-insensitive equality, and
// evicts the oldest entries beyond MaxMemoryFacts. The whole file is
// rewritten on change.
func (s *Store) AddMemory(fact, source, category string) error {
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return fmt.Errorf("empty memory fact")
	}
	if !validMemoryCategories[category] {
		category = "general"
	}

	facts, err := s.ReadMemory()
	if err != nil {
		return err
	}
	lower := strings.ToLower(fact)
	for _, f := range facts {
		if strings.ToLower(f.Fact) == lower {
			return nil
		}
	}
	facts = append(facts, MemoryFact{
		Fact:      fact,
		Source:    source,
		Category:  category,
		Timestamp: time.Now().UTC(),
	})
	if len(facts) > MaxMemoryFacts {
		facts = facts[len(facts)-MaxMemoryFacts:]
	}
	return s.writeMemory(facts)
}

// ForgetMemory removes facts matching the case-insensitive substring and
// returns how many were dropped.
func (s *Store) ForgetMemory(substr string) (int, error) {
	facts, err := s.ReadMemory()
	if err != nil {
		return 0, err
	}
	needle := strings.ToLower(substr)
	kept := facts[:0]
	removed := 0
	for _, f := range facts {
		if strings.Contains(strings.ToLower(f.Fact), needle) {
			removed++
			continue
		}
		kept = append(kept, f)
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, s.writeMemory(kept)
}

func (s *Store) writeMemory(facts []MemoryFact) error {
	data, err := json.MarshalIndent(facts, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session memory: %w", err)
	}
	return s.Write(memoryFile, string(data))
}
