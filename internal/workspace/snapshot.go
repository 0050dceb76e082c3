package workspace

import (
	"encoding/json"
	"fmt"
	"path"
	"time"
)

// Snapshot is one dated capture of external data for delta computation.
type Snapshot struct {
	Category   string          `json:"category"`
	CapturedAt time.Time       `json:"captured_at"`
	Data       json.RawMessage `json:"data"`
}

func snapshotPath(category string, day time.Time) string {
	return path.Join("data", category, day.UTC().Format("2006-01-02")+".json")
}

// SaveSnapshot writes data under data/{category}/YYYY-MM-DD.json.
func (s *Store) SaveSnapshot(category string, day time.Time, data json.RawMessage) error {
	snap := Snapshot{Category: category, CapturedAt: time.Now().UTC(), Data: data}
	encoded, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.Write(snapshotPath(category, day), string(encoded))
}

// LoadSnapshot reads the snapshot for the given day. ErrNotFound when absent.
func (s *Store) LoadSnapshot(category string, day time.Time) (*Snapshot, error) {
	text, err := s.Read(snapshotPath(category, day))
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(text), &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &snap, nil
}

// SnapshotDelta pairs today's snapshot with the one from daysBack days ago.
// Either side may be nil when the file is missing.
type SnapshotDelta struct {
	Current  *Snapshot
	Previous *Snapshot
}

// DeltaDays loads the current snapshot and the one N days back.
func (s *Store) DeltaDays(category string, daysBack int) (*SnapshotDelta, error) {
	now := time.Now().UTC()
	current, err := s.LoadSnapshot(category, now)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	previous, err := s.LoadSnapshot(category, now.AddDate(0, 0, -daysBack))
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	return &SnapshotDelta{Current: current, Previous: previous}, nil
}
