package workspace

import (
	"errors"
	"fmt"
	"path"
	"time"
)

// AppendActivity appends one markdown entry to the per-UTC-date activity log.
func (s *Store) AppendActivity(entry string) error {
	now := time.Now().UTC()
	rel := path.Join("logs", now.Format("2006-01-02")+".md")
	line := fmt.Sprintf("- **%s** %s\n", now.Format("15:04:05"), entry)
	return s.Append(rel, line)
}

// ReadActivity returns the activity log for the given UTC day, or "" when the
// day has no entries.
func (s *Store) ReadActivity(day time.Time) (string, error) {
	text, err := s.Read(path.Join("logs", day.UTC().Format("2006-01-02")+".md"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return text, nil
}

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
