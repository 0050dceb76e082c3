// Package capindex maintains the per-workspace catalog of tool schemas and
// retrieves a top-K subset for a turn via FTS5 BM25 ranking.
package capindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// MinIndexedTools is the floor below which retrieval returns nothing and the
// caller falls back to broker-side discovery.
const MinIndexedTools = 10

// MinRelevanceScore is the BM25 score below which the caller should prefer
// broker discovery over binding the retrieved tools.
const MinRelevanceScore = 0.5

// ToolRecord is one indexed tool schema.
type ToolRecord struct {
	AppSlug  string
	ToolName string
	Schema   json.RawMessage
	UseCount int
}

// Result is a retrieval outcome. TopScore is the best BM25 score in Tools.
type Result struct {
	Tools    []ToolRecord
	TopScore float64
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS tools (
	tool_name  TEXT PRIMARY KEY,
	app_slug   TEXT NOT NULL,
	schema     TEXT NOT NULL,
	use_count  INTEGER NOT NULL DEFAULT 0,
	indexed_at INTEGER NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS tools_fts USING fts5(
	tool_name,
	search_text
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Index is one workspace's tool catalog. Safe for concurrent use; SQLite
// serializes writers.
type Index struct {
	db *sql.DB
}

// Open opens or creates the index database at path.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open capability index: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init capability index schema: %w", err)
	}
	return &Index{db: db}, nil
}

func (ix *Index) Close() error { return ix.db.Close() }

// AddTools indexes the given schemas under appSlug, skipping tool names
// already present. Returns the number actually added.
func (ix *Index) AddTools(ctx context.Context, schemas []json.RawMessage, appSlug string) (int, error) {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("add tools: %w", err)
	}
	defer tx.Rollback()

	added := 0
	now := time.Now().Unix()
	for _, schema := range schemas {
		name, text, err := schemaSearchText(schema)
		if err != nil {
			continue
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO tools (tool_name, app_slug, schema, indexed_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(tool_name) DO NOTHING`,
			name, appSlug, string(schema), now)
		if err != nil {
			return 0, fmt.Errorf("index tool %s: %w", name, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tools_fts (tool_name, search_text) VALUES (?, ?)`, name, text); err != nil {
			return 0, fmt.Errorf("index tool text %s: %w", name, err)
		}
		added++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("add tools: %w", err)
	}
	return added, nil
}

// Retrieve returns up to k tools ranked by BM25, optionally restricted to
// connectedApps. Ties break toward higher use_count.
func (ix *Index) Retrieve(ctx context.Context, query string, k int, connectedApps []string) (*Result, error) {
	match := ftsQuery(query)
	if match == "" {
		return &Result{}, nil
	}

	q := `
		SELECT t.tool_name, t.app_slug, t.schema, t.use_count, -bm25(tools_fts) AS score
		FROM tools_fts
		JOIN tools t ON t.tool_name = tools_fts.tool_name
		WHERE tools_fts MATCH ?`
	args := []any{match}
	if len(connectedApps) > 0 {
		q += ` AND t.app_slug IN (?` + strings.Repeat(",?", len(connectedApps)-1) + `)`
		for _, app := range connectedApps {
			args = append(args, app)
		}
	}
	q += ` ORDER BY bm25(tools_fts), t.use_count DESC LIMIT ?`
	args = append(args, k)

	rows, err := ix.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("retrieve tools: %w", err)
	}
	defer rows.Close()

	out := &Result{}
	for rows.Next() {
		var rec ToolRecord
		var schema string
		var score float64
		if err := rows.Scan(&rec.ToolName, &rec.AppSlug, &schema, &rec.UseCount, &score); err != nil {
			return nil, fmt.Errorf("scan tool record: %w", err)
		}
		rec.Schema = json.RawMessage(schema)
		if score > out.TopScore {
			out.TopScore = score
		}
		out.Tools = append(out.Tools, rec)
	}
	return out, rows.Err()
}

// RecordUsage bumps the tool's usage counter.
func (ix *Index) RecordUsage(ctx context.Context, toolName string) error {
	_, err := ix.db.ExecContext(ctx,
		`UPDATE tools SET use_count = use_count + 1 WHERE tool_name = ?`, toolName)
	if err != nil {
		return fmt.Errorf("record usage for %s: %w", toolName, err)
	}
	return nil
}

// Size is the number of indexed tools.
func (ix *Index) Size(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tools`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index size: %w", err)
	}
	return n, nil
}

// IsStale reports whether the index was marked for rebuild.
func (ix *Index) IsStale(ctx context.Context) bool {
	var v string
	err := ix.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'stale'`).Scan(&v)
	return err == nil && v == "1"
}

// MarkStale flags the index for rebuild on the next connect event.
func (ix *Index) MarkStale(ctx context.Context, stale bool) error {
	v := "0"
	if stale {
		v = "1"
	}
	_, err := ix.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('stale', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, v)
	return err
}

// Clear drops all records so a rebuild starts empty.
func (ix *Index) Clear(ctx context.Context) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM tools`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM tools_fts`); err != nil {
		return fmt.Errorf("clear index text: %w", err)
	}
	return nil
}

var ftsTokenRe = regexp.MustCompile(`[A-Za-z0-9_]+`)

// ftsQuery turns free text into an OR-joined FTS5 match expression.
// "book a meeting" becomes `"book" OR "meeting"`.
func ftsQuery(query string) string {
	tokens := ftsTokenRe.FindAllString(query, -1)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(tokens))
	seen := map[string]bool{}
	for _, t := range tokens {
		t = strings.ToLower(t)
		if len(t) < 2 || seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// schemaSearchText extracts the tool name and the BM25 document text from a
// chat-completions function schema: name + description + parameter names.
func schemaSearchText(schema json.RawMessage) (name, text string, err error) {
	var s struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Parameters  struct {
			Properties map[string]struct {
				Description string `json:"description"`
			} `json:"properties"`
		} `json:"parameters"`
		Function *struct {
			Name        string `json:"name"`
			Description string `json:"description"`
			Parameters  struct {
				Properties map[string]struct {
					Description string `json:"description"`
				} `json:"properties"`
			} `json:"parameters"`
		} `json:"function"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return "", "", fmt.Errorf("parse tool schema: %w", err)
	}
	desc := s.Description
	props := s.Parameters.Properties
	if s.Function != nil && s.Function.Name != "" {
		s.Name, desc, props = s.Function.Name, s.Function.Description, s.Function.Parameters.Properties
	}
	if s.Name == "" {
		return "", "", fmt.Errorf("tool schema has no name")
	}
	parts := []string{strings.ReplaceAll(s.Name, "_", " "), desc}
	for p, meta := range props {
		parts = append(parts, p, meta.Description)
	}
	return s.Name, strings.Join(parts, " "), nil
}
