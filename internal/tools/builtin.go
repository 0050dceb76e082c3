package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// workspaceTool is a read/write capability over the run's workspace files.
type workspaceTool struct {
	name   string
	desc   string
	params map[string]any
	run    func(ctx context.Context, args map[string]any) *Result
}

func (t *workspaceTool) Name() string               { return t.name }
func (t *workspaceTool) Description() string        { return t.desc }
func (t *workspaceTool) Parameters() map[string]any { return t.params }
func (t *workspaceTool) Execute(ctx context.Context, args map[string]any) *Result {
	if WorkspaceFrom(ctx) == nil {
		return ErrorResult("no workspace bound to this run")
	}
	return t.run(ctx, args)
}

func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// WorkspaceTools builds the file tools over the run's workspace: skills,
// crons, notes, and data all live there.
func WorkspaceTools() []Tool {
	return []Tool{
		&workspaceTool{
			name: "workspace_read",
			desc: "Read a file from this workspace (skills, crons, notes, data).",
			params: objParams([]string{"path"}, map[string]any{
				"path": strProp("Workspace-relative path, e.g. skills/standup/SKILL.md."),
			}),
			run: func(ctx context.Context, args map[string]any) *Result {
				text, err := WorkspaceFrom(ctx).Read(strArg(args, "path"))
				if err != nil {
					return ErrorResult(err.Error()).WithError(err)
				}
				return NewResult(text)
			},
		},
		&workspaceTool{
			name: "workspace_write",
			desc: "Write a file in this workspace, replacing any existing content.",
			params: objParams([]string{"path", "content"}, map[string]any{
				"path":    strProp("Workspace-relative path."),
				"content": strProp("Full file content."),
			}),
			run: func(ctx context.Context, args map[string]any) *Result {
				content, _ := args["content"].(string)
				if err := WorkspaceFrom(ctx).Write(strArg(args, "path"), content); err != nil {
					return ErrorResult(err.Error()).WithError(err)
				}
				return NewResult("written: " + strArg(args, "path"))
			},
		},
		&workspaceTool{
			name: "workspace_list",
			desc: "List files under a workspace directory.",
			params: objParams(nil, map[string]any{
				"path": strProp("Workspace-relative directory; empty for the root."),
			}),
			run: func(ctx context.Context, args map[string]any) *Result {
				entries, err := WorkspaceFrom(ctx).List(strArg(args, "path"))
				if err != nil {
					return ErrorResult(err.Error()).WithError(err)
				}
				if len(entries) == 0 {
					return NewResult("(empty)")
				}
				return NewResult(strings.Join(entries, "\n"))
			},
		},
		&workspaceTool{
			name: "workspace_search",
			desc: "Full-text search across workspace files.",
			params: objParams([]string{"query"}, map[string]any{
				"query": strProp("Text to search for."),
				"path":  strProp("Restrict to this workspace-relative directory."),
			}),
			run: func(ctx context.Context, args map[string]any) *Result {
				matches, err := WorkspaceFrom(ctx).Search(strArg(args, "query"), strArg(args, "path"))
				if err != nil {
					return ErrorResult(err.Error()).WithError(err)
				}
				if len(matches) == 0 {
					return NewResult("no matches")
				}
				var sb strings.Builder
				for _, m := range matches {
					fmt.Fprintf(&sb, "%s:%d: %s\n", m.Path, m.Line, m.Text)
				}
				return NewResult(sb.String())
			},
		},
	}
}

// MemoryTools builds the session-memory tools.
func MemoryTools() []Tool {
	return []Tool{
		&workspaceTool{
			name: "remember_fact",
			desc: "Store a durable fact about this workspace (who does what, preferences, recurring context).",
			params: objParams([]string{"fact"}, map[string]any{
				"fact":     strProp("The fact, one sentence."),
				"category": map[string]any{"type": "string", "enum": []string{"company", "team", "general"}},
			}),
			run: func(ctx context.Context, args map[string]any) *Result {
				fact := strArg(args, "fact")
				if fact == "" {
					return ErrorResult("fact is required")
				}
				category := strArg(args, "category")
				if category == "" {
					category = "general"
				}
				if err := WorkspaceFrom(ctx).AddMemory(fact, "agent", category); err != nil {
					return ErrorResult(err.Error()).WithError(err)
				}
				return NewResult("remembered")
			},
		},
		&workspaceTool{
			name: "forget_fact",
			desc: "Drop stored facts matching a phrase.",
			params: objParams([]string{"match"}, map[string]any{
				"match": strProp("Phrase to match against stored facts."),
			}),
			run: func(ctx context.Context, args map[string]any) *Result {
				n, err := WorkspaceFrom(ctx).ForgetMemory(strArg(args, "match"))
				if err != nil {
					return ErrorResult(err.Error()).WithError(err)
				}
				return NewResult(fmt.Sprintf("forgot %d fact(s)", n))
			},
		},
	}
}

// SnapshotTools builds the dated-capture tools over data/{category}/.
func SnapshotTools() []Tool {
	return []Tool{
		&workspaceTool{
			name: "save_snapshot",
			desc: "Save today's capture of external data under a category for day-over-day comparison.",
			params: objParams([]string{"category", "data"}, map[string]any{
				"category": strProp("Short category name, e.g. open-prs or ticket-counts."),
				"data":     strProp("JSON payload to store."),
			}),
			run: func(ctx context.Context, args map[string]any) *Result {
				category := sanitizeSlug(strArg(args, "category"))
				if category == "" {
					return ErrorResult("category is required")
				}
				raw := json.RawMessage(strArg(args, "data"))
				if !json.Valid(raw) {
					return ErrorResult("data must be valid JSON")
				}
				if err := WorkspaceFrom(ctx).SaveSnapshot(category, time.Now().UTC(), raw); err != nil {
					return ErrorResult(err.Error()).WithError(err)
				}
				return NewResult("snapshot saved: " + category)
			},
		},
		&workspaceTool{
			name: "compare_snapshots",
			desc: "Load today's snapshot for a category alongside the one from N days ago.",
			params: objParams([]string{"category"}, map[string]any{
				"category":  strProp("The snapshot category."),
				"days_back": numProp("How many days back to compare against; defaults to 1."),
			}),
			run: func(ctx context.Context, args map[string]any) *Result {
				category := sanitizeSlug(strArg(args, "category"))
				if category == "" {
					return ErrorResult("category is required")
				}
				daysBack := 1
				if db, ok := args["days_back"].(float64); ok && db > 0 {
					daysBack = int(db)
				}
				delta, err := WorkspaceFrom(ctx).DeltaDays(category, daysBack)
				if err != nil {
					return ErrorResult(err.Error()).WithError(err)
				}
				out := map[string]any{"category": category, "days_back": daysBack}
				if delta.Current != nil {
					out["current"] = delta.Current.Data
				}
				if delta.Previous != nil {
					out["previous"] = delta.Previous.Data
				}
				if delta.Current == nil && delta.Previous == nil {
					return NewResult("no snapshots recorded for " + category)
				}
				return NewResult(mustJSON(out))
			},
		},
	}
}

// CronTools builds the cron-management tools. Definitions live at
// crons/{slug}/task.json in the workspace; the scheduler picks changes up on
// its reload watch.
func CronTools() []Tool {
	return []Tool{
		&workspaceTool{
			name: "create_cron",
			desc: "Create or update a recurring job. Provide a cron expression in the workspace timezone.",
			params: objParams([]string{"slug", "title", "cron_expression", "instruction"}, map[string]any{
				"slug":            strProp("Short kebab-case identifier, becomes the directory name."),
				"title":           strProp("Human-readable title."),
				"cron_expression": strProp("Standard 5-field cron expression."),
				"instruction":     strProp("What to do on each run."),
				"channel":         strProp("Channel id to deliver into."),
				"type":            map[string]any{"type": "string", "enum": []string{"agent", "script"}},
				"script_path":     strProp("Workspace-relative script path, for type=script."),
				"timezone":        strProp("IANA timezone, defaults to the workspace timezone."),
				"max_runs":        numProp("Self-delete after this many runs; 0 means forever."),
			}),
			run: func(ctx context.Context, args map[string]any) *Result {
				slug := sanitizeSlug(strArg(args, "slug"))
				if slug == "" {
					return ErrorResult("slug is required")
				}
				def := map[string]any{
					"title":           strArg(args, "title"),
					"description":     strArg(args, "instruction"),
					"cron_expression": strArg(args, "cron_expression"),
					"type":            strArg(args, "type"),
					"channel":         strArg(args, "channel"),
				}
				if def["type"] == "" {
					def["type"] = "agent"
				}
				if sp := strArg(args, "script_path"); sp != "" {
					def["script_path"] = sp
				}
				if tz := strArg(args, "timezone"); tz != "" {
					def["timezone"] = tz
				}
				if mr, ok := args["max_runs"].(float64); ok && mr > 0 {
					def["max_runs"] = int(mr)
				}
				if def["title"] == "" || def["cron_expression"] == "" {
					return ErrorResult("title and cron_expression are required")
				}
				body, err := json.MarshalIndent(def, "", "  ")
				if err != nil {
					return ErrorResult(err.Error()).WithError(err)
				}
				rel := "crons/" + slug + "/task.json"
				if err := WorkspaceFrom(ctx).Write(rel, string(body)+"\n"); err != nil {
					return ErrorResult(err.Error()).WithError(err)
				}
				return NewResult("cron saved: " + rel)
			},
		},
		&workspaceTool{
			name: "list_crons",
			desc: "List this workspace's recurring jobs.",
			params: objParams(nil, map[string]any{}),
			run: func(ctx context.Context, args map[string]any) *Result {
				store := WorkspaceFrom(ctx)
				slugs, err := store.List("crons")
				if err != nil {
					return ErrorResult(err.Error()).WithError(err)
				}
				if len(slugs) == 0 {
					return NewResult("no crons defined")
				}
				var sb strings.Builder
				for _, slug := range slugs {
					text, err := store.Read("crons/" + slug + "/task.json")
					if err != nil {
						continue
					}
					var def struct {
						Title string `json:"title"`
						Expr  string `json:"cron_expression"`
					}
					if json.Unmarshal([]byte(text), &def) == nil {
						fmt.Fprintf(&sb, "- %s: %s (%s)\n", slug, def.Title, def.Expr)
					}
				}
				return NewResult(sb.String())
			},
		},
		&workspaceTool{
			name: "delete_cron",
			desc: "Delete a recurring job and its logs.",
			params: objParams([]string{"slug"}, map[string]any{
				"slug": strProp("The cron's identifier."),
			}),
			run: func(ctx context.Context, args map[string]any) *Result {
				slug := sanitizeSlug(strArg(args, "slug"))
				if slug == "" {
					return ErrorResult("slug is required")
				}
				store := WorkspaceFrom(ctx)
				if !store.Exists("crons/" + slug + "/task.json") {
					return ErrorResult("no such cron: " + slug)
				}
				for _, f := range []string{"task.json", "LEARNINGS.md", "execution.log"} {
					rel := "crons/" + slug + "/" + f
					if store.Exists(rel) {
						if err := store.Delete(rel); err != nil {
							return ErrorResult(err.Error()).WithError(err)
						}
					}
				}
				return NewResult("cron deleted: " + slug)
			},
		},
	}
}

func sanitizeSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var sb strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			sb.WriteRune(r)
		case r == ' ':
			sb.WriteByte('-')
		}
	}
	return sb.String()
}
