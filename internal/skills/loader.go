package skills

import (
	"errors"
	"log/slog"
	"path"

	"github.com/lucyhq/lucy/internal/workspace"
)

// Well-known skills read outside the skills/ directory.
const (
	CompanySkillPath = "company/SKILL.md"
	TeamSkillPath    = "team/SKILL.md"
)

// Loader reads skills from a workspace store. Reads are pass-through: no
// in-process caching, so edits land on the next request.
type Loader struct {
	store *workspace.Store
}

func NewLoader(store *workspace.Store) *Loader {
	return &Loader{store: store}
}

// LoadAll returns every parseable skill under skills/{slug}/SKILL.md.
// Unparseable files are logged and skipped; one bad skill must not take the
// workspace down.
func (l *Loader) LoadAll() []*Skill {
	slugs, err := l.store.List("skills")
	if err != nil {
		slog.Warn("skills: list failed", "workspace", l.store.ID(), "error", err)
		return nil
	}
	var out []*Skill
	for _, slug := range slugs {
		rel := path.Join("skills", slug, "SKILL.md")
		sk, err := l.load(rel)
		if err != nil {
			if !errors.Is(err, workspace.ErrNotFound) {
				slog.Warn("skills: skipping unparseable skill", "path", rel, "error", err)
			}
			continue
		}
		out = append(out, sk)
	}
	return out
}

// Company returns the company knowledge skill, or nil when absent.
func (l *Loader) Company() *Skill { return l.loadOrNil(CompanySkillPath) }

// Team returns the team knowledge skill, or nil when absent.
func (l *Loader) Team() *Skill { return l.loadOrNil(TeamSkillPath) }

// Relevant returns up to max skills whose triggers match the message.
func (l *Loader) Relevant(message string, max int) []*Skill {
	var hits []*Skill
	for _, sk := range l.LoadAll() {
		if sk.Matches(message) {
			hits = append(hits, sk)
			if len(hits) >= max {
				break
			}
		}
	}
	return hits
}

func (l *Loader) load(rel string) (*Skill, error) {
	content, err := l.store.Read(rel)
	if err != nil {
		return nil, err
	}
	return Parse(content, rel)
}

func (l *Loader) loadOrNil(rel string) *Skill {
	sk, err := l.load(rel)
	if err != nil {
		if !errors.Is(err, workspace.ErrNotFound) {
			slog.Warn("skills: load failed", "path", rel, "error", err)
		}
		return nil
	}
	return sk
}
