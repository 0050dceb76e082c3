package skills

import (
	"strings"
	"testing"

	"github.com/lucyhq/lucy/internal/workspace"
)

const sampleSkill = `---
name: release-notes
description: How to draft weekly release notes
triggers:
  - release notes
  - changelog
---
Collect merged PRs since last Friday and group them by area.
`

func TestParse(t *testing.T) {
	sk, err := Parse(sampleSkill, "skills/release-notes/SKILL.md")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if sk.Name != "release-notes" {
		t.Errorf("name = %q", sk.Name)
	}
	if !strings.HasPrefix(sk.Body, "Collect merged PRs") {
		t.Errorf("body = %q", sk.Body)
	}
	if len(sk.Triggers) != 2 {
		t.Errorf("triggers = %v", sk.Triggers)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"no opening delimiter", "name: x\n---\nbody"},
		{"no closing delimiter", "---\nname: x\n"},
		{"missing name", "---\ndescription: d\n---\nbody"},
		{"missing description", "---\nname: x\n---\nbody"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.content, "skills/x/SKILL.md"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestMatches(t *testing.T) {
	sk, _ := Parse(sampleSkill, "x")
	if !sk.Matches("can you draft the RELEASE NOTES for this week?") {
		t.Error("case-insensitive trigger should match")
	}
	if sk.Matches("what's for lunch?") {
		t.Error("unrelated message should not match")
	}
	noTrig := &Skill{Name: "n", Description: "d"}
	if noTrig.Matches("anything") {
		t.Error("skills without triggers never match implicitly")
	}
}

func TestLoaderSkipsBadSkills(t *testing.T) {
	store := workspace.NewStore(t.TempDir(), "T1")
	if err := store.EnsureStructure(); err != nil {
		t.Fatal(err)
	}
	store.Write("skills/good/SKILL.md", sampleSkill)
	store.Write("skills/bad/SKILL.md", "no frontmatter at all")
	store.Write("team/SKILL.md", "---\nname: team\ndescription: team knowledge\n---\nWe ship on Fridays.")

	l := NewLoader(store)
	all := l.LoadAll()
	if len(all) != 1 || all[0].Name != "release-notes" {
		t.Errorf("LoadAll = %+v", all)
	}
	if team := l.Team(); team == nil || !strings.Contains(team.Body, "Fridays") {
		t.Errorf("Team() = %+v", team)
	}
	if l.Company() != nil {
		t.Error("Company() should be nil when the file is absent")
	}

	hits := l.Relevant("update the changelog please", 3)
	if len(hits) != 1 {
		t.Errorf("Relevant = %d hits", len(hits))
	}
}
