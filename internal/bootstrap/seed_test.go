package bootstrap

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnsureAssets(t *testing.T) {
	dir := t.TempDir()
	created, err := EnsureAssets(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 3 {
		t.Errorf("created = %v, want persona, instructions, soul", created)
	}
	data, err := os.ReadFile(filepath.Join(dir, "instructions.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "{available_skills}") {
		t.Error("instructions template lost the skills placeholder")
	}

	// Second run creates nothing and overwrites nothing.
	if err := os.WriteFile(filepath.Join(dir, "persona.md"), []byte("edited"), 0o644); err != nil {
		t.Fatal(err)
	}
	created, err = EnsureAssets(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != 0 {
		t.Errorf("second run created %v", created)
	}
	data, _ = os.ReadFile(filepath.Join(dir, "persona.md"))
	if string(data) != "edited" {
		t.Error("operator edit was overwritten")
	}
}

func TestEnsureSeeds(t *testing.T) {
	dir := t.TempDir()
	created, err := EnsureSeeds(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) == 0 {
		t.Fatal("no seeds created")
	}
	for _, want := range []string{
		"company/SKILL.md",
		"team/SKILL.md",
		"skills/status-updates/SKILL.md",
		"crons/memory-consolidation/task.json",
	} {
		if _, err := os.Stat(filepath.Join(dir, want)); err != nil {
			t.Errorf("missing seed %s: %v", want, err)
		}
	}
}
