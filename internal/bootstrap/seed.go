// Package bootstrap materializes the default prompt assets and workspace
// seed files on first run. Existing files are never overwritten, so operator
// edits survive restarts and upgrades.
package bootstrap

import (
	"embed"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed all:templates
var templateFS embed.FS

// assetFiles are the prompt assets seeded into the assets directory.
var assetFiles = []string{"persona.md", "instructions.md", "soul.md"}

// EnsureAssets seeds the prompt assets into dir. Returns the files created.
func EnsureAssets(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var created []string
	for _, name := range assetFiles {
		ok, err := seedFile("templates/"+name, filepath.Join(dir, name))
		if err != nil {
			return created, err
		}
		if ok {
			created = append(created, name)
		}
	}
	return created, nil
}

// EnsureSeeds mirrors the workspace seed tree (knowledge placeholders, starter
// skills, the memory consolidation cron) into dir. New workspaces get a copy
// of this tree on onboarding.
func EnsureSeeds(dir string) ([]string, error) {
	var created []string
	err := fs.WalkDir(templateFS, "templates/seeds", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, _ := filepath.Rel("templates/seeds", p)
		dst := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		ok, err := seedFile(p, dst)
		if err != nil {
			return err
		}
		if ok {
			created = append(created, rel)
		}
		return nil
	})
	return created, err
}

// seedFile writes an embedded file to dst unless dst already exists.
func seedFile(src, dst string) (bool, error) {
	f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile(src)
	if err != nil {
		os.Remove(dst)
		return false, err
	}
	if _, err := f.Write(content); err != nil {
		return false, err
	}
	return true, nil
}
