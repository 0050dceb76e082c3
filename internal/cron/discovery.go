package cron

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/lucyhq/lucy/internal/workspace"
)

// Discover walks every workspace root and loads crons/*/task.json.
// Unparseable definitions log a warning and are skipped.
func Discover(manager *workspace.Manager) ([]*Definition, error) {
	ids, err := manager.List()
	if err != nil {
		return nil, err
	}
	var defs []*Definition
	for _, id := range ids {
		store, err := manager.Get(id)
		if err != nil {
			slog.Warn("cron discovery: workspace open failed", "workspace", id, "error", err)
			continue
		}
		defs = append(defs, discoverWorkspace(store)...)
	}
	return defs, nil
}

func discoverWorkspace(store *workspace.Store) []*Definition {
	slugs, err := store.List("crons")
	if err != nil {
		return nil
	}
	var defs []*Definition
	for _, slug := range slugs {
		rel := "crons/" + slug + "/" + TaskFile
		text, err := store.Read(rel)
		if err != nil {
			continue
		}
		def, err := ParseDefinition([]byte(text), store.ID(), slug)
		if err != nil {
			slog.Warn("cron discovery: bad definition", "workspace", store.ID(), "slug", slug, "error", err)
			continue
		}
		defs = append(defs, def)
	}
	return defs
}

// Watcher triggers a reload callback when any workspace's crons change on
// disk. Events are debounced by the scheduler's reload handling.
type Watcher struct {
	fs     *fsnotify.Watcher
	root   string
	reload func()
	done   chan struct{}
}

// NewWatcher watches {root}/*/crons recursively for task.json changes.
func NewWatcher(root string, reload func()) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{fs: fs, root: root, reload: reload, done: make(chan struct{})}
	w.addCronDirs()
	go w.run()
	return w, nil
}

func (w *Watcher) addCronDirs() {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		cronsDir := filepath.Join(w.root, e.Name(), "crons")
		if _, err := os.Stat(cronsDir); err != nil {
			continue
		}
		if err := w.fs.Add(cronsDir); err != nil {
			slog.Warn("cron watch failed", "dir", cronsDir, "error", err)
			continue
		}
		subs, err := os.ReadDir(cronsDir)
		if err != nil {
			continue
		}
		for _, s := range subs {
			if s.IsDir() {
				_ = w.fs.Add(filepath.Join(cronsDir, s.Name()))
			}
		}
	}
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if strings.HasSuffix(ev.Name, TaskFile) ||
				ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				// New cron directories need watches before their files fire.
				w.addCronDirs()
				w.reload()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("cron watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}
