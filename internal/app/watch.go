package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/conneroisu/convey/internal/watcher"
)

// Watch starts a file watcher over the application directories and feeds
// its batches to HandleChanges. The watcher stops when ctx is done.
func (a *App) Watch(ctx context.Context) (*watcher.FileWatcher, error) {
	cfg := a.Config()
	if cfg == nil {
		return nil, errNotInitialized
	}

	fw, err := watcher.NewFileWatcher(cfg.Development.Debounce, a.logger)
	if err != nil {
		return nil, err
	}

	exts := []string{".lua", ".yml", ".yaml", ".json"}
	if cfg.Template.Extension != "" {
		exts = append(exts, cfg.Template.Extension)
	}
	if cfg.File != "" {
		exts = append(exts, filepath.Ext(cfg.File))
	}
	fw.AddFilter(watcher.ExtensionFilter(exts...))
	fw.AddFilter(watcher.NoGitFilter)
	fw.AddFilter(watcher.NoEditorFilter)

	// The set is fixed for the watcher's lifetime; Reload warns when a new
	// configuration moves it.
	for _, dir := range cfg.WatchDirs() {
		if err := fw.AddRecursive(dir); err != nil {
			fw.Stop()
			return nil, err
		}
	}
	// Files are watched through their directory so that editors replacing
	// them by rename keep being seen.
	for _, file := range cfg.ReloadPaths() {
		dir := filepath.Dir(file)
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := fw.AddPath(dir); err != nil {
			fw.Stop()
			return nil, err
		}
	}

	fw.AddHandler(func(events []watcher.ChangeEvent) error {
		return a.HandleChanges(ctx, events)
	})
	if err := fw.Start(ctx); err != nil {
		fw.Stop()
		return nil, err
	}

	a.logger.Info(ctx, "watching for changes", "directories", len(fw.WatchList()))
	return fw, nil
}

// HandleChanges applies one batch of file changes: controller, template and
// dependency entries are invalidated, and a change to the configuration or
// routes file triggers a full reload.
func (a *App) HandleChanges(ctx context.Context, events []watcher.ChangeEvent) error {
	st := a.state.Load()
	if st == nil {
		return errNotInitialized
	}
	cfg := st.config

	reloadFiles := make(map[string]bool)
	for _, p := range cfg.ReloadPaths() {
		reloadFiles[p] = true
	}

	controllerDirs := []string{cfg.Resolve(cfg.Paths.Controllers), cfg.Resolve(cfg.Paths.Modules)}
	dependencyDirs := []string{cfg.Resolve(cfg.Paths.Models), cfg.Resolve(cfg.Paths.Library)}

	var (
		reload  bool
		changed []string
	)
	for _, event := range events {
		path, err := filepath.Abs(event.Path)
		if err != nil {
			continue
		}

		switch {
		case reloadFiles[path]:
			reload = true

		case filepath.Ext(path) == ".lua" && under(path, dependencyDirs...):
			// Dependents of a model or library file are unknown.
			n := st.loader.ResetDependencies() + st.scripts.Reset()
			a.logger.Debug(ctx, "dependency changed", "path", path, "event", event.Type.String(), "invalidated", n)
			changed = append(changed, path)

		case filepath.Ext(path) == ".lua" && under(path, controllerDirs...):
			if st.scripts.Invalidate(path) {
				a.logger.Debug(ctx, "controller invalidated", "path", path, "event", event.Type.String())
			}
			changed = append(changed, path)

		case st.templates != nil && filepath.Ext(path) == cfg.Template.Extension:
			if st.templates.Cache().Invalidate(path) {
				a.logger.Debug(ctx, "template invalidated", "path", path, "event", event.Type.String())
			}
			changed = append(changed, path)
		}
	}

	if reload {
		return a.Reload(ctx)
	}
	if a.liveLoad != nil && cfg.Development.LiveReload && len(changed) > 0 {
		a.liveLoad.Reload(relative(cfg.Resolve("."), changed[0]))
	}
	return nil
}

func under(path string, dirs ...string) bool {
	for _, dir := range dirs {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func relative(root, path string) string {
	if rel, err := filepath.Rel(root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}
