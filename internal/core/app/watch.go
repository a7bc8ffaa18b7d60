package app

import (
	"context"
	"log/slog"
	"path/filepath"

	"omniworker/internal/core/errors"
	"omniworker/internal/core/watcher"
)

// StartWatcher reloads the pool whenever a source under the worker's
// directory changes. The pool must already be running.
func (a *App) StartWatcher() error {
	root := filepath.Dir(a.SourcePath())
	if a.Pool() == nil {
		return errors.New(errors.CodeUninitialized, "start the worker pool before watching its sources")
	}

	w, err := watcher.NewWatcher(
		a.Config.Watch.Debounce,
		a.Config.Watch.ExcludeDirs,
		a.Config.Watch.ExcludeFiles,
		a.HandleChanges,
	)
	if err != nil {
		return err
	}
	a.activeWatcher = w
	slog.Info("watching worker sources", "root", root)
	return w.Watch([]string{root})
}

// HandleChanges is the watcher callback.
func (a *App) HandleChanges(paths []string) {
	slog.Info("worker sources changed", "files", len(paths), "first", paths[0])
	if err := a.Reload(context.Background()); err != nil {
		slog.Error("hot reload failed", "error", err)
	}
}
