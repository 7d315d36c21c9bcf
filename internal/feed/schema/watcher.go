package schema

import (
	"context"
	"fmt"
	"path/filepath"

	"leadpipeline_backend/platform/logger"

	"github.com/fsnotify/fsnotify"
)

// Clearer is implemented by Cache and Validator.
type Clearer interface {
	ClearCache()
}

// Watcher clears the schema cache whenever a definition file in dir changes.
type Watcher struct {
	dir     string
	target  Clearer
	log     *logger.Logger
	changed func(path string)
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, target Clearer, log *logger.Logger) *Watcher {
	return &Watcher{dir: dir, target: target, log: log}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create schema watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch schema dir %s: %w", w.dir, err)
	}
	w.log.Info("schema watcher started", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(event.Name) != ".yaml" {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.target.ClearCache()
			w.log.Info("schema definitions changed, cache cleared", "file", filepath.Base(event.Name), "op", event.Op.String())
			if w.changed != nil {
				w.changed(event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("schema watcher error", "error", err)
		}
	}
}
