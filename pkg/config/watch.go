package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the agents.yaml file and invokes onChange with the reloaded
// agent set whenever it changes. Rapid writes are debounced. Blocks until
// ctx is cancelled.
func (s *AgentStore) Watch(ctx context.Context, onChange func([]AgentConfig)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors and atomic renames replace the file,
	// which would break a direct file watch.
	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	slog.Info("watching agent configuration", "path", s.path)

	const debounceDelay = 200 * time.Millisecond
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	reload := func() {
		agents, err := s.Load()
		if err != nil {
			slog.Error("failed to reload agent configuration", "error", err)
			return
		}
		slog.Info("agent configuration reloaded", "agents", len(agents))
		onChange(agents)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, reload)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}
