package etude

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchFile reloads the MemoryStore whenever the etude JSONL at path is
// rewritten. It blocks until ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that
// atomic rename-into-place updates (the common way extractors publish a
// new dictionary) are observed.
func WatchFile(ctx context.Context, path string, store *MemoryStore, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	target := filepath.Clean(path)
	logger.Info("watching etude file", zap.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			etudes, err := LoadFile(target, logger)
			if err != nil {
				// Keep serving the previous dictionary.
				logger.Warn("etude reload failed", zap.Error(err))
				continue
			}
			store.Reload(etudes)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("etude watcher error", zap.Error(err))
		}
	}
}
