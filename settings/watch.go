package settings

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the store whenever the backing file is modified out-of-band
// (for example by an operator editing it directly). It blocks until the
// context is cancelled. Reloads after the store's own saves are harmless:
// the file content already matches the in-memory state.
func (s *Store) Watch(ctx context.Context, logger *slog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create settings watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file: editors commonly replace
	// the file via rename, which drops a watch on the file itself.
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch settings directory %s: %w", dir, err)
	}

	target, err := filepath.Abs(s.path)
	if err != nil {
		return fmt.Errorf("resolve settings path: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || name != target {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if err := s.reload(); err != nil {
				logger.Warn("Failed to reload settings", "error", err)
				continue
			}
			logger.Info("Settings reloaded from file", "path", s.path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Settings watcher error", "error", err)
		}
	}
}
