package artifact

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch invalidates cache entries for files in dir whenever they are
// created, written, renamed or removed, which is how a new training run's
// artifacts reach a long-running server. It blocks until ctx is done.
func Watch(ctx context.Context, dir string, cache *Cache, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create artifact watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch artifact dir %s: %w", dir, err)
	}
	logger.Info("watching artifact directory", zap.String("dir", dir))

	const relevant = fsnotify.Create | fsnotify.Write | fsnotify.Rename | fsnotify.Remove
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&relevant == 0 || isTempArtifact(event.Name) {
				continue
			}
			if cache.Invalidate(event.Name) {
				logger.Info("artifact changed, cache entry dropped",
					zap.String("path", event.Name),
					zap.String("op", event.Op.String()),
				)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("artifact watcher error", zap.Error(err))
		}
	}
}

func isTempArtifact(path string) bool {
	base := filepath.Base(path)
	return len(base) > 0 && base[0] == '.'
}
