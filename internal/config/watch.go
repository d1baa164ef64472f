package config

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchNotice starts an fsnotify watch on the config file at path and
// logs an informational notice whenever it changes on disk. This is a
// hot-notice, not a hot-reload: the running daemon's configuration is
// fixed for its lifetime (spec §6 defines no reload operation), but an
// operator editing the file while the daemon is up benefits from being
// told a restart is needed. Grounded on AleutianLocal's graph.FileWatcher
// use of github.com/fsnotify/fsnotify, reduced from debounced multi-file
// batching to a single-file notice.
func WatchNotice(ctx context.Context, path string, logger *zap.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
					logger.Info("config file changed on disk; restart the daemon to apply",
						zap.String("path", path),
						zap.String("op", event.Op.String()))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config file watch error", zap.Error(err))
			}
		}
	}()

	return nil
}
