package decision

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the profile at path into store whenever the file is
// written, until ctx is cancelled. A file that fails to parse is logged and
// the previous profile stays active.
func Watch(ctx context.Context, path string, store *ProfileStore, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return err
	}
	log.Info("watching scoring profile", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Atomic saves arrive as Create.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			p, err := LoadProfile(path)
			if err != nil {
				log.Error("profile reload failed, keeping previous profile", zap.String("path", path), zap.Error(err))
				continue
			}
			store.Set(p)
			log.Info("scoring profile reloaded", zap.String("path", path))

			// The inode may have been replaced.
			_ = watcher.Add(path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("profile watcher error", zap.Error(err))
		}
	}
}
