package model

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"
)

// Watch keeps the registry's downloaded flags in sync with the models
// directory while ctx is live, so files added or removed out-of-band
// (another process, manual cleanup) are picked up without a restart.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(r.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", r.dir, err)
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

				if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					r.logger.Debug("Models directory changed",
						"op", event.Op.String(),
						"name", event.Name)
					r.rescan()
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("Models directory watch error", "error", err)
			}
		}
	}()

	return nil
}
