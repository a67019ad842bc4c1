package policy

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the write bursts editors produce.
const reloadDebounce = 300 * time.Millisecond

// Watch hot-reloads the rules file on change until ctx ends. A reload
// that fails to parse keeps the previous ruleset; the error only logs.
func (e *Engine) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors replace files, which drops the watch
	// on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return err
	}
	target := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, func() {
					if err := e.LoadFile(path); err != nil {
						e.logger.Warn("policy hot-reload failed, keeping previous rules",
							slog.String("path", path), slog.Any("error", err))
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				e.logger.Warn("policy watcher error", slog.Any("error", err))
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			}
		}
	}()
	return nil
}
