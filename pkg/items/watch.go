package items

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the catalog whenever its file is written or replaced. The
// parent directory is watched so editors that rename over the file are
// noticed. Watch returns once the watcher is running; it stops with ctx.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("items: watcher: %w", err)
	}
	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("items: watch %s: %w", dir, err)
	}
	target := filepath.Clean(c.path)

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
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				c.log.Info("item database changed on disk", zap.String("path", event.Name))
				if err := c.Reload(); err != nil {
					c.log.Warn("item database reload failed", zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.log.Warn("items watcher error", zap.Error(err))
			}
		}
	}()
	c.log.Info("watching item database", zap.String("path", c.path))
	return nil
}
