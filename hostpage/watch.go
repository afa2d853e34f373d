package hostpage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchSettle = 100 * time.Millisecond

// Watch refreshes the page as soon as a fragment file changes instead of
// waiting for the next request to notice. It returns when ctx is done.
func (c *Cache) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fragment watcher: %w", err)
	}
	defer watcher.Close()

	tracked := make(map[string]struct{}, 3)
	dirs := make(map[string]struct{}, 3)
	for _, path := range []string{c.sources.CSS, c.sources.Header, c.sources.Footer} {
		if path == "" {
			continue
		}
		clean := filepath.Clean(path)
		tracked[clean] = struct{}{}
		dirs[filepath.Dir(clean)] = struct{}{}
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			c.logger.Warn("watch fragments", "dir", dir, "error", err)
		}
	}

	var settle <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if _, hit := tracked[filepath.Clean(event.Name)]; hit {
				settle = time.After(watchSettle)
			}
		case <-settle:
			settle = nil
			if err := c.Refresh(); err != nil {
				c.logger.Error("cannot refresh site header/footer", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("watch fragments", "error", err)
		}
	}
}
