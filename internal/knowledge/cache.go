package knowledge

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"
)

// Cache memoizes the documents of a Source until a filesystem change under
// one of the watched directories invalidates them. Concurrent reloads are
// coalesced into a single read.
type Cache struct {
	src     Source
	watcher *fsnotify.Watcher
	logger  *slog.Logger
	group   singleflight.Group

	mu    sync.Mutex
	docs  []Document
	valid bool
	gen   uint64
}

// NewCache wraps src and watches dirs recursively. A directory that does not
// exist yet is covered by watching its parent, so creating it later still
// invalidates the cache.
func NewCache(src Source, dirs []string, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	c := &Cache{src: src, watcher: w, logger: logger}
	for _, dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			parent := filepath.Dir(dir)
			if _, perr := os.Stat(parent); perr == nil {
				c.add(parent)
			}
			continue
		}
		c.addTree(dir)
	}
	return c, nil
}

func (c *Cache) add(dir string) {
	if err := c.watcher.Add(dir); err != nil {
		c.logger.Warn("knowledge watcher could not watch directory", "dir", dir, "error", err)
	}
}

func (c *Cache) addTree(dir string) {
	filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			c.add(p)
		}
		return nil
	})
}

// Run consumes watcher events until ctx is cancelled or the watcher closes.
func (c *Cache) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-c.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					c.addTree(event.Name)
				}
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			c.logger.Debug("knowledge base changed", "path", event.Name, "op", event.Op.String())
			c.Invalidate()
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("knowledge watcher error", "error", err)
			c.Invalidate()
		}
	}
}

// Invalidate drops the cached documents; the next call reloads.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.gen++
	c.mu.Unlock()
}

// Documents returns the cached documents, reloading them if invalid.
func (c *Cache) Documents(ctx context.Context) ([]Document, error) {
	c.mu.Lock()
	if c.valid {
		docs := c.docs
		c.mu.Unlock()
		return docs, nil
	}
	gen := c.gen
	c.mu.Unlock()

	v, err, _ := c.group.Do("documents", func() (any, error) {
		docs, err := c.src.Documents(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		// A change that landed mid-load leaves the cache invalid.
		if c.gen == gen {
			c.docs = docs
			c.valid = true
		}
		c.mu.Unlock()
		return docs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Document), nil
}

// Close stops watching the filesystem.
func (c *Cache) Close() error {
	return c.watcher.Close()
}
