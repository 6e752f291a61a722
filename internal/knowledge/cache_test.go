package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSource struct {
	loads atomic.Int32
	docs  []Document
}

func (s *countingSource) Documents(ctx context.Context) ([]Document, error) {
	s.loads.Add(1)
	return s.docs, nil
}

func TestCache_MemoizesUntilInvalidated(t *testing.T) {
	src := &countingSource{docs: []Document{{Origin: OriginDoc, Filename: "a.md", Content: "a"}}}
	c, err := NewCache(src, nil, nil)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	for range 3 {
		docs, err := c.Documents(ctx)
		if err != nil {
			t.Fatalf("Documents: %v", err)
		}
		if len(docs) != 1 {
			t.Fatalf("got %d docs, want 1", len(docs))
		}
	}
	if got := src.loads.Load(); got != 1 {
		t.Errorf("loads = %d, want 1", got)
	}

	c.Invalidate()
	if _, err := c.Documents(ctx); err != nil {
		t.Fatalf("Documents: %v", err)
	}
	if got := src.loads.Load(); got != 2 {
		t.Errorf("loads after invalidate = %d, want 2", got)
	}
}

func TestCache_ConcurrentCallers(t *testing.T) {
	src := &countingSource{}
	c, err := NewCache(src, nil, nil)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	defer c.Close()

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Documents(context.Background()); err != nil {
				t.Errorf("Documents: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := src.loads.Load(); got < 1 || got > 16 {
		t.Errorf("loads = %d, want between 1 and 16", got)
	}
	if _, err := c.Documents(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := src.loads.Load()
	if _, err := c.Documents(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.loads.Load() != before {
		t.Error("valid cache must not reload")
	}
}

func TestCache_WatchesFilesystem(t *testing.T) {
	dir := t.TempDir()
	scope := filepath.Join(dir, "scope")
	if err := os.MkdirAll(scope, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(scope, "a.md"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	docsDir := filepath.Join(dir, "docs") // created later

	src := RootSource{
		Loader: NewLoader(),
		Roots:  []Root{DirRoot(OriginScope, scope), DirRoot(OriginDoc, docsDir)},
	}
	c, err := NewCache(src, []string{scope, docsDir}, nil)
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go c.Run(ctx)

	docs, err := c.Documents(ctx)
	if err != nil {
		t.Fatalf("Documents: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("got %d docs, want 1", len(docs))
	}

	if err := os.WriteFile(filepath.Join(scope, "b.md"), []byte("b"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForDocs(t, ctx, c, 2)

	if err := os.MkdirAll(docsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	waitForWatch(t, ctx, c, docsDir)
	if err := os.WriteFile(filepath.Join(docsDir, "c.md"), []byte("c"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForDocs(t, ctx, c, 3)
}

func waitForDocs(t *testing.T, ctx context.Context, c *Cache, want int) {
	t.Helper()
	for {
		docs, err := c.Documents(ctx)
		if err != nil {
			t.Fatalf("Documents: %v", err)
		}
		if len(docs) == want {
			return
		}
		select {
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %d docs, have %d", want, len(docs))
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func waitForWatch(t *testing.T, ctx context.Context, c *Cache, dir string) {
	t.Helper()
	for {
		for _, p := range c.watcher.WatchList() {
			if p == dir {
				return
			}
		}
		select {
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s to be watched", dir)
		case <-time.After(10 * time.Millisecond):
		}
	}
}
