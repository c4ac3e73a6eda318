package config

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher keeps an in-memory copy of the workflow/template catalog and
// reloads it when the file changes on disk. Readers always see a complete
// catalog; a reload that fails to parse keeps the previous one.
type Watcher struct {
	path    string
	logger  *log.Logger
	watcher *fsnotify.Watcher

	mu    sync.RWMutex
	pools PoolsFile

	wg sync.WaitGroup
}

// NewWatcher loads the catalog at path and begins watching its directory.
// Close the returned Watcher to release the underlying inotify handle.
func NewWatcher(path string, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	pools, err := LoadPools(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create pools watcher: %w", err)
	}
	// Watch the directory, not the file: editors replace files on save and
	// a watch on the old inode goes silent.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	return &Watcher{path: path, logger: logger, watcher: fsw, pools: pools}, nil
}

// Run processes change events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(w.path) {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					w.reload()
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Printf("[config] watch error: %v", err)
			}
		}
	}()
}

func (w *Watcher) reload() {
	pools, err := LoadPools(w.path)
	if err != nil {
		w.logger.Printf("[config] reload rejected, keeping previous catalog: %v", err)
		return
	}
	w.mu.Lock()
	w.pools = pools
	w.mu.Unlock()
	w.logger.Printf("[config] reloaded %s: %d workflow(s), %d/%d templates",
		w.path, len(pools.Workflows), len(pools.Templates.Male), len(pools.Templates.Female))
}

// Pools returns the current catalog.
func (w *Watcher) Pools() PoolsFile {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.pools
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
