package webapi

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/umputun/spam-rectifier/lib/rectifier"
)

// Loader holds the current model and swaps it on demand. All handlers read
// through Get, so a reload never disturbs in-flight requests.
type Loader struct {
	path  string
	mu    sync.RWMutex
	model *rectifier.Model
}

// NewLoader loads the model snapshot from path.
func NewLoader(path string) (*Loader, error) {
	m, err := rectifier.Load(path)
	if err != nil {
		return nil, err
	}
	return &Loader{path: path, model: m}, nil
}

// Get returns the current model.
func (l *Loader) Get() *rectifier.Model {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.model
}

// Reload re-reads the snapshot and swaps the model. On failure the current
// model stays in place.
func (l *Loader) Reload() error {
	m, err := rectifier.Load(l.path)
	if err != nil {
		return fmt.Errorf("failed to reload model: %w", err)
	}
	l.mu.Lock()
	l.model = m
	l.mu.Unlock()
	log.Printf("[INFO] model reloaded from %s, labels: %v, dataset size: %d", l.path, m.Labels(), m.DatasetSize)
	return nil
}

// Watch blocks watching the snapshot file and reloads the model on every
// change until ctx is canceled. The parent directory is watched rather than
// the file itself because Save replaces the file by rename, which would leave
// a direct file watch attached to a dead inode.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target, err := filepath.Abs(l.path)
	if err != nil {
		return fmt.Errorf("failed to resolve model path %s: %w", l.path, err)
	}

	done := make(chan bool)
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				log.Printf("[INFO] stopping model watcher for %s, %v", l.path, ctx.Err())
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name, aerr := filepath.Abs(event.Name)
				if aerr != nil || name != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					if e := l.Reload(); e != nil {
						log.Printf("[WARN] failed to reload model %s: %v", l.path, e)
					}
				}
			case e, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[WARN] model watcher error: %v", e)
			}
		}
	}()

	if err = watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}
	<-done
	return nil
}
