// Package hotreload applies threshold overrides from a YAML file while
// the engine runs. The file maps project ids to partial threshold
// sets; a write replaces the overrides for the projects it names.
package hotreload

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/jordanhubbard/sentinel/internal/thresholds"
	"github.com/jordanhubbard/sentinel/pkg/types"
)

const debounce = 200 * time.Millisecond

// Watcher reloads the thresholds file on change.
type Watcher struct {
	path       string
	thresholds *thresholds.Store
	fsWatcher  *fsnotify.Watcher
	done       chan struct{}
}

// New creates a watcher for the given thresholds file. The file does
// not have to exist yet; its directory is watched.
func New(path string, ts *thresholds.Store) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		path:       path,
		thresholds: ts,
		fsWatcher:  fsWatcher,
		done:       make(chan struct{}),
	}, nil
}

// Start applies the file once, then watches it until the context is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	if err := w.Apply(ctx); err != nil {
		log.Printf("[HotReload] Initial load of %s skipped: %v", w.path, err)
	}
	go w.run(ctx)
}

// Stop shuts the watcher down.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsWatcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	log.Printf("[HotReload] Watching %s", w.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case <-fire:
			if err := w.Apply(ctx); err != nil {
				log.Printf("[HotReload] Reload of %s failed: %v", w.path, err)
			}
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			// Editors often emit bursts of writes; coalesce them.
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("[HotReload] Watch error: %v", err)
		}
	}
}

// Apply reads the thresholds file and applies each project's partial
// set through the threshold store.
func (w *Watcher) Apply(ctx context.Context) error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return fmt.Errorf("failed to read thresholds file: %w", err)
	}

	var overrides map[string]types.ThresholdSet
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return fmt.Errorf("failed to parse thresholds file: %w", err)
	}

	for projectID, partial := range overrides {
		if len(partial) == 0 {
			continue
		}
		if err := w.thresholds.Update(ctx, projectID, partial); err != nil {
			return fmt.Errorf("failed to apply thresholds for %s: %w", projectID, err)
		}
		log.Printf("[HotReload] Applied %d threshold override(s) for project %s", len(partial), projectID)
	}
	return nil
}
