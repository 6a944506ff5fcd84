// Package watch re-triggers indexing when the source tree changes.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mattsolo1/grove-kb/pkg/knowledge"
	"github.com/mattsolo1/grove-kb/pkg/logging"
	"github.com/sirupsen/logrus"
)

var log = logging.NewLogger("grove-kb.watch")

// DefaultDebounce batches editor save bursts into one run.
const DefaultDebounce = 2 * time.Second

// ChangeFunc handles one debounced batch of changed paths.
type ChangeFunc func(ctx context.Context, paths []string)

// Watcher watches every source directory the handlers enumerate and calls
// OnChange once a burst of events has been quiet for Debounce. The knowledge
// directory itself is ignored so the watcher does not react to its own output.
type Watcher struct {
	Root         string
	KnowledgeDir string
	Handlers     []knowledge.Handler
	Debounce     time.Duration
	OnChange     ChangeFunc

	mu      sync.Mutex
	watched map[string]bool
	pending map[string]bool
}

// New creates a watcher over the project described by handlers.
func New(root, knowledgeDir string, handlers []knowledge.Handler, debounce time.Duration, onChange ChangeFunc) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		Root:         knowledge.Canonical(root),
		KnowledgeDir: knowledge.Canonical(knowledgeDir),
		Handlers:     handlers,
		Debounce:     debounce,
		OnChange:     onChange,
		watched:      make(map[string]bool),
		pending:      make(map[string]bool),
	}
}

// Run blocks until ctx is cancelled. OnChange runs on the watcher goroutine,
// so events arriving during a run are batched into the next one.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := w.sync(fw); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"root":        w.Root,
		"directories": w.Watched(),
		"debounce":    w.Debounce.String(),
	}).Info("Watching source tree")

	timer := time.NewTimer(w.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			log.WithFields(logrus.Fields{"path": event.Name, "op": event.Op.String()}).Debug("Source change")
			w.mu.Lock()
			w.pending[event.Name] = true
			w.mu.Unlock()
			timer.Reset(w.Debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("Watcher error")

		case <-timer.C:
			paths := w.drain()
			if len(paths) == 0 {
				continue
			}
			if w.OnChange != nil {
				w.OnChange(ctx, paths)
			}
			// New directories may have appeared.
			if err := w.sync(fw); err != nil {
				log.WithError(err).Warn("Could not refresh watched directories")
			}
		}
	}
}

// Watched returns the number of directories currently watched.
func (w *Watcher) Watched() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watched)
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	path := knowledge.Canonical(event.Name)
	if knowledge.IsWithin(path, w.KnowledgeDir) {
		return false
	}
	return knowledge.IsWithin(path, w.Root)
}

func (w *Watcher) drain() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]bool)
	sort.Strings(paths)
	return paths
}

// sync adds watches for source directories not yet watched and drops the
// ones that disappeared.
func (w *Watcher) sync(fw *fsnotify.Watcher) error {
	want := map[string]bool{w.Root: true}
	for _, h := range w.Handlers {
		dirs, err := h.SourceDirectories(w.Root)
		if err != nil {
			return fmt.Errorf("list %s source directories: %w", h.Name(), err)
		}
		for _, d := range dirs {
			want[knowledge.Canonical(d)] = true
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for dir := range want {
		if w.watched[dir] {
			continue
		}
		if err := fw.Add(dir); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		w.watched[dir] = true
	}
	for dir := range w.watched {
		if !want[dir] {
			// fsnotify drops watches of removed directories on its own.
			_ = fw.Remove(dir)
			delete(w.watched, dir)
		}
	}
	return nil
}
