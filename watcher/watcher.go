package watcher

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// coalesceWindow is how close two notifications for the same path and kind
// must be for the second one to be dropped.
const coalesceWindow = 5 * time.Millisecond

// IgnoreChecker is used by the watcher to check if a path should be ignored.
type IgnoreChecker interface {
	ShouldIgnoreDir(absolutePath string) bool
	ShouldIgnore(absolutePath string) bool
}

// ruleReloader is implemented by ignore checkers that read rules from files
// living inside the watched tree.
type ruleReloader interface {
	IsIgnoreFile(absolutePath string) bool
	Reload()
}

// Watcher provides recursive file system watching over one or more roots.
type Watcher struct {
	fsWatcher     *fsnotify.Watcher
	ignoreChecker IgnoreChecker
	roots         []string
	logger        *slog.Logger

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	lastSeen map[string]Event

	rootsMu sync.Mutex
}

// NewWatcher creates a recursive file watcher on the given root directories.
// Roots that cannot be read are logged and skipped.
func NewWatcher(roots []string, ignoreChecker IgnoreChecker, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsWatcher:     fsWatcher,
		ignoreChecker: ignoreChecker,
		roots:         slices.Clone(roots),
		logger:        logger,
		events:        make(chan Event, 256),
		done:          make(chan struct{}),
		lastSeen:      make(map[string]Event),
	}

	for _, root := range roots {
		w.addTree(root, false)
	}

	return w, nil
}

// Events returns the channel that receives normalized change events.
// It is closed once the watcher stops.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Roots returns the watched root directories, including those added at
// runtime.
func (w *Watcher) Roots() []string {
	w.rootsMu.Lock()
	defer w.rootsMu.Unlock()
	return slices.Clone(w.roots)
}

// Start begins listening for file system events. Call this in a goroutine.
// It runs until the watcher is closed.
func (w *Watcher) Start() {
	defer close(w.events)
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// Add starts watching path (and everything below it when it is a directory).
func (w *Watcher) Add(path string) {
	path = filepath.Clean(path)
	w.addTree(path, false)

	w.rootsMu.Lock()
	defer w.rootsMu.Unlock()
	if !slices.Contains(w.roots, path) {
		w.roots = append(w.roots, path)
	}
}

// Remove stops watching path and every directory below it.
func (w *Watcher) Remove(path string) error {
	path = filepath.Clean(path)
	prefix := path + string(filepath.Separator)

	removed := false
	var firstErr error
	for _, watched := range w.fsWatcher.WatchList() {
		if watched != path && !strings.HasPrefix(watched, prefix) {
			continue
		}
		removed = true
		if err := w.fsWatcher.Remove(watched); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if !removed {
		return fmt.Errorf("removing watch on %s: %w", path, fsnotify.ErrNonExistentWatch)
	}
	if firstErr != nil {
		return fmt.Errorf("removing watch on %s: %w", path, firstErr)
	}

	w.rootsMu.Lock()
	defer w.rootsMu.Unlock()
	w.roots = slices.DeleteFunc(w.roots, func(root string) bool {
		return root == path || strings.HasPrefix(root, prefix)
	})
	return nil
}

// Close stops the watcher and releases resources.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
	})
	return err
}

// handleEvent converts a single fsnotify event into zero or more Events.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name

	// A new directory is watched right away. Files that landed in it before
	// the watch was registered are reported as added.
	if event.Has(fsnotify.Create) {
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			if !w.ignoreChecker.ShouldIgnoreDir(path) {
				w.addTree(path, true)
			}
			return
		}
	}

	if reloader, ok := w.ignoreChecker.(ruleReloader); ok && reloader.IsIgnoreFile(path) {
		reloader.Reload()
		w.logger.Info("reloaded ignore rules", "trigger", filepath.Base(path))
	}

	if w.ignoreChecker.ShouldIgnore(path) {
		return
	}

	var kind Kind
	switch {
	case event.Has(fsnotify.Create):
		kind = KindAdded
	case event.Has(fsnotify.Write):
		kind = KindChanged
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		kind = KindDeleted
	default:
		return
	}

	w.emit(Event{Path: path, Kind: kind, Time: time.Now()})
}

// emit forwards an event unless it duplicates one seen a moment ago.
func (w *Watcher) emit(event Event) {
	if w.isDuplicate(event) {
		return
	}
	select {
	case w.events <- event:
	case <-w.done:
	}
}

func (w *Watcher) isDuplicate(event Event) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	last, seen := w.lastSeen[event.Path]
	w.lastSeen[event.Path] = event
	if len(w.lastSeen) > 4096 {
		for path, e := range w.lastSeen {
			if event.Time.Sub(e.Time) > coalesceWindow {
				delete(w.lastSeen, path)
			}
		}
	}
	return seen && last.Kind == event.Kind && event.Time.Sub(last.Time) < coalesceWindow
}

// addTree registers root and its non-ignored subdirectories. When
// reportFiles is set, regular files found along the way are emitted as added.
func (w *Watcher) addTree(root string, reportFiles bool) {
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			w.logger.Warn("cannot watch path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			if reportFiles && d.Type().IsRegular() && !w.ignoreChecker.ShouldIgnore(path) {
				w.emit(Event{Path: path, Kind: KindAdded, Time: time.Now()})
			}
			return nil
		}
		if path != root && w.ignoreChecker.ShouldIgnoreDir(path) {
			return filepath.SkipDir
		}
		if watchErr := w.fsWatcher.Add(path); watchErr != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", watchErr)
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("failed to walk directory", "path", root, "error", err)
	}
}
