package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/kradalby/ssh-agent-mux/internal/logging"
)

// SmartWatcher subscribes to file events on the root (non-recursively) and
// on each session directory that matched a pattern when the watcher started.
//
// Session directories created after startup are only logged: the fsnotify
// subscription set is never mutated from the event path, so new directories
// are picked up by the next Reload or startup scan. Forwarded sockets only
// ever sit one level below the session directory, so a per-directory watch
// covers them.
type SmartWatcher struct {
	root string
	fs   *fsnotify.Watcher
	deb  *debouncer

	mu      sync.Mutex
	subdirs map[string]bool

	done     chan struct{}
	loopDone chan struct{}
}

// StartSmartWatcher establishes file-event subscriptions on root and its
// currently-matching session directories, delivering debounced events on
// out. Returns an error when the OS watcher cannot be established; the
// caller then falls back to polling.
func StartSmartWatcher(root string, out chan<- Event) (*SmartWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	if err := fs.Add(root); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	w := &SmartWatcher{
		root:     root,
		fs:       fs,
		subdirs:  make(map[string]bool),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	w.deb = newDebouncer(debounceDelay, out)

	dirs, err := matchingSubdirs(root)
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("enumerate %s: %w", root, err)
	}
	for _, dir := range dirs {
		if err := fs.Add(dir); err != nil {
			// A session directory can vanish or be unreadable; the watcher
			// stays useful without it.
			logging.Warnf("[watcher] cannot watch %s: %v", dir, err)
			continue
		}
		w.subdirs[dir] = true
	}

	go w.loop()

	logging.Infof("[watcher] smart watch active on %s (%d session dirs)", root, len(w.subdirs))
	return w, nil
}

// Close tears down the subscriptions and stops event delivery.
func (w *SmartWatcher) Close() error {
	close(w.done)
	err := w.fs.Close()
	<-w.loopDone
	w.deb.stop()
	return err
}

func (w *SmartWatcher) loop() {
	defer close(w.loopDone)

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logging.Errorf("[watcher] file watcher error: %v", err)
		}
	}
}

func (w *SmartWatcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)

	// A new session directory directly under the root: log only. Mutating
	// the subscription set from inside the event path is what the next
	// Reload or scan is for.
	if filepath.Dir(path) == w.root && ev.Op.Has(fsnotify.Create) {
		if dirPatternMatches(filepath.Base(path)) && isDir(path) {
			logging.Infof("[watcher] new agent directory %s; will be picked up on next reload", path)
		}
	}

	// A subscribed session directory going away clears its bookkeeping;
	// fsnotify drops the kernel watch on its own.
	if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
		w.mu.Lock()
		if w.subdirs[path] {
			delete(w.subdirs, path)
			logging.Debugf("[watcher] session directory removed: %s", path)
		}
		w.mu.Unlock()
	}

	if !matchesForwardedAgent(w.root, path) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
		if _, err := os.Lstat(path); err != nil {
			return
		}
		logging.Debugf("[watcher] detected new SSH forwarded agent: %s", path)
		w.deb.enqueue(Event{Kind: EventAdded, Path: path})
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		logging.Debugf("[watcher] detected removed SSH forwarded agent: %s", path)
		w.deb.enqueue(Event{Kind: EventRemoved, Path: path})
	}
}

// SubscribedDirs returns the currently-subscribed session directories.
func (w *SmartWatcher) SubscribedDirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	dirs := make([]string, 0, len(w.subdirs))
	for d := range w.subdirs {
		dirs = append(dirs, d)
	}
	return dirs
}

func dirPatternMatches(name string) bool {
	for _, p := range forwardedAgentPatterns {
		if p.dir.matches(name) {
			return true
		}
	}
	return false
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
