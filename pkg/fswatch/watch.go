package fswatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/sidkik/cloudsave/pkg/errors"
)

// Mocked out for unit testing.
var (
	fs               = afero.NewOsFs()
	newNotifyWatcher = fsnotify.NewWatcher
)

// ChangeKind describes what happened to a file.
type ChangeKind string

const (
	// Created means a new file appeared.
	Created ChangeKind = "created"

	// Modified means an existing file was written to.
	Modified ChangeKind = "modified"

	// Deleted means a file was removed or moved away.
	Deleted ChangeKind = "deleted"
)

// ChangeEvent is a single file change observed under the watched root.
type ChangeEvent struct {
	Path       string
	Kind       ChangeKind
	OccurredAt time.Time
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}

// dirWatcher is the subset of fsnotify.Watcher used when new directories
// appear under the root.
type dirWatcher interface {
	Add(string) error
}

// Watcher recursively watches a directory and invokes its listener whenever
// a file under it changes. Bursts of changes are collapsed by a
// DebounceGate.
type Watcher struct {
	gate *DebounceGate

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	notify    *fsnotify.Watcher
	stop      chan struct{}
	wg        sync.WaitGroup

	// mu protects the fields below, which are also accessed by the event
	// goroutine.
	mu       sync.Mutex
	listener func()
	root     string
	running  bool
	dirs     map[string]struct{}
}

// New creates a stopped Watcher that debounces events with the given gate.
func New(gate *DebounceGate) *Watcher {
	if gate == nil {
		gate = NewDebounceGate(DefaultDebounceWindow, nil)
	}
	return &Watcher{gate: gate, dirs: map[string]struct{}{}}
}

// SetListener registers the callback invoked for each forwarded change. The
// callback runs on the watcher's event goroutine, so it must not block.
func (w *Watcher) SetListener(listener func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listener = listener
}

// Start begins watching root. If the watcher is already running, the
// previous subscription is torn down first.
func (w *Watcher) Start(root string) error {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()

	w.stopLocked()

	fi, err := fs.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.FileNotFound{Path: root}
		}
		return errors.WithContext(err, "stat")
	}
	if !fi.IsDir() {
		return errors.NewFriendlyError("%q is not a directory", root)
	}

	dirs, err := getDirsToWatch(root)
	if err != nil {
		return errors.WithContext(err, "get dirs")
	}

	notify, err := newNotifyWatcher()
	if err != nil {
		return errors.WithContext(err, "create watcher")
	}

	for _, dir := range dirs {
		if err := notify.Add(dir); err != nil {
			// Close the watcher so that we release the file handlers for the
			// previously added paths.
			if err := notify.Close(); err != nil {
				log.WithError(err).Warn("Failed to close file watcher")
			}
			return errors.WithContext(err, fmt.Sprintf("watch %q", dir))
		}
	}

	w.mu.Lock()
	w.root = root
	w.running = true
	w.dirs = map[string]struct{}{}
	for _, dir := range dirs {
		w.dirs[dir] = struct{}{}
	}
	w.mu.Unlock()

	w.notify = notify
	w.stop = make(chan struct{})
	w.wg.Add(1)
	go w.processEvents(notify, w.stop)

	log.WithField("root", root).WithField("dirs", len(dirs)).Debug("Started watching")
	return nil
}

// Stop releases the OS subscription. The listener is never invoked after
// Stop returns. It is a no-op if the watcher isn't running.
func (w *Watcher) Stop() {
	w.lifecycle.Lock()
	defer w.lifecycle.Unlock()
	w.stopLocked()
}

// Pause stops watching, but remembers the root so that Resume can restart
// it.
func (w *Watcher) Pause() {
	w.Stop()
}

// Resume restarts watching the root given to the last call to Start. It is a
// no-op if the watcher is already running.
func (w *Watcher) Resume() error {
	w.mu.Lock()
	running, root := w.running, w.root
	w.mu.Unlock()

	if running {
		return nil
	}
	if root == "" {
		return errors.New("watcher was never started")
	}
	return w.Start(root)
}

// IsRunning returns whether there's an active subscription.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) stopLocked() {
	if w.notify == nil {
		return
	}

	close(w.stop)
	if err := w.notify.Close(); err != nil {
		log.WithError(err).Warn("Failed to close file watcher")
	}
	w.wg.Wait()
	w.notify = nil

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

func (w *Watcher) processEvents(notify *fsnotify.Watcher, stop <-chan struct{}) {
	defer w.wg.Done()
	for {
		select {
		case <-stop:
			return
		case event, ok := <-notify.Events:
			if !ok {
				return
			}
			w.handleEvent(notify, event)
		case err, ok := <-notify.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("File watcher error")
		}
	}
}

func (w *Watcher) handleEvent(watcher dirWatcher, event fsnotify.Event) {
	change, ok := w.toChangeEvent(watcher, event)
	if !ok {
		return
	}

	if !w.gate.Allow() {
		log.WithField("change", change.String()).Debug("Change absorbed by debounce window")
		return
	}

	log.WithField("change", change.String()).Debug("Save directory changed")
	w.mu.Lock()
	listener := w.listener
	w.mu.Unlock()
	if listener != nil {
		listener()
	}
}

// toChangeEvent converts a raw event into a file change. Directory events
// are not changes, but new directories are added to the watch so that files
// created inside them are noticed.
func (w *Watcher) toChangeEvent(watcher dirWatcher, event fsnotify.Event) (ChangeEvent, bool) {
	change := ChangeEvent{Path: event.Name, OccurredAt: w.gate.clock.Now()}
	switch {
	case event.Op.Has(fsnotify.Create):
		if fi, err := fs.Stat(event.Name); err == nil && fi.IsDir() {
			w.watchNewDir(watcher, event.Name)
			return ChangeEvent{}, false
		}
		change.Kind = Created
	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		if w.forgetDir(event.Name) {
			return ChangeEvent{}, false
		}
		change.Kind = Deleted
	case event.Op.Has(fsnotify.Write):
		if w.isWatchedDir(event.Name) {
			return ChangeEvent{}, false
		}
		change.Kind = Modified
	default:
		return ChangeEvent{}, false
	}
	return change, true
}

func (w *Watcher) watchNewDir(watcher dirWatcher, dir string) {
	dirs, err := getDirsToWatch(dir)
	if err != nil {
		log.WithError(err).WithField("dir", dir).Warn("Failed to list new directory")
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, d := range dirs {
		if err := watcher.Add(d); err != nil {
			log.WithError(err).WithField("dir", d).Warn("Failed to watch new directory")
			continue
		}
		w.dirs[d] = struct{}{}
	}
}

// forgetDir drops dir and its children from the watched set. It returns
// false if dir wasn't being watched.
func (w *Watcher) forgetDir(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.dirs[dir]; !ok {
		return false
	}
	prefix := dir + string(filepath.Separator)
	for d := range w.dirs {
		if d == dir || strings.HasPrefix(d, prefix) {
			delete(w.dirs, d)
		}
	}
	return true
}

func (w *Watcher) isWatchedDir(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.dirs[path]
	return ok
}

// getDirsToWatch returns root and all directories below it. fsnotify doesn't
// watch recursively, so each directory gets its own watch.
func getDirsToWatch(root string) (dirs []string, err error) {
	err = afero.Walk(fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return errors.WithContext(err, "walk error")
		}
		if fi.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs, err
}
