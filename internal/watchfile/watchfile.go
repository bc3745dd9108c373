// Package watchfile signals changes to a single file on disk. The parent
// directory is watched so editors that replace the file through a rename
// are still observed.
package watchfile

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"pkt.systems/pslog"
)

// Watcher delivers coalesced change notifications for one file.
type Watcher struct {
	watcher *fsnotify.Watcher
	name    string
	events  chan struct{}
	stop    chan struct{}
	once    sync.Once
	logger  pslog.Logger
}

// New starts watching path.
func New(path string, logger pslog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watchfile: resolve %q: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watchfile: create watcher: %w", err)
	}
	dir := filepath.Dir(abs)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watchfile: watch %q: %w", dir, err)
	}
	w := &Watcher{
		watcher: fw,
		name:    filepath.Base(abs),
		events:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		logger:  logger,
	}
	go w.run()
	return w, nil
}

// Events is signalled at least once after every change. It is closed when
// the watcher stops.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.events)
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != w.name {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
				w.signal()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watchfile.error", "file", w.name, "error", err)
			w.signal()
		}
	}
}

func (w *Watcher) signal() {
	select {
	case w.events <- struct{}{}:
	default:
	}
}
