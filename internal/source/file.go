package source

import (
	"fmt"
	"log"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/flitsinc/go-automations/internal/event"
)

// File watches a directory and emits file.created, file.changed, and
// file.removed events. The dedup key folds a burst of writes to the
// same path into one event per dedup window.
type File struct {
	id  string
	dir string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewFile(id, dir string) *File {
	return &File{id: id, dir: dir}
}

func (f *File) ID() string {
	return f.id
}

func (f *File) Type() string {
	return "file"
}

func (f *File) Start(emit func(event.Input)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.watcher != nil {
		return fmt.Errorf("file source %s already started", f.id)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(f.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", f.dir, err)
	}

	f.watcher = watcher
	f.done = make(chan struct{})
	go f.run(watcher, f.done, emit)
	return nil
}

func (f *File) run(watcher *fsnotify.Watcher, done chan struct{}, emit func(event.Input)) {
	defer close(done)
	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			eventType := classify(evt.Op)
			if eventType == "" {
				continue
			}
			emit(event.Input{
				Type:     eventType,
				Source:   f.id,
				Payload:  map[string]any{"path": evt.Name, "op": evt.Op.String()},
				DedupKey: eventType + ":" + evt.Name,
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Printf("file source %s: %v", f.id, err)
		}
	}
}

func classify(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "file.created"
	case op.Has(fsnotify.Write):
		return "file.changed"
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return "file.removed"
	default:
		// Chmod-only churn is noise.
		return ""
	}
}

func (f *File) Stop() error {
	f.mu.Lock()
	watcher := f.watcher
	done := f.done
	f.watcher = nil
	f.done = nil
	f.mu.Unlock()
	if watcher == nil {
		return nil
	}
	err := watcher.Close()
	<-done
	return err
}
