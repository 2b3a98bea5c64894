// Package watcher reports changes to session logs under the projects root.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/drewfead/vigil/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// Op is the kind of change observed.
type Op int

const (
	Modified Op = iota
	Removed
)

func (o Op) String() string {
	if o == Removed {
		return "removed"
	}
	return "modified"
}

// Change is one file change.
type Change struct {
	Path string
	Op   Op
}

// Watcher watches the projects root and each project directory in it.
// Handler calls are made from a single goroutine, in event order.
type Watcher struct {
	root    string
	ext     string
	handler func(Change)
	log     *slog.Logger

	mu     sync.Mutex
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a watcher for files with extension ext under root.
func New(root, ext string, handler func(Change)) *Watcher {
	return &Watcher{
		root:    root,
		ext:     ext,
		handler: handler,
		log:     logging.Component("watcher"),
	}
}

// Start begins watching. Starting a running watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fsw != nil {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsw.Add(w.root); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.root, err)
	}

	entries, err := os.ReadDir(w.root)
	if err != nil {
		fsw.Close()
		return fmt.Errorf("failed to read %s: %w", w.root, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addDir(fsw, filepath.Join(w.root, e.Name()))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.fsw = fsw
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.loop(ctx, fsw, w.done)

	w.log.Debug("watching session logs", "root", w.root, "dirs", len(fsw.WatchList()))
	return nil
}

// Stop ends watching and waits until no further handler calls can happen.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fsw, cancel, done := w.fsw, w.cancel, w.done
	w.fsw, w.cancel, w.done = nil, nil, nil
	w.mu.Unlock()

	if fsw == nil {
		return
	}
	cancel()
	fsw.Close()
	<-done
}

func (w *Watcher) addDir(fsw *fsnotify.Watcher, dir string) {
	if err := fsw.Add(dir); err != nil {
		w.log.Debug("failed to watch project dir", "dir", dir, "error", err)
	}
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "goroutine", "log-watcher")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, fsw, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("log watcher error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event) {
	// A new project directory: watch it and report logs already inside,
	// since they may have been written before the watch was added.
	if event.Has(fsnotify.Create) && filepath.Dir(event.Name) == filepath.Clean(w.root) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addDir(fsw, event.Name)
			entries, _ := os.ReadDir(event.Name)
			for _, e := range entries {
				if !e.IsDir() && filepath.Ext(e.Name()) == w.ext {
					w.emit(ctx, Change{Path: filepath.Join(event.Name, e.Name()), Op: Modified})
				}
			}
			return
		}
	}

	if filepath.Ext(event.Name) != w.ext {
		return
	}

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.emit(ctx, Change{Path: event.Name, Op: Removed})
	case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
		w.emit(ctx, Change{Path: event.Name, Op: Modified})
	}
}

func (w *Watcher) emit(ctx context.Context, c Change) {
	if ctx.Err() != nil || w.handler == nil {
		return
	}
	w.handler(c)
}
