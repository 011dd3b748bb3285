package config

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/vkexec/engine/core"
)

// Watcher reloads a configuration file when it changes on disk.
type Watcher struct {
	path     string
	fsnotify *fsnotify.Watcher
	onChange func(*Config)

	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	isClosed bool
}

// Watch calls onChange with the new configuration every time path is
// written or re-created. Invalid files are logged and skipped. The parent
// directory is watched so that editors replacing the file are seen too.
func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		fsWatch.Close()
		return nil, err
	}

	w := &Watcher{
		path:     abs,
		fsnotify: fsWatch,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.start()
	return w, nil
}

func (w *Watcher) start() {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != w.path {
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.reload()
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("config watcher: %s", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		core.LogWarn("ignoring config change: %s", err)
		return
	}
	core.LogInfo("configuration reloaded from %s", w.path)
	w.onChange(cfg)
}

// Close stops watching. Closing twice returns an error.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.isClosed {
		w.mu.Unlock()
		return errors.New("config watcher already closed")
	}
	w.isClosed = true
	w.mu.Unlock()

	close(w.done)
	err := w.fsnotify.Close()
	w.wg.Wait()
	return err
}
