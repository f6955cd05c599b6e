package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the write bursts editors produce on save.
const debounceWindow = 100 * time.Millisecond

// Watcher reloads a config file on change and hands the result to a callback.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching path and invokes onChange with each successfully
// reloaded config. Reload errors are logged and skipped; the previous config
// stays in effect.
func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory; editors often replace the file on save, which
	// drops a watch registered on the file itself.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		watcher: fsw,
		done:    make(chan struct{}),
	}
	go w.loop(onChange)
	return w, nil
}

func (w *Watcher) loop(onChange func(*Config)) {
	var pending *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending == nil {
				pending = time.NewTimer(debounceWindow)
				fire = pending.C
			} else {
				pending.Reset(debounceWindow)
			}
		case <-fire:
			pending = nil
			fire = nil
			cfg, err := LoadFromPath(w.path)
			if err != nil {
				log.Printf("[config] reload of %s failed: %v", w.path, err)
				continue
			}
			onChange(cfg)
		case <-w.watcher.Errors:
			// Ignore errors, keep watching
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.done)
	w.watcher.Close()
}
