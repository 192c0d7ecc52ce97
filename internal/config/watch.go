package config

import (
	"context"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultReloadDebounce matches the teacher's file-watcher debounce window
// (internal/daemon/watcher.go), reused here for config-file hygiene rather
// than indexed-directory watching.
const defaultReloadDebounce = 100 * time.Millisecond

// Watch reloads the config file at path whenever it is written, debounced
// so a burst of writes from an editor's save produces one reload. Each
// reload loads a fresh *Config and passes it to onReload; decode errors are
// logged and onReload is not called for that reload. Watch blocks until ctx
// is cancelled.
func Watch(ctx context.Context, path string, onReload func(*Config)) error {
	if path == "" {
		<-ctx.Done()
		return ctx.Err()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		pending bool
	)
	timer := time.NewTimer(defaultReloadDebounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			log.Printf("config: reload %s failed, keeping previous config: %v", path, err)
			return
		}
		if warnings := Validate(cfg); len(warnings) > 0 {
			for _, w := range warnings {
				log.Printf("config: reload warning: %s", w)
			}
		}
		log.Printf("config: reloaded %s", path)
		onReload(cfg)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			mu.Lock()
			if !pending {
				pending = true
				timer.Reset(defaultReloadDebounce)
			}
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("config: watch error: %v", err)
		case <-timer.C:
			mu.Lock()
			pending = false
			mu.Unlock()
			reload()
		}
	}
}
