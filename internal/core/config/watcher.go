package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const configDebounce = 100 * time.Millisecond

// Watcher hands a freshly loaded Config to its callback whenever the file
// content changes. Edits that fail to load or validate are logged and
// dropped, so the caller keeps running on the last good configuration.
type Watcher struct {
	path     string
	callback func(*Config)

	mu   sync.Mutex
	last []byte

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewWatcher(path string, callback func(*Config)) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		callback: callback,
		stop:     make(chan struct{}),
	}
}

// Start begins watching. The directory is watched instead of the file
// because editors commonly save by renaming a temp file over it.
func (w *Watcher) Start(ctx context.Context) error {
	if data, err := os.ReadFile(w.path); err == nil {
		w.last = data
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	w.wg.Add(1)
	go w.loop(ctx, fsw)
	log.Printf("watching config %s", w.path)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	defer fsw.Close()

	debounce := time.NewTimer(time.Hour)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			debounce.Reset(configDebounce)
		case <-debounce.C:
			if err := w.reload(); err != nil && !errors.Is(err, errUnchanged) {
				log.Printf("config %s not applied: %v", w.path, err)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Printf("config watcher error: %v", err)
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
}

var errUnchanged = errors.New("content unchanged")

// reload loads, overrides and validates the file, then invokes the
// callback. Saving identical bytes is reported as errUnchanged.
func (w *Watcher) reload() error {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	same := w.last != nil && bytes.Equal(data, w.last)
	w.mu.Unlock()
	if same {
		return errUnchanged
	}

	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	ApplyEnvOverrides(cfg)
	if errs := Validate(cfg); len(errs) > 0 {
		return fmt.Errorf("invalid after env overrides: %w", errors.Join(errs...))
	}

	w.mu.Lock()
	w.last = data
	w.mu.Unlock()

	log.Printf("config %s reloaded", w.path)
	if w.callback != nil {
		w.callback(cfg)
	}
	return nil
}
