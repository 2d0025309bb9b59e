package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"app-fritzbutton-go/internal/pkg/logger"

	"github.com/fsnotify/fsnotify"
)

const (
	minTimeBetweenReloadAttempts = 500 * time.Millisecond
	delayBetweenEventAndReload   = 50 * time.Millisecond
)

// Watcher reloads the configuration file when it is written and hands the
// validated result to a callback. An invalid file is logged and ignored so
// the running configuration stays in effect.
type Watcher struct {
	path     string
	onChange func(*AppConfig)
	lc       logger.LoggingClient

	fsw    *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewWatcher creates a watcher for path. The parent directory is watched so
// that editors replacing the file through rename are picked up too.
func NewWatcher(path string, lc logger.LoggingClient, onChange func(*AppConfig)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	return &Watcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		lc:       lc,
		fsw:      fsw,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins delivering reloads in a background goroutine
func (w *Watcher) Start() {
	go w.run()
	w.lc.Debug("Watching config file for changes", "path", w.path)
}

// Stop ends the watch and waits for the goroutine to exit
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stopCh)
		<-w.doneCh
		_ = w.fsw.Close()
	})
}

// run debounces change events. A burst is reloaded once, after
// delayBetweenEventAndReload, and reloads are at least
// minTimeBetweenReloadAttempts apart. Events seen while a reload is pending
// are covered by it; later events schedule a trailing reload, so the last
// write to the file is always applied.
func (w *Watcher) run() {
	defer close(w.doneCh)

	lastAttemptedReload := time.Now().Add(-minTimeBetweenReloadAttempts)
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.stopCh:
			w.lc.Debug("Stopping config file watcher")
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.lc.Warn("Config watcher error:", err.Error())
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if pending != nil {
				continue
			}
			delay := delayBetweenEventAndReload
			if wait := time.Until(lastAttemptedReload.Add(minTimeBetweenReloadAttempts)); wait > delay {
				delay = wait
			}
			timer = time.NewTimer(delay)
			pending = timer.C
		case <-pending:
			pending = nil
			lastAttemptedReload = time.Now()
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.lc.Warnf("Failed to reload config file, keeping current configuration: %v", err)
		return
	}
	w.lc.Info("Reloaded config successfully")
	if w.onChange != nil {
		w.onChange(cfg)
	}
}
