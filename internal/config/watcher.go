package config

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ScheduleSettings returns the planning defaults, so a loaded Config is a
// static settings provider
func (c *Config) ScheduleSettings() ScheduleConfig {
	return c.Schedule
}

// ChangeCallback is called with the new configuration after a reload
type ChangeCallback func(cfg *Config)

// Watcher keeps a configuration file loaded and reloads it when it changes
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	current  atomic.Pointer[Config]
	callback ChangeCallback
	logger   *logrus.Entry
	debounce time.Duration

	timer *time.Timer
	mu    sync.Mutex
}

// NewWatcher loads path and prepares to watch it. The file's directory is
// watched so editors that replace the file are handled.
func NewWatcher(path string, logger *logrus.Entry) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	w := &Watcher{
		path:     path,
		watcher:  fw,
		logger:   logger.WithField("component", "config-watcher"),
		debounce: 250 * time.Millisecond,
	}
	w.current.Store(cfg)
	return w, nil
}

// Current returns the most recently loaded configuration
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// ScheduleSettings returns the planning defaults of the current configuration
func (w *Watcher) ScheduleSettings() ScheduleConfig {
	return w.Current().Schedule
}

// OnChange sets the callback invoked after a successful reload
func (w *Watcher) OnChange(cb ChangeCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callback = cb
}

// SetDebounce sets how long to wait for writes to settle before reloading
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounce = d
}

// Run processes file events until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("Config watch error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != filepath.Clean(w.path) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		// Keep serving the last good configuration
		w.logger.WithError(err).Warn("Ignoring invalid config change")
		return
	}
	w.current.Store(cfg)
	w.logger.WithField("path", w.path).Info("Configuration reloaded")

	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()
	if cb != nil {
		cb(cfg)
	}
}
