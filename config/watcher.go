package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/abcdqfr/rtl433-ha/errors"
)

// debounceInterval collapses editor write bursts into one reload.
const debounceInterval = 500 * time.Millisecond

// ChangeCallback receives each successfully reloaded configuration.
// A callback error is logged; the watcher keeps running.
type ChangeCallback func(cfg *Config) error

// Watcher reloads the config file on change and hands valid new
// configurations to a callback. Invalid edits are logged and skipped,
// so a typo never takes down a running daemon.
type Watcher struct {
	path     string
	callback ChangeCallback
	logger   *slog.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

// Watch starts watching path. The parent directory is watched rather
// than the file itself because editors and config managers typically
// replace the file on save.
func Watch(path string, callback ChangeCallback, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default().With("component", "config-watcher")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Watch", "resolve config path")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "config", "Watch", "create file watcher")
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		_ = fsw.Close()
		return nil, errors.Wrap(err, "config", "Watch", "watch config directory")
	}

	w := &Watcher{
		path:     absPath,
		callback: callback,
		logger:   logger,
		watcher:  fsw,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Close stops the watcher. Idempotent.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) loop() {
	var lastReload time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if time.Since(lastReload) < debounceInterval {
				continue
			}
			lastReload = time.Now()
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("ignoring invalid config change", "path", w.path, "error", err)
		return
	}

	w.logger.Info("config file changed, applying", "path", w.path)
	if err := w.callback(cfg); err != nil {
		w.logger.Error("failed to apply new config", "error", err)
	}
}
