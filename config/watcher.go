package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeEvent describes a reloaded configuration.
type ChangeEvent struct {
	Path   string
	Config *Config
	Time   time.Time
}

// Watcher monitors a config file and invokes a callback with the
// reloaded configuration when its content changes. It watches the
// containing directory so atomic saves (rename-over) are caught.
type Watcher struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger
	onChange func(ChangeEvent)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	lastHash  string

	mu      sync.Mutex
	pending bool
	lastEvt time.Time
}

// NewWatcher creates a watcher for the given config file path.
func NewWatcher(path string, onChange func(ChangeEvent), logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     path,
		debounce: 500 * time.Millisecond,
		logger:   logger,
		onChange: onChange,
		done:     make(chan struct{}),
	}
}

// SetDebounce overrides the event debounce window.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins watching. The file must be loadable at start so a broken
// config is caught before the engine runs with it.
func (w *Watcher) Start() error {
	hash, err := w.hash()
	if err != nil {
		return fmt.Errorf("config watcher: initial hash: %w", err)
	}
	w.lastHash = hash

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: create fsnotify: %w", err)
	}
	w.fsWatcher = fsw

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("config watcher: watch %s: %w", dir, err)
	}

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop terminates the watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.mu.Lock()
				w.pending = true
				w.lastEvt = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-ticker.C:
			w.mu.Lock()
			ready := w.pending && time.Since(w.lastEvt) >= w.debounce
			if ready {
				w.pending = false
			}
			w.mu.Unlock()
			if ready {
				w.processChange()
			}
		}
	}
}

// processChange reloads the config and fires the callback only when the
// file content actually changed.
func (w *Watcher) processChange() {
	newHash, err := w.hash()
	if err != nil {
		w.logger.Error("Config watcher: failed to hash config", "path", w.path, "error", err)
		return
	}
	if newHash == w.lastHash {
		return
	}

	cfg, err := LoadFromFile(w.path)
	if err != nil {
		w.logger.Error("Config watcher: failed to load config", "path", w.path, "error", err)
		return
	}
	w.lastHash = newHash

	w.logger.Info("Config changed", "path", w.path)
	w.onChange(ChangeEvent{Path: w.path, Config: cfg, Time: time.Now()})
}

func (w *Watcher) hash() (string, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
