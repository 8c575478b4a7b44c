package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gelfstream/gelfd/internal/logging"
)

// debounceDelay coalesces the event bursts editors and atomic renames produce
const debounceDelay = 200 * time.Millisecond

// Watcher reloads the configuration file when it changes on disk
type Watcher struct {
	path     string
	base     string
	logger   *logging.Logger
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher for the given config file. The onChange
// callback receives each successfully loaded configuration.
func NewWatcher(path string, logger *logging.Logger, onChange func(*Config)) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &Watcher{
		path:     filepath.Clean(path),
		base:     filepath.Base(path),
		logger:   logger.WithComponent("config"),
		watcher:  watcher,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
	}

	return w, nil
}

// Start starts watching for file events
func (w *Watcher) Start() error {
	// Watch the directory, not the file: atomic replaces drop a watch
	// held on the file itself
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	w.wg.Add(1)
	go w.watchLoop()

	w.logger.Info().Str("path", w.path).Msg("Watching config file for changes")
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	w.cancel()
	w.watcher.Close()
	w.wg.Wait()
}

// watchLoop watches for file events
func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	var debounce *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.matches(event) {
				continue
			}
			w.logger.Debug().Str("op", event.Op.String()).Msg("Config file event")
			if debounce == nil {
				debounce = time.NewTimer(debounceDelay)
				fire = debounce.C
			} else {
				debounce.Reset(debounceDelay)
			}

		case <-fire:
			debounce = nil
			fire = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("File watcher error")

		case <-w.ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

// matches reports whether the event concerns the config file
func (w *Watcher) matches(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != w.base {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

// reload parses the file again and hands the result to the callback.
// A file that fails to load leaves the running configuration untouched.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Msg("Config reload failed, keeping previous configuration")
		return
	}

	w.logger.Info().Msg("Config file reloaded")
	w.onChange(cfg)
}
