package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher watches a config file and reloads the Manager when it
// changes, so quota and threshold changes take effect without a
// restart. Rapid successive writes are debounced into one reload.
type Watcher struct {
	manager  *Manager
	path     string
	onReload func(Config)

	watcher       *fsnotify.Watcher
	debounceDelay time.Duration
	logger        zerolog.Logger

	mu            sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher creates a Watcher for the config file at path. onReload is
// invoked with the new configuration after every successful reload; it
// may be nil.
func NewWatcher(manager *Manager, path string, onReload func(Config), logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		manager:       manager,
		path:          path,
		onReload:      onReload,
		watcher:       fsw,
		debounceDelay: 100 * time.Millisecond,
		logger:        logger.With().Str("component", "config.watcher").Logger(),
	}, nil
}

// Run watches the file until ctx is cancelled. It blocks; run it in its
// own goroutine. fsnotify watches directories, so the file's parent is
// registered and events for other files in it are ignored.
func (w *Watcher) Run(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)

	if err := w.watcher.Add(dir); err != nil {
		w.logger.Error().Err(err).Str("dir", dir).Msg("Failed to watch config directory")
		return err
	}

	w.logger.Info().
		Str("file", w.path).
		Dur("debounce", w.debounceDelay).
		Msg("Watching config file")

	defer func() {
		if err := w.watcher.Close(); err != nil {
			w.logger.Warn().Err(err).Msg("Error closing watcher")
		}
		w.logger.Info().Msg("Stopped watching config file")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			// Remove is covered by the create event of the next write.
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				w.logger.Debug().
					Str("op", event.Op.String()).
					Str("file", event.Name).
					Msg("Config file changed")
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("File watcher error")
		}
	}
}

// scheduleReload resets the debounce timer; the reload itself runs when
// the timer fires with no further writes in between.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceDelay, func() {
		if err := w.manager.Load(w.path); err != nil {
			w.logger.Error().Err(err).Msg("Failed to reload config, keeping previous")
			return
		}
		w.logger.Info().Msg("Config reloaded")
		if w.onReload != nil {
			w.onReload(w.manager.Get())
		}
	})
}
