package artifact

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce coalesces the burst of filesystem events an artifact
// rebuild produces into a single reload.
const defaultDebounce = 500 * time.Millisecond

// watchedFiles are the artifact file names whose changes invalidate the
// memoized bundle. Everything else in the directory is ignored.
var watchedFiles = map[string]struct{}{
	ManifestFileName:   {},
	CatalogFileName:    {},
	SourcesFileName:    {},
	ManifestBackupName: {},
	CatalogBackupName:  {},
}

// Watcher observes the artifact root directory and invokes a callback when
// an artifact file changes on disk. Rapid event bursts are debounced.
type Watcher struct {
	watcher   *fsnotify.Watcher
	logger    *slog.Logger
	debounce  time.Duration
	onChange  func()
	stopCh    chan struct{}
	closeOnce sync.Once
}

// NewWatcher starts watching dir for artifact file changes. onChange runs on
// the watcher goroutine after the debounce window closes; it must not block
// for long. A zero debounce uses the default.
func NewWatcher(dir string, debounce time.Duration, onChange func(), logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating filesystem watcher: %w", err)
	}

	if err := fsWatcher.Add(dir); err != nil {
		_ = fsWatcher.Close()

		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	w := &Watcher{
		watcher:  fsWatcher,
		logger:   logger,
		debounce: debounce,
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}

	go w.watchLoop()

	logger.Info("artifact watcher started", slog.String("dir", dir))

	return w, nil
}

// watchLoop drains filesystem events until Close. Events for watched
// artifact files reset the debounce timer; when it fires, the callback runs.
func (w *Watcher) watchLoop() {
	var debounceTimer *time.Timer

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}

				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}

			name := filepath.Base(event.Name)
			if _, watched := watchedFiles[name]; !watched {
				continue
			}

			w.logger.Debug("artifact file event",
				slog.String("file", name),
				slog.String("op", event.Op.String()),
			)

			if debounceTimer != nil {
				debounceTimer.Stop()
			}

			debounceTimer = time.AfterFunc(w.debounce, func() {
				w.logger.Info("artifact change detected, invalidating memoized state",
					slog.String("file", name),
				)
				w.onChange()
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}

				return
			}

			w.logger.Warn("artifact watcher error", slog.String("error", err.Error()))

		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}

			return
		}
	}
}

// Close stops the watch loop and releases the underlying watcher.
func (w *Watcher) Close() error {
	var err error

	w.closeOnce.Do(func() {
		close(w.stopCh)
		err = w.watcher.Close()
	})

	return err
}
