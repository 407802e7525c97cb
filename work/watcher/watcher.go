package watcher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"iptv-browser/work/logger"
)

// debounce absorbs the event bursts editors and atomic-save tools produce
// for a single logical change.
const debounce = 500 * time.Millisecond

// ConfigWatcher watches the config file and signals the reload channel when
// it changes. The file's directory is watched rather than the file itself so
// rename-based saves keep working.
type ConfigWatcher struct {
	path    string
	reload  chan<- struct{}
	watcher *fsnotify.Watcher
}

// New creates a watcher for the config file at path.
func New(path string, reload chan<- struct{}) (*ConfigWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	return &ConfigWatcher{
		path:    path,
		reload:  reload,
		watcher: fsw,
	}, nil
}

// Run delivers debounced reload signals until ctx is cancelled.
func (w *ConfigWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerC:
			logger.Info("config file changed, requesting reload")
			select {
			case w.reload <- struct{}{}:
			default:
				// A reload is already pending.
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error: %v", err)
		}
	}
}
