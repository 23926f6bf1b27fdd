// Package dirwatch calls back when the contents of a directory change.
//
// Shared directories are often network mounts or sync-client folders where
// inotify events are unreliable, so every watch also rescans on a timer.
package dirwatch

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long events are collected before onChange runs.
const DefaultDebounce = 100 * time.Millisecond

// Watcher watches one directory.
type Watcher struct {
	dir      string
	interval time.Duration
	debounce time.Duration
	log      *zap.Logger
}

// New returns a watcher for dir that also fires every interval. A zero
// interval disables the timer.
func New(dir string, interval time.Duration, log *zap.Logger) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Watcher{
		dir:      dir,
		interval: interval,
		debounce: DefaultDebounce,
		log:      log,
	}
}

// Run blocks until ctx is done, calling onChange after each burst of
// filesystem events and on every tick. If fsnotify cannot be set up the
// watcher keeps running on the timer alone.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}

	var events <-chan fsnotify.Event
	var errs <-chan error

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn("fsnotify unavailable, polling only", zap.String("dir", w.dir), zap.Error(err))
	} else {
		defer func() { _ = fw.Close() }()
		if err := fw.Add(w.dir); err != nil {
			w.log.Warn("cannot watch dir, polling only", zap.String("dir", w.dir), zap.Error(err))
		} else {
			events = fw.Events
			errs = fw.Errors
		}
	}

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	debounce := time.NewTimer(0)
	<-debounce.C // drain initial timer
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(w.debounce)

		case <-debounce.C:
			onChange()

		case <-tick:
			onChange()

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.log.Warn("watch error", zap.String("dir", w.dir), zap.Error(err))
		}
	}
}
