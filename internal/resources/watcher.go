// Package resources watches on-disk resources and reloads them on change.
package resources

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a burst of file events must settle before the
// reload callback runs.
const DefaultDebounce = 500 * time.Millisecond

// Watcher calls a reload callback when files in a directory change.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchDir starts watching directory. Every write, create or remove event
// schedules callback after the debounce delay has passed without new events.
func WatchDir(
	directory string,
	debounce time.Duration,
	callback func(),
) (
	*Watcher,
	error,
) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	err = watcher.Add(directory)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}

	w := &Watcher{
		watcher: watcher,
		done:    make(chan struct{}),
	}

	reload := make(chan struct{}, 1)
	go w.scheduleReload(reload, debounce, callback)
	go w.handleEvents(reload)
	return w, nil
}

// Close stops the watcher. The callback is not called afterwards.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) handleEvents(reload chan<- struct{}) {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Create) {
				select {
				case reload <- struct{}{}:
				default:
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("resource watcher error", "err", err)
		}
	}
}

func (w *Watcher) scheduleReload(
	reload <-chan struct{},
	debounce time.Duration,
	callback func(),
) {
	var timer *time.Timer = nil
	var c <-chan time.Time = nil
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case <-reload:
			if timer != nil {
				timer.Reset(debounce)
			} else {
				timer = time.NewTimer(debounce)
				c = timer.C
			}

		case <-c:
			c = nil
			timer = nil
			callback()
		}
	}
}
