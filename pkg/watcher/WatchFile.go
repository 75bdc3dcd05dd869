// Package watcher with a debounced file watcher
package watcher

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is the quiet time after the last change before the handler is invoked
const DefaultDebounce = 100 * time.Millisecond

// WatchFile invokes the handler when the file changes.
// Multiple quick changes are debounced into a single invocation. After each invocation the file is
// watched again, as editors that save by rename change the file's inode.
//
//	path      file to watch
//	debounce  quiet time before invoking the handler, 0 for the default
//	handler   to invoke on change. Errors are logged.
//
// This returns the fsnotify watcher. Close it when done.
func WatchFile(path string, debounce time.Duration, handler func(path string) error) (*fsnotify.Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logrus.Errorf("WatchFile: unable to create watcher: %s", err)
		return nil, err
	}
	callbackTimer := time.AfterFunc(debounce, func() {
		logrus.Debugf("WatchFile: invoking handler for %s", path)
		if err := handler(path); err != nil {
			logrus.Warningf("WatchFile: handler for %s failed: %s", path, err)
		}
		_ = watcher.Remove(path)
		if err := watcher.Add(path); err != nil {
			logrus.Warningf("WatchFile: unable to resume watching %s: %s", path, err)
		}
	})
	callbackTimer.Stop()

	err = watcher.Add(path)
	if err != nil {
		logrus.Errorf("WatchFile: unable to watch %s: %s", path, err)
		_ = watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					callbackTimer.Stop()
					return
				}
				logrus.Debugf("WatchFile: event %s on %s", event.Op, event.Name)
				callbackTimer.Reset(debounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.Errorf("WatchFile: %s", err)
			}
		}
	}()
	return watcher, nil
}
