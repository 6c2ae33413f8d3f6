package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/unbasical/devgate/configs"
	"github.com/unbasical/devgate/pkg/constants/logging"
	"github.com/unbasical/devgate/pkg/watcher"
)

// NewFileWatcher instantiates a new watcher.ConfigWatcher observing all files below watchPath.
//
// Every relevant change reloads the configuration through the loader and notifies all observers.
// The watcher stops as soon as the passed context is done.
func NewFileWatcher(ctx context.Context, loader configs.ConfigLoader, watchPath string) (watcher.ConfigWatcher, error) {
	fileWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "unable to create file watcher")
	}

	newWatcher := &fileConfigWatcher{
		loader:    loader,
		watchPath: watchPath,
	}
	if err := addWatchDirsRecursive(newWatcher, fileWatcher); err != nil {
		_ = fileWatcher.Close()
		return nil, err
	}

	go newWatcher.watchRoutine(fileWatcher)
	go closeWatcherOnDone(ctx, fileWatcher)
	return newWatcher, nil
}

type fileConfigWatcher struct {
	loader    configs.ConfigLoader
	watchPath string

	mu        sync.Mutex
	observers []func(watcher.ChangeType, *configs.ExternalConfig, error)
}

// watchRoutine reacts to file change events and triggers observer
func (w *fileConfigWatcher) watchRoutine(fileWatcher *fsnotify.Watcher) {
	for {
		select {
		case event, ok := <-fileWatcher.Events:
			if !ok {
				return
			}

			// Notify observers if a file was created, modified or deleted
			if isRelevantEvent(event) {
				change := extractChangeType(event)
				logging.LogForComponent("fileConfigWatcher").Infof("update observers due to %s change: %s", change, event)

				loaded, err := w.loader.Load()
				w.notify(change, loaded, err)
			}
		case err, ok := <-fileWatcher.Errors:
			if !ok {
				return
			}
			logging.LogForComponent("fileConfigWatcher").Warnf("fsnotify encountered an error: %s", err.Error())
		}
	}
}

func (w *fileConfigWatcher) notify(change watcher.ChangeType, loaded *configs.ExternalConfig, err error) {
	w.mu.Lock()
	observers := make([]func(watcher.ChangeType, *configs.ExternalConfig, error), len(w.observers))
	copy(observers, w.observers)
	w.mu.Unlock()

	for _, observer := range observers {
		observer(change, loaded, err)
	}
}

// isRelevantEvent returns true if a file was created, modified or deleted
func isRelevantEvent(event fsnotify.Event) bool {
	writeEvent := event.Op&fsnotify.Write == fsnotify.Write
	createEvent := event.Op&fsnotify.Create == fsnotify.Create
	removeEvent := event.Op&fsnotify.Remove == fsnotify.Remove

	if removeEvent {
		return true
	}

	fileInfo, err := os.Stat(event.Name)
	if err != nil {
		logging.LogForComponent("fileConfigWatcher").Warnf("Unable to get information about file %q", event.Name)
		return false
	}
	return !fileInfo.IsDir() && (createEvent || writeEvent)
}

// extractChangeType maps file system changes to internal change types in order to ease observer trigger filter
func extractChangeType(event fsnotify.Event) watcher.ChangeType {
	switch filepath.Ext(event.Name) {
	case ".rego":
		return watcher.ChangeRego
	case ".yml", ".yaml":
		return watcher.ChangeConf
	default:
		return watcher.ChangeUnknown
	}
}

// closeWatcherOnDone closes the watcher as soon as the context is done
func closeWatcherOnDone(ctx context.Context, fileWatcher *fsnotify.Watcher) {
	<-ctx.Done()

	logging.LogForComponent("fileConfigWatcher").Infoln("Closing...")
	if err := fileWatcher.Close(); err != nil {
		logging.LogForComponent("fileConfigWatcher").WithError(err).Errorln("Unable to close file watcher")
	}
}

// addWatchDirsRecursive adds directories recursively to the watch list
func addWatchDirsRecursive(configWatcher *fileConfigWatcher, fileWatcher *fsnotify.Watcher) error {
	err := filepath.Walk(configWatcher.watchPath,
		func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}

			if info.IsDir() {
				logging.LogForComponent("fileConfigWatcher").Infof("Start watching path %q", path)
				if err := fileWatcher.Add(path); err != nil {
					return errors.Wrapf(err, "unable to watch path %q", path)
				}
			}
			return nil
		})
	return errors.Wrap(err, "error during filepath walk")
}

// Watch - see watcher.ConfigWatcher
func (w *fileConfigWatcher) Watch(callback func(watcher.ChangeType, *configs.ExternalConfig, error)) {
	w.mu.Lock()
	w.observers = append(w.observers, callback)
	w.mu.Unlock()

	loaded, err := w.loader.Load()
	callback(watcher.ChangeAll, loaded, err)
}
