package watcher

import (
	"github.com/unbasical/devgate/configs"
	"github.com/unbasical/devgate/pkg/watcher"
)

// NewSimple implements watcher.ConfigWatcher by loading the configuration exactly once.
func NewSimple(loader configs.ConfigLoader) watcher.ConfigWatcher {
	newWatcher := simpleConfigWatcher{
		loader: loader,
	}
	return &newWatcher
}

type simpleConfigWatcher struct {
	loader configs.ConfigLoader
}

// See pkg.watcher.ConfigWatcher
func (w *simpleConfigWatcher) Watch(callback func(watcher.ChangeType, *configs.ExternalConfig, error)) {
	loaded, err := w.loader.Load()
	callback(watcher.ChangeAll, loaded, err)
}
