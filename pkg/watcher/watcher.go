// Package watcher contains components that are used for configuration and policy reloading of devgate.
package watcher

import "github.com/unbasical/devgate/configs"

// ConfigWatcher is the interface that manages configuration reloading.
//
// Therefore a callback procedure is provided, which is always called if the configuration or a policy changes.
type ConfigWatcher interface {

	// Watches for changes and calls the passed callback procedure every time the config
	// or a policy changes. The callback is called once immediately with ChangeAll.
	Watch(callback func(ChangeType, *configs.ExternalConfig, error))
}

// Type of changes that can occur during Watch()
type ChangeType int

const (
	// Passed to Watch() on initial load
	ChangeAll ChangeType = 0
	// Passed to Watch() if any file with ending '.rego' changed
	ChangeRego ChangeType = 1
	// Passed to Watch() if any file with ending .yml or .yaml changed
	ChangeConf ChangeType = 2
	// Passed to Watch() if any file with unknown file ending changed
	ChangeUnknown ChangeType = 3
)

func (c ChangeType) String() string {
	switch c {
	case ChangeAll:
		return "ALL"
	case ChangeRego:
		return "REGO"
	case ChangeConf:
		return "CONF"
	default:
		return "UNKNOWN"
	}
}
