// Package builtins provides rego functions which policies can call while deciding on device access.
package builtins

import (
	"sync"

	"github.com/open-policy-agent/opa/rego"
	log "github.com/sirupsen/logrus"
	"github.com/unbasical/devgate/pkg/constants/logging"
)

//nolint:gochecknoglobals
var registerOnce sync.Once

// Register adds all devgate builtins to the rego runtime. It has to run before policies are compiled
// and is safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		for name, level := range logFunctions {
			rego.RegisterBuiltin1(logDecl(name), makeBuiltinLogFuncForLevel(level))
		}
		rego.RegisterBuiltin1(tangoDeviceDecl, tangoDevice)
		logging.LogForComponent("builtins").Debug("Loaded OPA builtins")
	})
}

//nolint:gochecknoglobals
var logFunctions = map[string]log.Level{
	"log_debug": log.DebugLevel,
	"log_info":  log.InfoLevel,
	"log_warn":  log.WarnLevel,
	"log_error": log.ErrorLevel,
}
