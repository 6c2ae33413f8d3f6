package errors

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// Error thrown if a backend does not know a command devgate relies on.
// This is a broken deployment and never a per-request condition.
type CommandNotSupportedError struct {
	Command string
	Backend string
}

func (err CommandNotSupportedError) Error() string {
	return fmt.Sprintf("Command [%s] is not supported by backend [%s]", err.Command, err.Backend)
}

// Error thrown if a backend (database or access control) can not be reached.
// Callers may retry the request later.
type BackendUnavailableError struct {
	Backend string
	Cause   error
}

func (err BackendUnavailableError) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("Backend [%s] is unavailable: %s", err.Backend, err.Cause.Error())
	}
	return fmt.Sprintf("Backend [%s] is unavailable", err.Backend)
}

// Unwrap exposes the cause so context deadlines can be detected with errors.Is
func (err BackendUnavailableError) Unwrap() error {
	return err.Cause
}

// IsCommandNotSupported reports whether the cause of err is a CommandNotSupportedError.
func IsCommandNotSupported(err error) bool {
	_, ok := errors.Cause(err).(CommandNotSupportedError)
	return ok
}

// IsTimeout reports whether err was caused by an exceeded deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
