package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/unbasical/devgate/pkg/constants/logging"
	internalErrors "github.com/unbasical/devgate/pkg/errors"
)

// Failure describes a single error reported to a client.
type Failure struct {
	Reason      string `json:"reason"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Origin      string `json:"origin"`
}

// Failures is the structured error payload of the REST API.
type Failures struct {
	Errors    []Failure `json:"errors"`
	Quality   string    `json:"quality"`
	Timestamp int64     `json:"timestamp"`
}

func newFailures(reason, description, origin string) Failures {
	return Failures{
		Errors: []Failure{{
			Reason:      reason,
			Description: description,
			Severity:    "ERR",
			Origin:      origin,
		}},
		Quality:   "FAILURE",
		Timestamp: time.Now().UnixMilli(),
	}
}

func writeFailures(w http.ResponseWriter, status int, failures Failures) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(failures); err != nil {
		logging.LogForComponent("restProxy").WithError(err).Warn("Unable to write failure response")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.LogForComponent("restProxy").WithError(err).Warn("Unable to write response")
	}
}

// statusForError maps the cause of err onto the status answered to the client.
func statusForError(err error) int {
	switch errors.Cause(err).(type) {
	case internalErrors.MissingHostError, internalErrors.InvalidInput:
		return http.StatusBadRequest
	case internalErrors.DeviceNotFoundError:
		return http.StatusNotFound
	case internalErrors.CommandNotSupportedError:
		return http.StatusInternalServerError
	case internalErrors.BackendUnavailableError:
		if internalErrors.IsTimeout(err) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		if internalErrors.IsTimeout(err) {
			return http.StatusGatewayTimeout
		}
		return http.StatusInternalServerError
	}
}

// writeError terminates a request with the response matching err.
// Requests whose context is done are abandoned without a response.
func writeError(ctx context.Context, w http.ResponseWriter, component string, err error) {
	if ctx.Err() != nil {
		logging.LogForComponent(component).Debugf("Abandoned request: %s", err.Error())
		return
	}

	status := statusForError(err)
	switch {
	case status == http.StatusInternalServerError:
		logging.LogForComponent(component).WithError(err).Error("Unable to process request")
	case status >= http.StatusInternalServerError:
		logging.LogForComponent(component).WithError(err).Warn("Backend failed")
	default:
		logging.LogForComponent(component).Debugf("Rejected request: %s", err.Error())
	}

	writeFailures(w, status, newFailures(http.StatusText(status), err.Error(), component))
}
