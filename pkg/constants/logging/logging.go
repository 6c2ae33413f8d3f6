package logging

import (
	log "github.com/sirupsen/logrus"
)

// Label for component logs
const LabelComponent string = "component"

// Label for decision path
const LabelPath string = "path"

// Label for decision method
const LabelMethod string = "method"

// Label for decision device
const LabelDevice string = "device"

// Label for decision user
const LabelUser string = "user"

// Label for decision duration
const LabelDuration string = "duration"

// Label for decision decision
const LabelDecision string = "decision"

// Label for errors
const LabelError string = "error"

// Label for multiline error logs
const LabelCorrelation = "correlationId"

// AccessDecisionFields holds everything logged for a single access decision.
type AccessDecisionFields struct {
	Path        string
	Method      string
	Device      string
	User        string
	Duration    string
	Decision    string
	Correlation string
}

func LogAccessDecision(accessDecisionLogLevel, component string, f AccessDecisionFields) {
	if checkAccessDecisionLogLevel(accessDecisionLogLevel, f.Decision) {
		log.WithFields(log.Fields{
			LabelPath:        f.Path,
			LabelMethod:      f.Method,
			LabelDevice:      f.Device,
			LabelUser:        f.User,
			LabelDuration:    f.Duration,
			LabelDecision:    f.Decision,
			LabelCorrelation: f.Correlation,
			LabelComponent:   component,
		}).Info("Access decision:")
	}
}

func LogAccessDecisionError(accessDecisionLogLevel, component string, f AccessDecisionFields, err error) {
	if checkAccessDecisionLogLevel(accessDecisionLogLevel, f.Decision) {
		log.WithFields(log.Fields{
			LabelPath:        f.Path,
			LabelMethod:      f.Method,
			LabelDevice:      f.Device,
			LabelUser:        f.User,
			LabelDuration:    f.Duration,
			LabelDecision:    f.Decision,
			LabelError:       err.Error(),
			LabelCorrelation: f.Correlation,
			LabelComponent:   component,
		}).Warn("Access decision:")
	}
}

// checkAccessDecisionLogLevel reports whether a decision passes the configured filter.
// Decisions are "ALLOW", "ERROR" or start with "DENY". Failed decisions pass the "DENY" filter.
func checkAccessDecisionLogLevel(logLevel, decision string) bool {
	switch logLevel {
	case "ALL":
		return true
	case "NONE":
		return false
	case "DENY":
		return decision != "ALLOW"
	default:
		return decision == logLevel
	}
}

func LogWithCorrelationID(correlation string) *log.Entry {
	return log.WithField(LabelCorrelation, correlation)
}

func LogForComponent(component string) *log.Entry {
	return log.WithField(LabelComponent, component)
}
