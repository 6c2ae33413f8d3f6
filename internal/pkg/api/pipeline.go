package api

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/unbasical/devgate/internal/pkg/util"
	"github.com/unbasical/devgate/pkg/api"
	"github.com/unbasical/devgate/pkg/authn"
	"github.com/unbasical/devgate/pkg/authz"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/constants/logging"
	"github.com/unbasical/devgate/pkg/data"
	"github.com/unbasical/devgate/pkg/request"
)

// Stage priorities. Lower priorities run first.
const (
	PriorityDatabase       = 100
	PriorityAuthentication = 200
	PriorityAccessControl  = 300
)

const (
	messageAnonymous = "Anonymous access is restricted. Provide username and password."
	messageDenied    = "User %s does not have %s access to %s"
)

// StageFunc processes a request. It returns the request passed to the next stage and whether processing continues.
// A stage aborting the request is responsible for the response, unless the request was abandoned.
type StageFunc func(w http.ResponseWriter, r *http.Request) (*http.Request, bool)

// Stage is a single named step of the Pipeline.
type Stage struct {
	Name     string
	Priority int
	Process  StageFunc
}

// Pipeline runs its stages in ascending priority. An aborted request runs no later stage.
type Pipeline struct {
	stages []Stage
}

// NewPipeline orders the given stages by priority. Stages with equal priority keep their order.
func NewPipeline(stages ...Stage) *Pipeline {
	sorted := append([]Stage(nil), stages...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return &Pipeline{stages: sorted}
}

// NewDefaultPipeline builds the database, authentication and access control stages from the proxy config.
func NewDefaultPipeline(conf *api.ClientProxyConfig) *Pipeline {
	return NewPipeline(
		DatabaseStage(conf),
		AuthenticationStage(conf),
		AccessControlStage(conf),
	)
}

// Run executes all stages. It returns the enriched request and true if no stage aborted.
func (p *Pipeline) Run(w http.ResponseWriter, r *http.Request) (result *http.Request, proceed bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			writeError(r.Context(), w, "pipeline", errors.Errorf("stage panicked: %v", recovered))
			result, proceed = r, false
		}
	}()

	for _, stage := range p.stages {
		next, ok := stage.Process(w, r)
		if !ok {
			logging.LogWithCorrelationID(util.GetRequestUID(r)).Debugf("Stage %s aborted request %s %s", stage.Name, r.Method, r.URL.Path)
			return r, false
		}
		r = next
	}
	return r, true
}

// Middleware runs the pipeline in front of the next handler.
func (p *Pipeline) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if enriched, ok := p.Run(w, r); ok {
			next.ServeHTTP(w, enriched)
		}
	})
}

// DatabaseStage resolves the tango host of the request and binds its database into the request context.
// Requests not addressing a tango host pass untouched.
func DatabaseStage(conf *api.ClientProxyConfig) Stage {
	return Stage{
		Name:     "database",
		Priority: PriorityDatabase,
		Process: func(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
			locator, applicable, err := conf.Parser.Parse(r.URL.Path)
			if !applicable {
				return r, true
			}
			if err != nil {
				writeError(r.Context(), w, "databaseStage", err)
				return r, false
			}

			ctx := request.WithLocator(r.Context(), locator)
			db, err := conf.Databases.Get(ctx, locator)
			if err != nil {
				if ctx.Err() != nil || conf.RequireConnection {
					writeError(ctx, w, "databaseStage", err)
					return r, false
				}
				logging.LogForComponent("databaseStage").WithError(err).Warnf("Continuing without database of tango host %s", locator)
				return r.WithContext(ctx), true
			}
			return r.WithContext(data.WithDatabase(ctx, db)), true
		},
	}
}

// AuthenticationStage publishes the principal of the request. Requests without valid credentials stay anonymous.
func AuthenticationStage(conf *api.ClientProxyConfig) Stage {
	return Stage{
		Name:     "authentication",
		Priority: PriorityAuthentication,
		Process: func(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
			principal, err := conf.Authenticator.Authenticate(r.Context(), r)
			if err != nil {
				writeError(r.Context(), w, "authenticationStage", err)
				return r, false
			}
			if principal == nil {
				return r, true
			}
			return r.WithContext(authn.WithPrincipal(r.Context(), principal)), true
		},
	}
}

// AccessControlStage asks the gate whether the principal may access the addressed device.
func AccessControlStage(conf *api.ClientProxyConfig) Stage {
	return Stage{
		Name:     "accessControl",
		Priority: PriorityAccessControl,
		Process: func(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
			ctx := r.Context()
			principal, _ := authn.PrincipalFromContext(ctx)
			device := deviceFromRoute(r)

			start := time.Now()
			result, err := conf.TraceProvider.ExecuteWithChildSpan(ctx, func(ctx context.Context, args ...any) (any, error) {
				return conf.Gate.Decide(ctx, principal, device, r.Method)
			}, "authz.decide", map[string]string{
				constants.LabelDevice:     device,
				constants.LabelHTTPMethod: r.Method,
			})
			decision, _ := result.(authz.AccessDecision)
			duration := time.Since(start)
			label := decision.String()
			if err != nil {
				label = constants.DecisionError
			}

			if ctx.Err() != nil {
				logging.LogForComponent("accessControlStage").Debugf("Abandoned access decision for %s", device)
				return r, false
			}

			fields := logging.AccessDecisionFields{
				Path:        r.URL.Path,
				Method:      r.Method,
				Device:      device,
				User:        userOf(principal),
				Duration:    duration.String(),
				Decision:    label,
				Correlation: util.GetRequestUID(r),
			}
			labels := map[string]string{
				constants.LabelDecision:   label,
				constants.LabelHTTPMethod: r.Method,
			}
			conf.MetricsProvider.UpdateCounterMetric(ctx, constants.InstrumentDecisions, 1, labels)
			conf.MetricsProvider.UpdateHistogramMetric(ctx, constants.InstrumentDecisionDuration, duration.Seconds(), map[string]string{
				constants.LabelDecision: label,
			})

			if err != nil {
				logging.LogAccessDecisionError(conf.AccessDecisionLogLevel, "accessControlStage", fields, err)
				writeError(ctx, w, "accessControlStage", err)
				return r, false
			}
			logging.LogAccessDecision(conf.AccessDecisionLogLevel, "accessControlStage", fields)

			switch decision {
			case authz.Allowed:
				return r, true
			case authz.DeniedNoIdentity:
				http.Error(w, messageAnonymous, http.StatusUnauthorized)
			case authz.DeniedUnsupportedMethod:
				http.Error(w, fmt.Sprintf("Method %s is not allowed", r.Method), http.StatusMethodNotAllowed)
			case authz.DeniedNoPermission:
				http.Error(w, fmt.Sprintf(messageDenied, userOf(principal), authz.ClassifyMethod(r.Method), device), denialStatus(conf))
			}
			return r, false
		},
	}
}

func denialStatus(conf *api.ClientProxyConfig) int {
	if conf.ForbiddenOnDeny {
		return http.StatusForbidden
	}
	return http.StatusMethodNotAllowed
}

// deviceFromRoute builds the device identifier out of the route variables. Missing segments stay empty.
func deviceFromRoute(r *http.Request) string {
	vars := mux.Vars(r)
	return request.DeviceIdentifier{
		Domain: vars[constants.URLParamDomain],
		Family: vars[constants.URLParamFamily],
		Member: vars[constants.URLParamMember],
	}.String()
}

func userOf(principal *authn.Principal) string {
	if principal == nil {
		return ""
	}
	return principal.User
}
