// Package api contains components that handle incoming requests, run them through the interception pipeline
// and delegate them to the device database.
package api

import (
	"context"
	"time"

	"github.com/unbasical/devgate/pkg/authn"
	"github.com/unbasical/devgate/pkg/authz"
	"github.com/unbasical/devgate/pkg/data"
	"github.com/unbasical/devgate/pkg/request"
	"github.com/unbasical/devgate/pkg/telemetry"
)

// ClientProxyConfig contains all configuration needed by a single api.ClientProxy to run.
//
// Note that this configuration also contains all components the interception pipeline is built from. With this in
// mind, an instance of a ClientProxy can be seen as a standalone thread with all its subcomponents attached to it.
// As a result of that, two ClientProxies that proxy different types of requests (i.e. gRPC and HTTP) are able
// to run in parallel and share the same database registry.
type ClientProxyConfig struct {
	Parser        request.LocatorParser
	Databases     data.Resolver
	Authenticator authn.Authenticator
	Gate          authz.Gate

	MetricsProvider telemetry.MetricsProvider
	TraceProvider   telemetry.TraceProvider

	// APIVersions restricts the version segment of the served paths. Empty accepts any version.
	APIVersions []string

	// RequireConnection aborts requests whose tango host database can not be resolved.
	// Otherwise they continue without a bound database.
	RequireConnection bool
	// ForbiddenOnDeny answers denied requests with 403 instead of 405.
	ForbiddenOnDeny bool
	// AccessDecisionLogLevel is one of ALL, ALLOW, DENY or NONE.
	AccessDecisionLogLevel string
}

// ClientProxy is the interface that serves as the external interface of devgate.
//
// It can implement any external communication standard and has to pass every client request through the
// interception pipeline before it reaches a device database.
type ClientProxy interface {

	// Configure checks the given ClientProxyConfig and configures the ClientProxy itself.
	// Please note that Configure has to be called once before the component can be used (Otherwise Start() will return an error)!
	Configure(ctx context.Context, serverConf *ClientProxyConfig) error

	// Start will make the previous configured ClientProxy handle incoming requests.
	//
	// This process should be implemented in a non-blocking manner!
	// If the ClientProxy was not configured before, or any error occurred during startup, an error will be returned (otherwise nil).
	Start() error

	// Stop will make the ClientProxy to shutdown gracefully.
	//
	// If the ClientProxy was not started before, or any error occurred during shutdown, an error will be returned (otherwise nil).
	Stop(deadline time.Duration) error
}
