// Package authn contains the contracts to identify the remote user of a request.
package authn

import (
	"context"
	"net/http"

	"github.com/unbasical/devgate/pkg/constants"
)

// Principal is the authenticated remote user of a request.
type Principal struct {
	User string
	// Address is the client address the request was sent from.
	Address string
	// Method names the authenticator which identified the user (i.e. "basic" or "jwt").
	Method string
}

// Authenticator is the interface that identifies the user of a request.
//
// Authenticate returns nil without error if the request carries no credentials the authenticator
// understands. Invalid credentials are reported as error.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*Principal, error)
	Name() string
}

// WithPrincipal publishes the authenticated user into the request context.
func WithPrincipal(ctx context.Context, principal *Principal) context.Context {
	return context.WithValue(ctx, constants.ContextKeyPrincipal, principal)
}

// PrincipalFromContext returns the authenticated user of the request, if any.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	principal, ok := ctx.Value(constants.ContextKeyPrincipal).(*Principal)
	return principal, ok && principal != nil
}
