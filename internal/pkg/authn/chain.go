// Package authn identifies the remote users of requests.
package authn

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/unbasical/devgate/configs"
	"github.com/unbasical/devgate/pkg/authn"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/constants/logging"
)

type chainAuthenticator struct {
	authenticators    []authn.Authenticator
	trustForwardedFor bool
}

// NewAuthenticator creates the authn.Authenticator for the given configuration. The configured authenticators are
// asked in order (basic before jwt), the first one identifying the user wins.
//
// Invalid credentials are logged and leave the request anonymous.
func NewAuthenticator(ctx context.Context, config *configs.AuthenticationConfig) (authn.Authenticator, error) {
	chain := &chainAuthenticator{}
	if config == nil {
		return chain, nil
	}

	chain.trustForwardedFor = config.TrustForwardedFor
	if config.Basic != nil {
		basic, err := NewBasicAuthenticator(config.Basic)
		if err != nil {
			return nil, err
		}
		chain.authenticators = append(chain.authenticators, basic)
	}
	if config.Jwt != nil {
		jwtAuth, err := NewJwtAuthenticator(ctx, config.Jwt)
		if err != nil {
			return nil, err
		}
		chain.authenticators = append(chain.authenticators, jwtAuth)
	}
	return chain, nil
}

// NewChainAuthenticator combines the passed authenticators.
func NewChainAuthenticator(trustForwardedFor bool, authenticators ...authn.Authenticator) authn.Authenticator {
	return &chainAuthenticator{authenticators: authenticators, trustForwardedFor: trustForwardedFor}
}

func (c *chainAuthenticator) Name() string {
	return "chain"
}

// Authenticate - see authn.Authenticator
func (c *chainAuthenticator) Authenticate(ctx context.Context, r *http.Request) (*authn.Principal, error) {
	for _, a := range c.authenticators {
		principal, err := a.Authenticate(ctx, r)
		if err != nil {
			logging.LogForComponent("authenticator").WithError(err).Warnf("Rejected %s credentials", a.Name())
			return nil, nil
		}
		if principal != nil {
			principal.Address = RemoteAddress(r, c.trustForwardedFor)
			return principal, nil
		}
	}
	return nil, nil
}

// RemoteAddress returns the client address of the request. The first X-Forwarded-For hop is only used if
// trustForwardedFor is set.
func RemoteAddress(r *http.Request, trustForwardedFor bool) string {
	if trustForwardedFor {
		if forwarded := r.Header.Get(constants.HeaderXForwardedFor); forwarded != "" {
			return strings.TrimSpace(strings.Split(forwarded, ",")[0])
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
