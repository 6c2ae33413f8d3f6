// Package authz reaches the access decisions of devgate by consulting the configured policy.
package authz

import (
	"context"

	"github.com/unbasical/devgate/pkg/authn"
	"github.com/unbasical/devgate/pkg/authz"
)

type accessGate struct {
	policy authz.Policy
}

// NewGate creates the authz.Gate consulting the given policy.
func NewGate(policy authz.Policy) authz.Gate {
	return &accessGate{policy: policy}
}

// Decide - see authz.Gate
//
// Anonymous requests are denied before the method is looked at, unsupported methods before the policy is asked.
// Policy errors are returned unchanged together with DeniedNoPermission.
func (g *accessGate) Decide(ctx context.Context, principal *authn.Principal, device, method string) (authz.AccessDecision, error) {
	if principal == nil || principal.User == "" {
		return authz.DeniedNoIdentity, nil
	}

	var (
		granted bool
		err     error
	)
	switch authz.ClassifyMethod(method) {
	case authz.Read:
		granted, err = g.policy.CanRead(ctx, principal.User, principal.Address, device)
	case authz.Write:
		granted, err = g.policy.CanWrite(ctx, principal.User, principal.Address, device)
	case authz.Unsupported:
		return authz.DeniedUnsupportedMethod, nil
	}

	if err != nil {
		return authz.DeniedNoPermission, err
	}
	if !granted {
		return authz.DeniedNoPermission, nil
	}
	return authz.Allowed, nil
}
