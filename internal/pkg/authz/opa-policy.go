package authz

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/unbasical/devgate/internal/pkg/builtins"
	"github.com/unbasical/devgate/internal/pkg/opa"
	"github.com/unbasical/devgate/pkg/constants/logging"
	deverrors "github.com/unbasical/devgate/pkg/errors"
)

const (
	ruleCanRead  = "can_read"
	ruleCanWrite = "can_write"
)

// OPAPolicy evaluates the rules "can_read" and "can_write" of a rego package with the input
// {"user": ..., "address": ..., "device": ...}.
type OPAPolicy struct {
	engine   *opa.OPA
	pkg      string
	regosDir string
}

// NewOPAPolicy loads all policies below regosDir. The rules are looked up in the given package (i.e. "devgate.access").
func NewOPAPolicy(ctx context.Context, pkg, regosDir string, opts ...func(*opa.OPA) error) (*OPAPolicy, error) {
	builtins.Register()

	engine, err := opa.NewOPA(ctx, regosDir, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "OPAPolicy: Error while starting OPA.")
	}
	if err := engine.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "OPAPolicy: Error while starting OPA plugins.")
	}

	logging.LogForComponent("opaPolicy").Infof("Configured OPA policy with package [%s]", pkg)
	return &OPAPolicy{engine: engine, pkg: strings.TrimPrefix(pkg, "data."), regosDir: regosDir}, nil
}

// Reload loads all policies again, i.e. after a rego file changed.
func (p *OPAPolicy) Reload(ctx context.Context) error {
	return p.engine.LoadRegosFromPath(ctx, p.regosDir)
}

// Stop stops the policy engine.
func (p *OPAPolicy) Stop(ctx context.Context) {
	p.engine.Stop(ctx)
}

func (p *OPAPolicy) CanRead(ctx context.Context, user, address, device string) (bool, error) {
	return p.eval(ctx, ruleCanRead, user, address, device)
}

func (p *OPAPolicy) CanWrite(ctx context.Context, user, address, device string) (bool, error) {
	return p.eval(ctx, ruleCanWrite, user, address, device)
}

func (p *OPAPolicy) eval(ctx context.Context, rule, user, address, device string) (bool, error) {
	query := "data." + p.pkg + "." + rule

	defined, err := p.engine.HasRule(query)
	if err != nil {
		return false, err
	}
	if !defined {
		return false, deverrors.CommandNotSupportedError{Command: query, Backend: "opa"}
	}

	input := map[string]interface{}{
		"user":    user,
		"address": address,
		"device":  device,
	}
	rs, err := p.engine.Eval(ctx, input, query)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		return false, errors.Wrapf(err, "OPAPolicy: evaluation of %s failed", query)
	}

	// an undefined rule denies
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, errors.Errorf("OPAPolicy: %s evaluated to %v which is no boolean", query, rs[0].Expressions[0].Value)
	}
	return allowed, nil
}
