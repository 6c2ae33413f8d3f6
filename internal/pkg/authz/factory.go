package authz

import (
	"context"

	"github.com/pkg/errors"
	"github.com/unbasical/devgate/configs"
	internaldata "github.com/unbasical/devgate/internal/pkg/data"
	"github.com/unbasical/devgate/internal/pkg/opa"
	"github.com/unbasical/devgate/pkg/authz"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/telemetry"
)

// PolicyOptions are passed to NewPolicy.
type PolicyOptions struct {
	RegosDir      string
	OPAConfigPath string
	Metrics       telemetry.MetricsProvider
	Tracer        telemetry.TraceProvider
}

// NewPolicy creates the authz.Policy selected by the access control configuration.
func NewPolicy(ctx context.Context, conf *configs.AccessControlConfig, opts PolicyOptions) (authz.Policy, error) {
	switch conf.Policy {
	case constants.PolicyOPA:
		var engineOpts []func(*opa.OPA) error
		if opts.OPAConfigPath != "" {
			engineOpts = append(engineOpts, opa.ConfigOPA(opts.OPAConfigPath))
		}
		return NewOPAPolicy(ctx, conf.OPA.Package, opts.RegosDir, engineOpts...)

	case constants.PolicyCommand:
		factory, err := internaldata.ExecutorFactoryForType(conf.Command.Database.Type)
		if err != nil {
			return nil, err
		}
		executor := internaldata.NewInstrumentedCommandExecutor(factory(), conf.Command.Database.Type, opts.Metrics, opts.Tracer)

		timeout := conf.Command.Database.ConnectTimeout
		if timeout <= 0 {
			timeout = configs.DefaultConnectTimeout
		}
		connectCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := executor.Configure(connectCtx, conf.Command.Database, conf.Command.Host, conf.Command.Port); err != nil {
			return nil, errors.Wrap(err, "unable to connect to the access control database")
		}
		return NewCommandPolicy(executor), nil

	case constants.PolicyAllowAll:
		return NewAllowAllPolicy(), nil

	default:
		return nil, errors.Errorf("unknown access control policy %q", conf.Policy)
	}
}
