package data

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"github.com/unbasical/devgate/configs"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/constants/logging"
	"github.com/unbasical/devgate/pkg/data"
	deverrors "github.com/unbasical/devgate/pkg/errors"
	"github.com/unbasical/devgate/pkg/telemetry"
)

// ExecutorFactory creates an unconfigured data.CommandExecutor.
type ExecutorFactory func() data.CommandExecutor

// ExecutorFactoryForType returns the ExecutorFactory of the given database type.
func ExecutorFactoryForType(databaseType string) (ExecutorFactory, error) {
	switch databaseType {
	case constants.DatabaseTypeRedis:
		return NewRedisCommandExecutor, nil
	case constants.DatabaseTypePostgres, constants.DatabaseTypeMySQL:
		return func() data.CommandExecutor { return NewSQLCommandExecutor(databaseType) }, nil
	case constants.DatabaseTypeMongo:
		return NewMongoCommandExecutor, nil
	default:
		return nil, errors.Errorf("unknown database type %q", databaseType)
	}
}

type executorConnector struct {
	conf    *configs.DatabaseConfig
	factory ExecutorFactory
	metrics telemetry.MetricsProvider
	tracer  telemetry.TraceProvider
}

// NewConnector creates a data.Connector which configures a new executor per tango host and wraps it into the data
// access facade. Connection establishment is bounded by the configured connect timeout.
func NewConnector(conf *configs.DatabaseConfig, factory ExecutorFactory, metrics telemetry.MetricsProvider, tracer telemetry.TraceProvider) data.Connector {
	if metrics == nil {
		metrics = telemetry.NewNoopMetricProvider()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTraceProvider()
	}
	return &executorConnector{conf: conf, factory: factory, metrics: metrics, tracer: tracer}
}

// Connect -- see data.Connector
func (c *executorConnector) Connect(ctx context.Context, host, port string) (data.Database, error) {
	tangoHost := net.JoinHostPort(host, port)
	if !c.conf.HostAllowed(host) {
		return nil, deverrors.InvalidInput{Msg: "tango host " + host + " is not allowed"}
	}

	timeout := c.conf.ConnectTimeout
	if timeout <= 0 {
		timeout = configs.DefaultConnectTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	executor := NewInstrumentedCommandExecutor(c.factory(), c.conf.Type, c.metrics, c.tracer)
	_, err := c.tracer.ExecuteWithChildSpan(ctx, func(ctx context.Context, _ ...any) (any, error) {
		return nil, executor.Configure(ctx, c.conf, host, port)
	}, "database.connect", map[string]string{constants.LabelTangoHost: tangoHost})

	outcome := constants.OutcomeSuccess
	if err != nil {
		outcome = constants.OutcomeError
	}
	c.metrics.UpdateCounterMetric(ctx, constants.InstrumentDatabaseConnects, 1, map[string]string{
		constants.LabelTangoHost: tangoHost,
		constants.LabelOutcome:   outcome,
	})

	if err != nil {
		_ = executor.Close()
		if _, ok := errors.Cause(err).(deverrors.BackendUnavailableError); ok {
			return nil, err
		}
		return nil, deverrors.BackendUnavailableError{Backend: c.conf.Type, Cause: err}
	}

	logging.LogForComponent("databaseConnector").Infof("Connected to %s database of tango host %s", c.conf.Type, tangoHost)
	return NewDatabase(executor, host, port), nil
}
