package data

import (
	"context"
	"time"

	"github.com/unbasical/devgate/configs"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/constants/logging"
	"github.com/unbasical/devgate/pkg/data"
	"github.com/unbasical/devgate/pkg/telemetry"
)

// instrumentedCommandExecutor decorates a data.CommandExecutor with debug logging, a command duration histogram and
// a child span per command.
type instrumentedCommandExecutor struct {
	delegate data.CommandExecutor
	backend  string
	metrics  telemetry.MetricsProvider
	tracer   telemetry.TraceProvider
}

// NewInstrumentedCommandExecutor wraps the delegate. Nil providers are replaced by no-op providers.
func NewInstrumentedCommandExecutor(delegate data.CommandExecutor, backend string, metrics telemetry.MetricsProvider, tracer telemetry.TraceProvider) data.CommandExecutor {
	if metrics == nil {
		metrics = telemetry.NewNoopMetricProvider()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTraceProvider()
	}
	return &instrumentedCommandExecutor{delegate: delegate, backend: backend, metrics: metrics, tracer: tracer}
}

// Configure -- see data.CommandExecutor
func (e *instrumentedCommandExecutor) Configure(ctx context.Context, conf *configs.DatabaseConfig, host, port string) error {
	return e.delegate.Configure(ctx, conf, host, port)
}

// Execute -- see data.CommandExecutor
func (e *instrumentedCommandExecutor) Execute(ctx context.Context, command string, args ...string) ([]string, error) {
	start := time.Now()
	labels := map[string]string{
		constants.LabelDatabaseBackend: e.backend,
		constants.LabelCommand:         command,
	}

	result, err := e.tracer.ExecuteWithChildSpan(ctx, func(ctx context.Context, _ ...any) (any, error) {
		return e.delegate.Execute(ctx, command, args...)
	}, "database."+command, labels)
	duration := time.Since(start)

	labels[constants.LabelOutcome] = constants.OutcomeSuccess
	if err != nil {
		labels[constants.LabelOutcome] = constants.OutcomeError
	}
	e.metrics.UpdateHistogramMetric(ctx, constants.InstrumentDatabaseCommandDuration, duration.Seconds(), labels)

	entry := logging.LogForComponent("commandExecutor").
		WithField("backend", e.backend).
		WithField("command", command).
		WithField("arguments", args).
		WithField(logging.LabelDuration, duration.Milliseconds())
	if err != nil {
		entry.WithError(err).Debug("Command failed")
		return nil, err
	}
	entry.Debug("Command executed")

	lines, _ := result.([]string)
	return lines, nil
}

// Name -- see data.CommandExecutor
func (e *instrumentedCommandExecutor) Name() string {
	return e.delegate.Name()
}

// Close -- see data.CommandExecutor
func (e *instrumentedCommandExecutor) Close() error {
	return e.delegate.Close()
}
