package telemetry

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/unbasical/devgate/common"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/constants/logging"
	otelrun "go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlpgrpc "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	otlphttp "go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const (
	instrumentHTTPActiveRequests = "http.server.active_requests"
	instrumentHTTPDuration       = "http.server.duration"
	instrumentHTTPRequestSize    = "http.server.request.size"
	instrumentRPCDuration        = "rpc.server.duration"
	instrumentVersion            = "version"

	unitSeconds = "s"
	unitBytes   = "By"
)

type otlpMetrics struct {
	provider *sdkmetric.MeterProvider
	name     string
	runtime  bool

	activeRequests metric.Int64UpDownCounter
	httpDuration   metric.Float64Histogram
	httpSize       metric.Int64Histogram
	rpcDuration    metric.Float64Histogram

	counters   map[constants.MetricInstrument]metric.Float64Counter
	histograms map[constants.MetricInstrument]metric.Float64Histogram
}

// NewOtlpMetricsProvider creates a MetricsProvider which pushes metrics periodically via otlp using the given
// protocol (http or grpc).
func NewOtlpMetricsProvider(ctx context.Context, name, protocol, endpoint string) (MetricsProvider, error) {
	endpointWithoutProtocol := regexp.MustCompile(constants.ProtocolPrefixRe).ReplaceAllString(endpoint, "")
	exporter, err := newOtlpMetricExporter(ctx, protocol, endpointWithoutProtocol)
	if err != nil {
		return nil, err
	}

	m := newOtlpMetrics(name, sdkmetric.NewPeriodicReader(exporter))
	m.runtime = true
	otel.SetMeterProvider(m.provider)
	return m, nil
}

func newOtlpMetrics(name string, reader sdkmetric.Reader) *otlpMetrics {
	return &otlpMetrics{
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		name:     name,
	}
}

// Configure creates the http, rpc and devgate specific instruments. Runtime statistics are only
// collected for providers created by NewOtlpMetricsProvider.
func (m *otlpMetrics) Configure(ctx context.Context) error {
	if m.counters != nil {
		return nil
	}
	meter := m.provider.Meter(m.name)

	var err error
	if m.activeRequests, err = meter.Int64UpDownCounter(instrumentHTTPActiveRequests,
		metric.WithUnit("{requests}"),
		metric.WithDescription("A gauge of requests currently being served by the wrapped handler.")); err != nil {
		return err
	}
	if m.httpDuration, err = meter.Float64Histogram(instrumentHTTPDuration,
		metric.WithUnit(unitSeconds),
		metric.WithDescription("A histogram of latencies for requests.")); err != nil {
		return err
	}
	if m.httpSize, err = meter.Int64Histogram(instrumentHTTPRequestSize,
		metric.WithUnit(unitBytes),
		metric.WithDescription("A histogram of request sizes.")); err != nil {
		return err
	}
	if m.rpcDuration, err = meter.Float64Histogram(instrumentRPCDuration,
		metric.WithUnit(unitSeconds),
		metric.WithDescription("A histogram of latencies for rpcs.")); err != nil {
		return err
	}

	counters := make(map[constants.MetricInstrument]metric.Float64Counter)
	for instrument, description := range map[constants.MetricInstrument]string{
		constants.InstrumentDecisions:        "Count of access decisions by decision and operation.",
		constants.InstrumentDatabaseConnects: "Count of connects to tango host databases by outcome.",
	} {
		counter, cErr := meter.Float64Counter(instrument.String(), metric.WithDescription(description))
		if cErr != nil {
			return cErr
		}
		counters[instrument] = counter
	}

	histograms := make(map[constants.MetricInstrument]metric.Float64Histogram)
	for instrument, description := range map[constants.MetricInstrument]string{
		constants.InstrumentDecisionDuration:        "A histogram of latencies for access decisions.",
		constants.InstrumentDatabaseCommandDuration: "A histogram of latencies for database commands.",
	} {
		histogram, hErr := meter.Float64Histogram(instrument.String(), metric.WithUnit(unitSeconds), metric.WithDescription(description))
		if hErr != nil {
			return hErr
		}
		histograms[instrument] = histogram
	}

	version, err := meter.Int64UpDownCounter(instrumentVersion,
		metric.WithUnit("{version}"),
		metric.WithDescription("Version information about this binary"))
	if err != nil {
		return err
	}
	version.Add(ctx, 1, metric.WithAttributes(attribute.String("version", common.Version)))

	if m.runtime {
		if err := otelrun.Start(otelrun.WithMeterProvider(m.provider), otelrun.WithMinimumReadMemStatsInterval(time.Second)); err != nil {
			return err
		}
	}

	m.counters = counters
	m.histograms = histograms
	logging.LogForComponent("MetricProvider").Infof("metrics configured with exporter of type [%s]", constants.TelemetryOtlp)
	return nil
}

// WrapHTTPHandler - see telemetry.MetricsProvider
func (m *otlpMetrics) WrapHTTPHandler(_ context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		m.activeRequests.Add(ctx, 1)
		defer m.activeRequests.Add(ctx, -1)

		passthrough := NewPassThroughResponseWriter(w)
		now := time.Now()
		handler.ServeHTTP(passthrough, r)

		attrs := metric.WithAttributes(
			attribute.String(constants.LabelHTTPMethod, r.Method),
			attribute.Int(constants.LabelHTTPStatusCode, passthrough.StatusCode()),
		)
		m.httpDuration.Record(ctx, time.Since(now).Seconds(), attrs)
		m.httpSize.Record(ctx, approximateHTTPRequestSize(r), attrs)
	})
}

// GetHTTPMetricsHandler returns nil as metrics are pushed.
func (m *otlpMetrics) GetHTTPMetricsHandler() (http.Handler, error) {
	return nil, nil
}

// GetGrpcServerInterceptor - see telemetry.MetricsProvider
func (m *otlpMetrics) GetGrpcServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		now := time.Now()
		resp, err := handler(ctx, req)
		m.rpcDuration.Record(ctx, time.Since(now).Seconds(), metric.WithAttributes(
			attribute.String("rpc.method", info.FullMethod),
			attribute.String("rpc.grpc.status_code", status.Code(err).String()),
		))
		return resp, err
	}
}

// UpdateHistogramMetric - see telemetry.MetricsProvider
func (m *otlpMetrics) UpdateHistogramMetric(ctx context.Context, instrument constants.MetricInstrument, value float64, labels map[string]string) {
	histogram, ok := m.histograms[instrument]
	if !ok {
		logging.LogForComponent("metrics").Errorf(ErrorInstrumentNotFound, instrument.String())
		return
	}
	histogram.Record(ctx, value, metric.WithAttributes(labelsToAttributes(labels)...))
}

// UpdateCounterMetric - see telemetry.MetricsProvider
func (m *otlpMetrics) UpdateCounterMetric(ctx context.Context, instrument constants.MetricInstrument, value float64, labels map[string]string) {
	counter, ok := m.counters[instrument]
	if !ok {
		logging.LogForComponent("metrics").Errorf(ErrorInstrumentNotFound, instrument.String())
		return
	}
	counter.Add(ctx, value, metric.WithAttributes(labelsToAttributes(labels)...))
}

// Shutdown flushes all pending metrics.
func (m *otlpMetrics) Shutdown(ctx context.Context) {
	if err := m.provider.Shutdown(ctx); err != nil {
		logging.LogForComponent("MetricProvider").WithError(err).Warn("Unable to flush metrics")
	}
}

func newOtlpMetricExporter(ctx context.Context, protocol, endpoint string) (sdkmetric.Exporter, error) {
	if endpoint == "" {
		return nil, errors.New("metric export endpoint must not be empty")
	}

	switch strings.ToLower(protocol) {
	case constants.ProtocolHTTP:
		return otlphttp.New(ctx, otlphttp.WithEndpoint(endpoint), otlphttp.WithInsecure())

	case constants.ProtocolGRPC:
		return otlpgrpc.New(ctx, otlpgrpc.WithEndpoint(endpoint), otlpgrpc.WithInsecure())

	default:
		return nil, errors.Errorf("unknown protocol '%s', expected %+v", protocol, []string{constants.ProtocolHTTP, constants.ProtocolGRPC})
	}
}

func approximateHTTPRequestSize(r *http.Request) int64 {
	s := 0
	if r.URL != nil {
		s += len(r.URL.String())
	}

	s += len(r.Method)
	s += len(r.Proto)
	for name, values := range r.Header {
		s += len(name)
		for _, value := range values {
			s += len(value)
		}
	}
	s += len(r.Host)

	if r.ContentLength > 0 {
		s += int(r.ContentLength)
	}
	return int64(s)
}
