package telemetry

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unbasical/devgate/common"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/constants/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const (
	// ErrorInstrumentNotFound is the error msg template which will be used for invalid instrument IDs on updates
	ErrorInstrumentNotFound string = "instrument with name %s not found"
	// ErrorInvalidLabels is the error msg template which will be used if labels do not match the instrument
	ErrorInvalidLabels string = "invalid labels %+v for instrument %s: %s"
)

type prometheusMetrics struct {
	registry *prometheus.Registry

	inFlightRequests prometheus.Gauge
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestSize      *prometheus.HistogramVec
	rpcDuration      *prometheus.HistogramVec

	counters   map[constants.MetricInstrument]*prometheus.CounterVec
	histograms map[constants.MetricInstrument]*prometheus.HistogramVec
}

// NewPrometheusMetricsProvider creates a MetricsProvider which publishes to its own prometheus registry.
func NewPrometheusMetricsProvider() MetricsProvider {
	return &prometheusMetrics{}
}

// Configure registers the http, rpc and devgate specific instruments. Calling Configure twice has no effect.
func (p *prometheusMetrics) Configure(ctx context.Context) error {
	if p.registry != nil {
		return nil
	}

	registry := prometheus.NewRegistry()
	version := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "version",
		Help:        "Version information about this binary",
		ConstLabels: map[string]string{"version": common.Version},
	})
	version.Set(1)

	p.inFlightRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "in_flight_requests",
		Help: "A gauge of requests currently being served by the wrapped handler.",
	})
	p.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Count of all HTTP requests",
	}, []string{"code", "method"})
	// duration is partitioned by the HTTP method and handler. It uses custom
	// buckets based on the expected request duration.
	p.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "request_duration_seconds",
		Help:    "A histogram of latencies for requests.",
		Buckets: []float64{.05, .1, .5, 1, 2.5, 10},
	}, []string{"handler", "method", "code"})
	p.requestSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "request_size_bytes",
		Help:    "A histogram of request sizes.",
		Buckets: []float64{100, 400, 900, 1500},
	}, []string{"code", "method"})
	p.rpcDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpc_request_duration_seconds",
		Help:    "A histogram of latencies for rpcs.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "code"})

	p.counters = map[constants.MetricInstrument]*prometheus.CounterVec{
		constants.InstrumentDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: constants.InstrumentDecisions.String(),
			Help: "Count of access decisions by decision and operation.",
		}, promLabels(constants.LabelDecision, constants.LabelHTTPMethod)),
		constants.InstrumentDatabaseConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: constants.InstrumentDatabaseConnects.String(),
			Help: "Count of connects to tango host databases by outcome.",
		}, promLabels(constants.LabelTangoHost, constants.LabelOutcome)),
	}
	p.histograms = map[constants.MetricInstrument]*prometheus.HistogramVec{
		constants.InstrumentDecisionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    constants.InstrumentDecisionDuration.String(),
			Help:    "A histogram of latencies for access decisions.",
			Buckets: prometheus.DefBuckets,
		}, promLabels(constants.LabelDecision)),
		constants.InstrumentDatabaseCommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    constants.InstrumentDatabaseCommandDuration.String(),
			Help:    "A histogram of latencies for database commands.",
			Buckets: prometheus.DefBuckets,
		}, promLabels(constants.LabelDatabaseBackend, constants.LabelCommand, constants.LabelOutcome)),
	}

	// System stats
	registry.MustRegister(version, collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), collectors.NewBuildInfoCollector())
	// Http and rpc
	registry.MustRegister(p.inFlightRequests, p.requestsTotal, p.requestDuration, p.requestSize, p.rpcDuration)
	for _, c := range p.counters {
		registry.MustRegister(c)
	}
	for _, h := range p.histograms {
		registry.MustRegister(h)
	}

	p.registry = registry
	logging.LogForComponent("MetricProvider").Infof("metrics configured with exporter of type [%s]", constants.TelemetryPrometheus)
	return nil
}

// WrapHTTPHandler - see telemetry.MetricsProvider
func (p *prometheusMetrics) WrapHTTPHandler(_ context.Context, handler http.Handler) http.Handler {
	return promhttp.InstrumentHandlerInFlight(p.inFlightRequests,
		promhttp.InstrumentHandlerDuration(p.requestDuration.MustCurryWith(prometheus.Labels{"handler": "http"}),
			promhttp.InstrumentHandlerCounter(p.requestsTotal,
				promhttp.InstrumentHandlerRequestSize(p.requestSize, handler),
			),
		),
	)
}

// GetHTTPMetricsHandler - see telemetry.MetricsProvider
func (p *prometheusMetrics) GetHTTPMetricsHandler() (http.Handler, error) {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}), nil
}

// GetGrpcServerInterceptor - see telemetry.MetricsProvider
func (p *prometheusMetrics) GetGrpcServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		now := time.Now()
		resp, err := handler(ctx, req)
		p.rpcDuration.WithLabelValues(info.FullMethod, status.Code(err).String()).Observe(time.Since(now).Seconds())
		return resp, err
	}
}

// UpdateHistogramMetric - see telemetry.MetricsProvider
func (p *prometheusMetrics) UpdateHistogramMetric(_ context.Context, instrument constants.MetricInstrument, value float64, labels map[string]string) {
	histogram, ok := p.histograms[instrument]
	if !ok {
		logging.LogForComponent("metrics").Errorf(ErrorInstrumentNotFound, instrument.String())
		return
	}

	observer, err := histogram.GetMetricWith(toPromLabels(labels))
	if err != nil {
		logging.LogForComponent("metrics").Errorf(ErrorInvalidLabels, labels, instrument.String(), err)
		return
	}
	observer.Observe(value)
}

// UpdateCounterMetric - see telemetry.MetricsProvider
func (p *prometheusMetrics) UpdateCounterMetric(_ context.Context, instrument constants.MetricInstrument, value float64, labels map[string]string) {
	counter, ok := p.counters[instrument]
	if !ok {
		logging.LogForComponent("metrics").Errorf(ErrorInstrumentNotFound, instrument.String())
		return
	}

	c, err := counter.GetMetricWith(toPromLabels(labels))
	if err != nil {
		logging.LogForComponent("metrics").Errorf(ErrorInvalidLabels, labels, instrument.String(), err)
		return
	}
	c.Add(value)
}

// Shutdown - see telemetry.MetricsProvider
func (p *prometheusMetrics) Shutdown(context.Context) {}

// prometheus label names must not contain dots
func promLabel(label string) string {
	return strings.ReplaceAll(label, ".", "_")
}

func promLabels(labels ...string) []string {
	result := make([]string, 0, len(labels))
	for _, l := range labels {
		result = append(result, promLabel(l))
	}
	return result
}

func toPromLabels(labels map[string]string) prometheus.Labels {
	result := make(prometheus.Labels, len(labels))
	for k, v := range labels {
		result[promLabel(k)] = v
	}
	return result
}
