package core

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/unbasical/devgate/configs"
	apiInt "github.com/unbasical/devgate/internal/pkg/api"
	"github.com/unbasical/devgate/internal/pkg/api/envoy"
	authnInt "github.com/unbasical/devgate/internal/pkg/authn"
	authzInt "github.com/unbasical/devgate/internal/pkg/authz"
	dataInt "github.com/unbasical/devgate/internal/pkg/data"
	requestInt "github.com/unbasical/devgate/internal/pkg/request"
	watcherInt "github.com/unbasical/devgate/internal/pkg/watcher"
	"github.com/unbasical/devgate/pkg/api"
	"github.com/unbasical/devgate/pkg/authz"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/constants/logging"
	"github.com/unbasical/devgate/pkg/telemetry"
	"github.com/unbasical/devgate/pkg/watcher"
)

type DevgateConfiguration struct {
	// Config paths
	ConfigPath        *string
	ConfigWatcherPath *string
	OpaPath           *string
	PolicyDir         *string

	// Additional config
	PathPrefix       *string
	Port             *uint32
	DefaultTangoPort *string

	// Logging
	AccessDecisionLogLevel *string

	// Configs for envoy external auth
	EnvoyPort       *uint32
	EnvoyDryRun     *bool
	EnvoyReflection *bool

	// Configs for telemetry
	MetricService        *string
	MetricExportProtocol *string
	MetricExportEndpoint *string
	TraceService         *string
	TraceExportProtocol  *string
	TraceExportEndpoint  *string
	ServiceName          *string
}

type Devgate struct {
	configured      bool
	config          *DevgateConfiguration
	proxy           api.ClientProxy
	envoyProxy      api.ClientProxy
	configWatcher   watcher.ConfigWatcher
	registry        *dataInt.Registry
	policy          authz.Policy
	metricsProvider telemetry.MetricsProvider
	traceProvider   telemetry.TraceProvider
}

func (d *Devgate) Configure(config *DevgateConfiguration) {
	if d.configured {
		return
	}

	d.config = config
	d.configured = true
}

func (d *Devgate) Start() {
	if !d.configured {
		logging.LogForComponent("main").Fatalf("Devgate was not configured! Please call Configure()!")
	}

	configLoader := configs.FileConfigLoader{FilePath: deref(d.config.ConfigPath)}

	// Start app after config is present
	d.makeConfigWatcher(configLoader)
	d.configWatcher.Watch(d.onConfigLoaded)
	d.stopOnSIGTERM()
}

// StartCheck loads the configuration and builds every component once without serving requests.
// It is used to verify configuration and policies before a deployment.
func (d *Devgate) StartCheck() error {
	if !d.configured {
		return errors.New("Devgate was not configured! Please call Configure()!")
	}

	loadedConf, err := configs.FileConfigLoader{FilePath: deref(d.config.ConfigPath)}.Load()
	if err != nil {
		return errors.Wrap(err, "Unable to parse configuration")
	}

	ctx := context.Background()
	d.metricsProvider = telemetry.NewNoopMetricProvider()
	d.traceProvider = telemetry.NewNoopTraceProvider()
	if _, err := d.makeServerConfig(ctx, loadedConf); err != nil {
		return err
	}
	defer d.shutdownComponents(ctx)

	logging.LogForComponent("main").WithFields(log.Fields{
		"database":       loadedConf.Database.Type,
		"access-control": loadedConf.AccessControl.Policy,
		"api-versions":   strings.Join(loadedConf.Global.APIVersions, ","),
	}).Info("Configuration is valid")
	return nil
}

func (d *Devgate) onConfigLoaded(change watcher.ChangeType, loadedConf *configs.ExternalConfig, err error) {
	if err != nil {
		if change == watcher.ChangeAll {
			logging.LogForComponent("main").Fatalln("Unable to parse configuration: ", err.Error())
		}
		logging.LogForComponent("main").WithError(err).Errorf("Ignoring %s change", change)
		return
	}

	ctx := context.Background()

	switch change {
	case watcher.ChangeAll:
		d.metricsProvider = d.makeTelemetryMetricsProvider(ctx)
		d.traceProvider = d.makeTelemetryTraceProvider(ctx)

		serverConf, err := d.makeServerConfig(ctx, loadedConf)
		if err != nil {
			logging.LogForComponent("main").Fatalln(err.Error())
		}

		// Start rest proxy
		d.startNewRestProxy(ctx, serverConf)

		// Start envoy proxy in addition to rest proxy as soon as a port was specified!
		if d.config.EnvoyPort != nil && *d.config.EnvoyPort != 0 {
			d.startNewEnvoyProxy(ctx, serverConf)
		}

	case watcher.ChangeRego:
		reloadable, ok := d.policy.(*authzInt.OPAPolicy)
		if !ok {
			return
		}
		if err := reloadable.Reload(ctx); err != nil {
			logging.LogForComponent("main").WithError(err).Error("Unable to reload policies, keeping the previous ones")
			return
		}
		logging.LogForComponent("main").Infoln("Reloaded policies")

	case watcher.ChangeConf:
		logging.LogForComponent("main").Warnln("Configuration changed. Restart devgate to apply it.")

	default:
		logging.LogForComponent("main").Debugf("Ignoring %s change", change)
	}
}

// makeServerConfig builds the components of the interception pipeline.
func (d *Devgate) makeServerConfig(ctx context.Context, loadedConf *configs.ExternalConfig) (*api.ClientProxyConfig, error) {
	factory, err := dataInt.ExecutorFactoryForType(loadedConf.Database.Type)
	if err != nil {
		return nil, err
	}
	d.registry = dataInt.NewRegistry(dataInt.NewConnector(loadedConf.Database, factory, d.metricsProvider, d.traceProvider))

	authenticator, err := authnInt.NewAuthenticator(ctx, loadedConf.Authentication)
	if err != nil {
		return nil, errors.Wrap(err, "Unable to create authenticator")
	}

	d.policy, err = authzInt.NewPolicy(ctx, loadedConf.AccessControl, authzInt.PolicyOptions{
		RegosDir:      deref(d.config.PolicyDir),
		OPAConfigPath: deref(d.config.OpaPath),
		Metrics:       d.metricsProvider,
		Tracer:        d.traceProvider,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Unable to create access control policy")
	}

	defaultPort := loadedConf.Global.DefaultPort
	if port := deref(d.config.DefaultTangoPort); port != "" {
		defaultPort = port
	}

	return &api.ClientProxyConfig{
		Parser:                 requestInt.NewLocatorParser(d.pathPrefix(), defaultPort),
		Databases:              d.registry,
		Authenticator:          authenticator,
		Gate:                   authzInt.NewGate(d.policy),
		MetricsProvider:        d.metricsProvider,
		TraceProvider:          d.traceProvider,
		APIVersions:            loadedConf.Global.APIVersions,
		RequireConnection:      loadedConf.Database.RequireConnection,
		ForbiddenOnDeny:        loadedConf.AccessControl.ForbiddenOnDeny,
		AccessDecisionLogLevel: strings.ToUpper(deref(d.config.AccessDecisionLogLevel)),
	}, nil
}

func (d *Devgate) makeTelemetryMetricsProvider(ctx context.Context) telemetry.MetricsProvider {
	var provider telemetry.MetricsProvider
	switch strings.ToLower(deref(d.config.MetricService)) {
	case constants.TelemetryPrometheus:
		provider = telemetry.NewPrometheusMetricsProvider()
	case constants.TelemetryOtlp:
		var err error
		provider, err = telemetry.NewOtlpMetricsProvider(ctx, deref(d.config.ServiceName), deref(d.config.MetricExportProtocol), deref(d.config.MetricExportEndpoint))
		if err != nil {
			logging.LogForComponent("main").Fatalf("Error during creation of MetricsProvider %q: %s", *d.config.MetricService, err)
		}
	default:
		return telemetry.NewNoopMetricProvider()
	}

	if err := provider.Configure(ctx); err != nil {
		logging.LogForComponent("main").Fatalf("Error during configuration of MetricsProvider %q: %s", *d.config.MetricService, err.Error())
	}
	return provider
}

func (d *Devgate) makeTelemetryTraceProvider(ctx context.Context) telemetry.TraceProvider {
	if !strings.EqualFold(deref(d.config.TraceService), constants.TelemetryOtlp) {
		return telemetry.NewNoopTraceProvider()
	}

	provider, err := telemetry.NewOtlpTraceProvider(ctx, deref(d.config.ServiceName), deref(d.config.TraceExportProtocol), deref(d.config.TraceExportEndpoint))
	if err != nil {
		logging.LogForComponent("main").Fatalf("Error during creation of TraceProvider %q: %s", *d.config.TraceService, err)
	}
	if err := provider.Configure(ctx); err != nil {
		logging.LogForComponent("main").Fatalf("Error during configuration of TraceProvider %q: %s", *d.config.TraceService, err.Error())
	}
	return provider
}

func (d *Devgate) makeConfigWatcher(configLoader configs.ConfigLoader) {
	watchPath := deref(d.config.ConfigWatcherPath)
	// Watch the policy dir by default
	if watchPath == "" {
		watchPath = deref(d.config.PolicyDir)
	}
	if watchPath == "" {
		d.configWatcher = watcherInt.NewSimple(configLoader)
		return
	}

	fileWatcher, err := watcherInt.NewFileWatcher(context.Background(), configLoader, watchPath)
	if err != nil {
		logging.LogForComponent("main").WithError(err).Warnf("Unable to watch %s, policies will not be reloaded", watchPath)
		d.configWatcher = watcherInt.NewSimple(configLoader)
		return
	}
	d.configWatcher = fileWatcher
}

func (d *Devgate) startNewRestProxy(ctx context.Context, serverConf *api.ClientProxyConfig) {
	d.proxy = apiInt.NewRestProxy(d.pathPrefix(), deref(d.config.Port))
	if err := d.proxy.Configure(ctx, serverConf); err != nil {
		logging.LogForComponent("main").Fatalln(err.Error())
	}
	if err := d.proxy.Start(); err != nil {
		logging.LogForComponent("main").Fatalln(err.Error())
	}
}

func (d *Devgate) startNewEnvoyProxy(ctx context.Context, serverConf *api.ClientProxyConfig) {
	if *d.config.EnvoyPort == deref(d.config.Port) {
		logging.LogForComponent("main").Panic("Cannot start envoy proxy and rest proxy on same port!")
	}

	d.envoyProxy = envoy.NewEnvoyProxy(envoy.Config{
		Port:             *d.config.EnvoyPort,
		DryRun:           deref(d.config.EnvoyDryRun),
		EnableReflection: deref(d.config.EnvoyReflection),
		PathPrefix:       d.pathPrefix(),
	})
	if err := d.envoyProxy.Configure(ctx, serverConf); err != nil {
		logging.LogForComponent("main").Fatalln(err.Error())
	}
	if err := d.envoyProxy.Start(); err != nil {
		logging.LogForComponent("main").Fatalln(err.Error())
	}
}

func (d *Devgate) pathPrefix() string {
	if prefix := deref(d.config.PathPrefix); prefix != "" {
		return prefix
	}
	return constants.DefaultPathPrefix
}

func (d *Devgate) stopOnSIGTERM() {
	interruptChan := make(chan os.Signal, 1)
	signal.Notify(interruptChan, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	// Block until we receive our signal.
	<-interruptChan

	logging.LogForComponent("main").Infoln("Caught SIGTERM...")

	// Stop envoy proxy if started
	if d.envoyProxy != nil {
		if err := d.envoyProxy.Stop(time.Second * 10); err != nil {
			logging.LogForComponent("main").Warnln(err.Error())
		}
	}

	// Stop rest proxy if started
	if d.proxy != nil {
		if err := d.proxy.Stop(time.Second * 10); err != nil {
			logging.LogForComponent("main").Warnln(err.Error())
		}
	}

	d.shutdownComponents(context.Background())
}

// shutdownComponents closes all database handles and flushes telemetry.
func (d *Devgate) shutdownComponents(ctx context.Context) {
	if d.registry != nil {
		if err := d.registry.Close(); err != nil {
			logging.LogForComponent("main").Warnln(err.Error())
		}
	}
	if stoppable, ok := d.policy.(interface{ Stop(context.Context) }); ok {
		stoppable.Stop(ctx)
	}

	// This is done blocking to ensure all metrics and traces are sent!
	if d.metricsProvider != nil {
		d.metricsProvider.Shutdown(ctx)
	}
	if d.traceProvider != nil {
		d.traceProvider.Shutdown(ctx)
	}
}

func deref[T any](value *T) T {
	var zero T
	if value == nil {
		return zero
	}
	return *value
}
