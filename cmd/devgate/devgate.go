package main

import (
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/unbasical/devgate/common"
	"github.com/unbasical/devgate/internal/pkg/core"
	"github.com/unbasical/devgate/internal/pkg/util"
	"github.com/unbasical/devgate/pkg/constants/logging"
	"gopkg.in/alecthomas/kingpin.v2"
)

//nolint:gochecknoglobals,gocritic
var (
	app = kingpin.New("devgate", "Devgate access gate for tango device databases.")

	// Commands
	run   = app.Command("run", "Run devgate in production mode.")
	check = app.Command("check", "Load configuration and policies once and exit.")

	// Config paths
	configurationPath = app.Flag("config", "Path to the configuration yaml.").Short('c').Default("./devgate.yml").Envar("DEVGATE_CONF").ExistingFile()
	configWatcherPath = app.Flag("config-watcher-path", "Path where the config watcher should listen for changes. Defaults to the policy dir.").Envar("CONFIG_WATCHER_PATH").ExistingDir()
	policyDir         = app.Flag("policy-dir", "Dir containing .rego files which will be loaded into OPA.").Short('r').Envar("POLICY_DIR").ExistingDir()
	opaPath           = app.Flag("opa-conf", "Path to an OPA configuration file (bundles, decision logs).").Envar("OPA_CONF").ExistingFile()

	// Additional config
	pathPrefix       = app.Flag("path-prefix", "Prefix of all tango REST endpoints.").Default("/tango").Envar("PATH_PREFIX").String()
	port             = app.Flag("port", "Port on which the proxy endpoint is served.").Short('p').Default("8080").Envar("PORT").Uint32()
	defaultTangoPort = app.Flag("default-tango-port", "Port of the tango host database if a request carries none. Overrides global.default-port.").Envar("DEFAULT_TANGO_PORT").String()

	// Logging
	logLevel               = app.Flag("log-level", "Log-Level for Devgate. Must be one of [DEBUG, INFO, WARN, ERROR]").Default("INFO").Envar("LOG_LEVEL").Enum("DEBUG", "INFO", "WARN", "ERROR", "debug", "info", "warn", "error")
	logFormat              = app.Flag("log-format", "Log-Format for Devgate. Must be one of [TEXT, JSON]").Default("TEXT").Envar("LOG_FORMAT").Enum("TEXT", "JSON")
	accessDecisionLogLevel = app.Flag("access-decision-log-level", "Access decision Log-Level for Devgate. Must be one of [ALL, ALLOW, DENY, NONE]").Default("ALL").Envar("ACCESS_DECISION_LOG_LEVEL").Enum("ALL", "ALLOW", "DENY", "NONE", "all", "allow", "deny", "none")

	// Configs for envoy external auth
	envoyPort       = app.Flag("envoy-port", "Also start Envoy GRPC-Proxy on specified port to integrate devgate with Envoy or Istio.").Envar("ENVOY_PORT").Uint32()
	envoyDryRun     = app.Flag("envoy-dry-run", "Enable/Disable the dry run feature of the envoy-proxy.").Default("false").Envar("ENVOY_DRY_RUN").Bool()
	envoyReflection = app.Flag("envoy-reflection", "Enable/Disable the reflection feature of the envoy-proxy.").Default("true").Envar("ENVOY_REFLECTION").Bool()

	// Configs for telemetry
	metricService        = app.Flag("metric-service", "Service that is used for metrics [Prometheus|OTLP]").Envar("METRIC_SERVICE").Enum("Prometheus", "prometheus", "OTLP", "otlp")
	metricExportProtocol = app.Flag("metric-export-protocol", "If metrics are exported with OTLP, select the protocol to use [http|grpc]").Default("http").Envar("METRIC_EXPORT_PROTOCOL").Enum("http", "grpc")
	metricExportEndpoint = app.Flag("metric-export-endpoint", "If metrics are exported with OTLP, this is the endpoint they will be exported to").Envar("METRIC_EXPORT_ENDPOINT").String()
	traceService         = app.Flag("trace-service", "Service that is used for tracing [OTLP]").Envar("TRACE_SERVICE").Enum("OTLP", "otlp")
	traceExportProtocol  = app.Flag("trace-export-protocol", "If traces are exported with OTLP, select the protocol to use [http|grpc]").Default("http").Envar("TRACE_EXPORT_PROTOCOL").Enum("http", "grpc")
	traceExportEndpoint  = app.Flag("trace-export-endpoint", "If traces are exported with OTLP, this is the endpoint they will be exported to").Envar("TRACE_EXPORT_ENDPOINT").String()
	serviceName          = app.Flag("service-name", "Service name reported with traces and metrics.").Default("devgate").Envar("SERVICE_NAME").String()
)

func main() {
	app.HelpFlag.Short('h')
	app.Version(common.Version)

	// Process args and initialize logger
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	log.SetOutput(os.Stdout)
	setLogFormat()
	setLogLevel()

	config := core.DevgateConfiguration{
		ConfigPath:             configurationPath,
		ConfigWatcherPath:      configWatcherPath,
		OpaPath:                opaPath,
		PolicyDir:              policyDir,
		PathPrefix:             pathPrefix,
		Port:                   port,
		DefaultTangoPort:       defaultTangoPort,
		AccessDecisionLogLevel: accessDecisionLogLevel,
		EnvoyPort:              envoyPort,
		EnvoyDryRun:            envoyDryRun,
		EnvoyReflection:        envoyReflection,
		MetricService:          metricService,
		MetricExportProtocol:   metricExportProtocol,
		MetricExportEndpoint:   metricExportEndpoint,
		TraceService:           traceService,
		TraceExportProtocol:    traceExportProtocol,
		TraceExportEndpoint:    traceExportEndpoint,
		ServiceName:            serviceName,
	}

	devgate := core.Devgate{}
	devgate.Configure(&config)

	switch cmd {
	case run.FullCommand():
		devgate.Start()

	case check.FullCommand():
		if err := devgate.StartCheck(); err != nil {
			logging.LogForComponent("main").Fatalln(err.Error())
		}

	default:
		logging.LogForComponent("main").Fatal("Started Devgate with a unknown command!")
	}
}

func setLogFormat() {
	switch *logFormat {
	case "JSON":
		log.SetFormatter(util.UTCFormatter{Formatter: &log.JSONFormatter{}})
	default:
		log.SetFormatter(util.UTCFormatter{Formatter: &log.TextFormatter{FullTimestamp: true}})
	}
}

func setLogLevel() {
	switch strings.ToUpper(*logLevel) {
	case "INFO":
		log.SetLevel(log.InfoLevel)
	case "DEBUG":
		log.SetLevel(log.DebugLevel)
	case "WARN":
		log.SetLevel(log.WarnLevel)
	case "ERROR":
		log.SetLevel(log.ErrorLevel)
	}
	logging.LogForComponent("main").Infof("Devgate %s starting with log level %q...", common.Version, *logLevel)
}
