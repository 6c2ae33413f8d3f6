package constants

// ContextKey represents keys for key value pairs in contexts
type ContextKey string

const (
	// ContextKeyRequestID is used to propagate the correlation id of a request
	ContextKeyRequestID = ContextKey("requestUID")
	// ContextKeyDatabase holds the database handle resolved for the current request
	ContextKeyDatabase = ContextKey("database")
	// ContextKeyLocator holds the device locator resolved for the current request
	ContextKeyLocator = ContextKey("locator")
	// ContextKeyPrincipal holds the authenticated remote user of the current request
	ContextKeyPrincipal = ContextKey("principal")
)

// HTTP Request related constants
const (
	// SegmentHosts is the path segment which introduces a tango host
	SegmentHosts = "hosts"
	// SegmentHostsIndex is the position of SegmentHosts inside the path (after the path prefix was removed)
	SegmentHostsIndex = 2
	// MatrixParamPort is the matrix parameter of the host segment carrying the port
	MatrixParamPort = "port"
	// DefaultTangoPort is used if the host segment carries no port
	DefaultTangoPort = "10000"
	// DefaultPathPrefix is the prefix of all API endpoints
	DefaultPathPrefix = "/tango"
	// EndpointHealth is used as the http endpoint for liveliness probes
	EndpointHealth = "/health"
	// EndpointMetrics will be used if devgate is configured to publish metrics using Prometheus
	EndpointMetrics = "/metrics"
	// HeaderXForwardedFor is consulted for the client address if forwarded headers are trusted
	HeaderXForwardedFor = "X-Forwarded-For"
	// HeaderAuthorization carries basic or bearer credentials
	HeaderAuthorization = "Authorization"
	// HeaderRequestID carries the correlation id of a request
	HeaderRequestID = "X-Request-Id"
	// HeaderUser carries the authenticated user towards upstreams of the envoy proxy
	HeaderUser = "X-Devgate-User"
)

// Route variables
const (
	URLParamHost    = "host"
	URLParamDomain  = "domain"
	URLParamFamily  = "family"
	URLParamMember  = "member"
	URLParamVersion = "version"
	// QueryWildcard is the query parameter used by the listing endpoints
	QueryWildcard = "wildcard"
)

// Database related constants
const (
	// DatabaseTypeRedis selects the redis command executor
	DatabaseTypeRedis = "redis"
	// DatabaseTypePostgres selects the sql command executor with the postgres driver
	DatabaseTypePostgres = "postgres"
	// DatabaseTypeMySQL selects the sql command executor with the mysql driver
	DatabaseTypeMySQL = "mysql"
	// DatabaseTypeMongo selects the mongodb command executor
	DatabaseTypeMongo = "mongo"

	// MetaMaxOpenConnections is the MetaKey for maxOpenConnections
	MetaMaxOpenConnections string = "maxOpenConnections"
	// MetaMaxIdleConnections is the MetaKey for maxIdleConnections
	MetaMaxIdleConnections string = "maxIdleConnections"
	// MetaConnectionMaxLifetimeSeconds is the MetaKey for connectionMaxLifetimeSeconds
	MetaConnectionMaxLifetimeSeconds string = "connectionMaxLifetimeSeconds"
)

// Database commands issued by the data access facade and the command policy
const (
	CommandGetDeviceInfo       = "DbGetDeviceInfo"
	CommandGetDeviceWideList   = "DbGetDeviceWideList"
	CommandGetDeviceDomainList = "DbGetDeviceDomainList"
	CommandGetDeviceFamilyList = "DbGetDeviceFamilyList"
	CommandGetDeviceMemberList = "DbGetDeviceMemberList"
	CommandInfo                = "DbInfo"
	CommandGetAccess           = "GetAccess"
)

// Access control policies
const (
	PolicyOPA      = "opa"
	PolicyCommand  = "command"
	PolicyAllowAll = "allow-all"
)

// Telemetry Configuration
const (
	// TelemetryPrometheus is the telemetry option for prometheus
	TelemetryPrometheus string = "prometheus"
	// TelemetryOtlp is the telemetry option for OpenTelemetry
	TelemetryOtlp string = "otlp"
	// ProtocolHTTP indicates HTTP should be used for exporting OpenTelemetry data
	ProtocolHTTP string = "http"
	// ProtocolGRPC indicates gRPC should be used for exporting OpenTelemetry data
	ProtocolGRPC string = "grpc"
)

// ProtocolPrefixRe is the regex, which will be used to remove the protocol prefix from endpoints
const ProtocolPrefixRe = "^\\w+://"

// Telemetry Label
const (
	LabelHTTPMethod      string = "http.method"
	LabelHTTPStatusCode  string = "http.status_code"
	LabelDecision        string = "decision"
	LabelDevice          string = "device"
	LabelUser            string = "user"
	LabelTangoHost       string = "tango.host"
	LabelCommand         string = "db.command"
	LabelOutcome         string = "outcome"
	LabelDatabaseBackend string = "db.system"
)

// DecisionError labels access checks which failed without a decision
const DecisionError = "ERROR"

// MetricInstrument identifies a devgate specific metric
type MetricInstrument string

// String returns the name of the instrument
func (m MetricInstrument) String() string {
	return string(m)
}

const (
	// InstrumentDecisions counts access decisions
	InstrumentDecisions MetricInstrument = "devgate_access_decisions_total"
	// InstrumentDecisionDuration measures access decision latency in seconds
	InstrumentDecisionDuration MetricInstrument = "devgate_access_decision_duration_seconds"
	// InstrumentDatabaseConnects counts connects to tango host databases
	InstrumentDatabaseConnects MetricInstrument = "devgate_database_connects_total"
	// InstrumentDatabaseCommandDuration measures database command latency in seconds
	InstrumentDatabaseCommandDuration MetricInstrument = "devgate_database_command_duration_seconds"
)

// Outcomes reported in metrics and logs
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)
