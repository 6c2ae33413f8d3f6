// Package data contains the contracts of the device database backend: the command executors talking to a concrete
// store, the data access facade built on top of them and the connectors which establish both for a tango host.
package data

import (
	"context"

	"github.com/unbasical/devgate/configs"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/request"
)

// DeviceInfo is the information a database holds about a single device.
type DeviceInfo struct {
	Name      string `json:"name"`
	IOR       string `json:"ior,omitempty"`
	Version   string `json:"version,omitempty"`
	Server    string `json:"server,omitempty"`
	Host      string `json:"host,omitempty"`
	Exported  bool   `json:"exported"`
	PID       int    `json:"pid,omitempty"`
	ClassName string `json:"className,omitempty"`
	StartedAt string `json:"startedAt,omitempty"`
	StoppedAt string `json:"stoppedAt,omitempty"`
}

// CommandExecutor is the interface that executes named database commands against a concrete store.
//
// Executors translate the commands issued by the Database facade (i.e. "DbGetDeviceInfo") into the native
// query language of their store. Unknown commands must result in an errors.CommandNotSupportedError,
// an unreachable store in an errors.BackendUnavailableError.
type CommandExecutor interface {

	// Configure connects the executor to the store serving the given tango host.
	// Please note that Configure has to be called once before the component can be used!
	Configure(ctx context.Context, conf *configs.DatabaseConfig, host, port string) error

	// Execute runs a command with its string arguments and returns the resulting string array.
	Execute(ctx context.Context, command string, args ...string) ([]string, error)

	// Name returns the name of the database device served by the executor.
	Name() string

	// Close releases all connections held by the executor.
	Close() error
}

// Database is the data access facade of a single tango host.
//
// Handles are long-living, shared between requests and owned by the registry they were resolved from.
type Database interface {
	Host() string
	Port() string
	// FullTangoHost returns "host:port".
	FullTangoHost() string
	// Name returns the name of the database device.
	Name() string
	// DBURL returns the tango uri of the database device.
	DBURL() string

	DeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
	// DeviceAddress returns the tango uri of the given device.
	DeviceAddress(ctx context.Context, device string) (string, error)
	DeviceList(ctx context.Context, wildcard string) ([]string, error)
	DomainList(ctx context.Context, wildcard string) ([]string, error)
	FamilyList(ctx context.Context, domain, wildcard string) ([]string, error)
	MemberList(ctx context.Context, domain, family, wildcard string) ([]string, error)
	Info(ctx context.Context) ([]string, error)

	// Close releases the underlying executor.
	Close() error
}

// Connector is the interface that establishes a Database handle for a tango host.
//
// Implementations must bound connection establishment in time and report failures as
// errors.BackendUnavailableError.
type Connector interface {
	Connect(ctx context.Context, host, port string) (Database, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, host, port string) (Database, error)

// Connect calls f(ctx, host, port).
func (f ConnectorFunc) Connect(ctx context.Context, host, port string) (Database, error) {
	return f(ctx, host, port)
}

// Resolver is the interface that returns the shared Database serving a tango host.
type Resolver interface {
	Get(ctx context.Context, locator request.DeviceLocator) (Database, error)
	// Evict drops the handle stored for DeviceLocator.Key(), so the next Get connects again
	Evict(key string) error
}

// WithDatabase publishes a resolved database handle into the request context.
func WithDatabase(ctx context.Context, db Database) context.Context {
	return context.WithValue(ctx, constants.ContextKeyDatabase, db)
}

// DatabaseFromContext returns the database handle bound to the request, if any.
func DatabaseFromContext(ctx context.Context) (Database, bool) {
	db, ok := ctx.Value(constants.ContextKeyDatabase).(Database)
	return db, ok && db != nil
}
