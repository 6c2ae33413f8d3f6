// Package data contains the device database backends of devgate, the data access facade on top of them and the
// process-wide registry of resolved databases.
package data

import (
	"context"
	"strconv"

	"github.com/pkg/errors"
	"github.com/unbasical/devgate/configs"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/data"
	deverrors "github.com/unbasical/devgate/pkg/errors"
)

// deviceStore is the small set of primitives a concrete store has to offer. All commands
// are answered on top of them by storeCommandExecutor.
type deviceStore interface {
	connect(ctx context.Context, conf *configs.DatabaseConfig, host, port string) error
	// deviceNames returns all device names which might match the wildcard. Stores may return more names than
	// matching, the result is filtered again.
	deviceNames(ctx context.Context, wildcard string) ([]string, error)
	deviceInfo(ctx context.Context, name string) (*data.DeviceInfo, error)
	// access returns "write", "read" or an empty string if the store holds no rights for the user.
	access(ctx context.Context, user, address, device string) (string, error)
	serverInfo(ctx context.Context) ([]string, error)
	backend() string
	close() error
}

// storeCommandExecutor implements data.CommandExecutor by dispatching the device database commands to a deviceStore.
type storeCommandExecutor struct {
	store deviceStore
	name  string
}

func newStoreCommandExecutor(store deviceStore) data.CommandExecutor {
	return &storeCommandExecutor{store: store}
}

// Configure -- see data.CommandExecutor
func (e *storeCommandExecutor) Configure(ctx context.Context, conf *configs.DatabaseConfig, host, port string) error {
	if err := e.store.connect(ctx, conf, host, port); err != nil {
		return deverrors.BackendUnavailableError{Backend: e.store.backend(), Cause: err}
	}

	e.name = "sys/database/2"
	if name, ok := conf.Connection["device"]; ok && name != "" {
		e.name = name
	}
	return nil
}

// Name -- see data.CommandExecutor
func (e *storeCommandExecutor) Name() string {
	return e.name
}

// Execute -- see data.CommandExecutor
func (e *storeCommandExecutor) Execute(ctx context.Context, command string, args ...string) ([]string, error) {
	result, err := e.dispatch(ctx, command, args...)
	if err != nil {
		return nil, e.classify(err)
	}
	return result, nil
}

func (e *storeCommandExecutor) dispatch(ctx context.Context, command string, args ...string) ([]string, error) {
	switch command {
	case constants.CommandGetDeviceInfo:
		if len(args) != 1 {
			return nil, deverrors.InvalidInput{Msg: command + " expects exactly one device name"}
		}
		info, err := e.store.deviceInfo(ctx, args[0])
		if err != nil {
			return nil, err
		}
		return deviceInfoToArgs(info), nil

	case constants.CommandGetDeviceWideList:
		names, err := e.store.deviceNames(ctx, argOrWildcard(args))
		if err != nil {
			return nil, err
		}
		return filterDevices(names, argOrWildcard(args)), nil

	case constants.CommandGetDeviceDomainList:
		return e.segments(ctx, argOrWildcard(args), 0)
	case constants.CommandGetDeviceFamilyList:
		return e.segments(ctx, argOrWildcard(args), 1)
	case constants.CommandGetDeviceMemberList:
		return e.segments(ctx, argOrWildcard(args), 2)

	case constants.CommandInfo:
		return e.store.serverInfo(ctx)

	case constants.CommandGetAccess:
		if len(args) != 3 {
			return nil, deverrors.InvalidInput{Msg: command + " expects user, address and device"}
		}
		rights, err := e.store.access(ctx, args[0], args[1], args[2])
		if err != nil {
			return nil, err
		}
		return []string{rights}, nil

	default:
		return nil, deverrors.CommandNotSupportedError{Command: command, Backend: e.store.backend()}
	}
}

func (e *storeCommandExecutor) segments(ctx context.Context, wildcard string, depth int) ([]string, error) {
	names, err := e.store.deviceNames(ctx, "*")
	if err != nil {
		return nil, err
	}
	return segmentList(names, wildcard, depth), nil
}

// classify converts store failures into the typed errors of pkg/errors. Errors which are already typed pass.
func (e *storeCommandExecutor) classify(err error) error {
	switch errors.Cause(err).(type) {
	case deverrors.CommandNotSupportedError, deverrors.DeviceNotFoundError, deverrors.InvalidInput, deverrors.BackendUnavailableError:
		return err
	default:
		return deverrors.BackendUnavailableError{Backend: e.store.backend(), Cause: err}
	}
}

// Close -- see data.CommandExecutor
func (e *storeCommandExecutor) Close() error {
	return e.store.close()
}

func argOrWildcard(args []string) string {
	if len(args) == 0 || args[0] == "" {
		return "*"
	}
	return args[0]
}

// deviceInfoToArgs encodes a DeviceInfo in the fixed order parsed by argsToDeviceInfo.
func deviceInfoToArgs(info *data.DeviceInfo) []string {
	exported := "0"
	if info.Exported {
		exported = "1"
	}
	return []string{
		info.Name, info.IOR, info.Version, info.Server, info.Host,
		exported, strconv.Itoa(info.PID), info.ClassName, info.StartedAt, info.StoppedAt,
	}
}

func argsToDeviceInfo(args []string) (*data.DeviceInfo, error) {
	if len(args) != 10 {
		return nil, errors.Errorf("unexpected device info of length %d", len(args))
	}
	pid, err := strconv.Atoi(args[6])
	if err != nil {
		return nil, errors.Wrap(err, "invalid pid in device info")
	}
	return &data.DeviceInfo{
		Name:      args[0],
		IOR:       args[1],
		Version:   args[2],
		Server:    args[3],
		Host:      args[4],
		Exported:  args[5] == "1",
		PID:       pid,
		ClassName: args[7],
		StartedAt: args[8],
		StoppedAt: args[9],
	}, nil
}
