package data

import (
	"context"
	"net"
	"strings"

	"github.com/pkg/errors"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/data"
	"github.com/unbasical/devgate/pkg/request"
)

// databaseDs implements data.Database by issuing database commands through a data.CommandExecutor.
type databaseDs struct {
	executor data.CommandExecutor
	host     string
	port     string
}

// NewDatabase creates the data access facade for the tango host served by the configured executor.
func NewDatabase(executor data.CommandExecutor, host, port string) data.Database {
	return &databaseDs{executor: executor, host: host, port: port}
}

func (d *databaseDs) Host() string {
	return d.host
}

func (d *databaseDs) Port() string {
	return d.port
}

func (d *databaseDs) FullTangoHost() string {
	return net.JoinHostPort(d.host, d.port)
}

func (d *databaseDs) Name() string {
	return d.executor.Name()
}

func (d *databaseDs) DBURL() string {
	return request.DeviceURI(d.FullTangoHost(), d.Name())
}

func (d *databaseDs) DeviceInfo(ctx context.Context, device string) (*data.DeviceInfo, error) {
	result, err := d.executor.Execute(ctx, constants.CommandGetDeviceInfo, device)
	if err != nil {
		return nil, err
	}
	info, err := argsToDeviceInfo(result)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read info of device %s", device)
	}
	return info, nil
}

// DeviceAddress resolves the device first so unknown devices are reported instead of dangling uris.
func (d *databaseDs) DeviceAddress(ctx context.Context, device string) (string, error) {
	info, err := d.DeviceInfo(ctx, device)
	if err != nil {
		return "", err
	}
	return request.DeviceURI(d.FullTangoHost(), info.Name), nil
}

func (d *databaseDs) DeviceList(ctx context.Context, wildcard string) ([]string, error) {
	return d.executor.Execute(ctx, constants.CommandGetDeviceWideList, wildcard)
}

func (d *databaseDs) DomainList(ctx context.Context, wildcard string) ([]string, error) {
	return d.executor.Execute(ctx, constants.CommandGetDeviceDomainList, orWildcard(wildcard))
}

func (d *databaseDs) FamilyList(ctx context.Context, domain, wildcard string) ([]string, error) {
	return d.executor.Execute(ctx, constants.CommandGetDeviceFamilyList, strings.Join([]string{domain, orWildcard(wildcard)}, "/"))
}

func (d *databaseDs) MemberList(ctx context.Context, domain, family, wildcard string) ([]string, error) {
	return d.executor.Execute(ctx, constants.CommandGetDeviceMemberList, strings.Join([]string{domain, family, orWildcard(wildcard)}, "/"))
}

func (d *databaseDs) Info(ctx context.Context) ([]string, error) {
	return d.executor.Execute(ctx, constants.CommandInfo)
}

func (d *databaseDs) Close() error {
	return d.executor.Close()
}

func orWildcard(wildcard string) string {
	if wildcard == "" {
		return "*"
	}
	return wildcard
}
