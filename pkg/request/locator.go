// Package request contains the components that extract the addressed tango host and device from an incoming request.
package request

import (
	"context"
	"net"
	"strings"

	"github.com/pkg/errors"
	"github.com/unbasical/devgate/pkg/constants"
)

// DeviceLocator identifies a backend database instance by host and port.
//
// A DeviceLocator is created per request and never modified afterwards.
// Port is never empty once the locator was resolved by a LocatorParser.
type DeviceLocator struct {
	Host        string
	Port        string
	DefaultPort string
}

// Key returns the lookup key used by the database registry ("host:port").
func (l DeviceLocator) Key() string {
	return net.JoinHostPort(l.Host, l.Port)
}

// String returns the tango host notation of the locator.
func (l DeviceLocator) String() string {
	return l.Host + ":" + l.Port
}

// LocatorParser is the interface that extracts a DeviceLocator out of a request path.
type LocatorParser interface {

	// Parse inspects the given request path.
	//
	// If the path does not address a tango host, applicable is false and the request should pass untouched.
	// If the path contains the hosts segment but no host, an errors.MissingHostError is returned.
	Parse(path string) (locator DeviceLocator, applicable bool, err error)
}

// DeviceIdentifier addresses a single device by its domain, family and member.
type DeviceIdentifier struct {
	Domain string
	Family string
	Member string
}

// String joins all segments in the canonical order "domain/family/member".
// Missing segments are kept as empty strings, the result is still passed on.
func (d DeviceIdentifier) String() string {
	return d.Domain + "/" + d.Family + "/" + d.Member
}

// Valid reports whether all segments are present.
func (d DeviceIdentifier) Valid() bool {
	return d.Domain != "" && d.Family != "" && d.Member != ""
}

// ParseDeviceIdentifier splits a canonical device name.
func ParseDeviceIdentifier(name string) (DeviceIdentifier, error) {
	parts := strings.Split(name, "/")
	if len(parts) != 3 {
		return DeviceIdentifier{}, errors.Errorf("device name %q does not match domain/family/member", name)
	}
	return DeviceIdentifier{Domain: parts[0], Family: parts[1], Member: parts[2]}, nil
}

// DeviceURI builds the tango uri of a device served by the given tango host ("tango://host/name").
func DeviceURI(tangoHost, name string) string {
	return "tango://" + strings.TrimSuffix(tangoHost, "/") + "/" + strings.TrimPrefix(name, "/")
}

// WithLocator publishes the resolved locator into the request context.
func WithLocator(ctx context.Context, locator DeviceLocator) context.Context {
	return context.WithValue(ctx, constants.ContextKeyLocator, locator)
}

// LocatorFromContext returns the locator resolved for the request, if any.
func LocatorFromContext(ctx context.Context) (DeviceLocator, bool) {
	locator, ok := ctx.Value(constants.ContextKeyLocator).(DeviceLocator)
	return locator, ok
}
