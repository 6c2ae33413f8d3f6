package request

import (
	"strings"

	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/constants/logging"
	internalErrors "github.com/unbasical/devgate/pkg/errors"
	"github.com/unbasical/devgate/pkg/request"
)

type locatorParser struct {
	pathPrefix  string
	defaultPort string
}

// NewLocatorParser returns a request.LocatorParser which expects paths of shape
// "{pathPrefix}/{app}/{version}/hosts/{host}[;port={port}]/...".
// An empty defaultPort falls back to constants.DefaultTangoPort.
func NewLocatorParser(pathPrefix, defaultPort string) request.LocatorParser {
	if defaultPort == "" {
		defaultPort = constants.DefaultTangoPort
	}
	return &locatorParser{
		pathPrefix:  strings.TrimSuffix(pathPrefix, "/"),
		defaultPort: defaultPort,
	}
}

// See request.LocatorParser
func (p *locatorParser) Parse(path string) (request.DeviceLocator, bool, error) {
	if p.pathPrefix != "" {
		if path != p.pathPrefix && !strings.HasPrefix(path, p.pathPrefix+"/") {
			return request.DeviceLocator{}, false, nil
		}
		path = strings.TrimPrefix(path, p.pathPrefix)
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) <= constants.SegmentHostsIndex {
		return request.DeviceLocator{}, false, nil
	}
	if !strings.EqualFold(segmentPath(segments[constants.SegmentHostsIndex]), constants.SegmentHosts) {
		return request.DeviceLocator{}, false, nil
	}

	// No tango host was specified
	if len(segments) == constants.SegmentHostsIndex+1 || segmentPath(segments[constants.SegmentHostsIndex+1]) == "" {
		return request.DeviceLocator{}, true, internalErrors.MissingHostError{Path: path}
	}

	hostSegment := segments[constants.SegmentHostsIndex+1]
	port, ok := matrixParams(hostSegment)[constants.MatrixParamPort]
	if !ok || port == "" {
		port = p.defaultPort
	}

	locator := request.DeviceLocator{
		Host:        segmentPath(hostSegment),
		Port:        port,
		DefaultPort: p.defaultPort,
	}
	logging.LogForComponent("locatorParser").Debugf("Resolved tango host [%s] from path %q", locator, path)
	return locator, true, nil
}

// segmentPath strips all matrix parameters from a path segment.
func segmentPath(segment string) string {
	if i := strings.IndexByte(segment, ';'); i >= 0 {
		return segment[:i]
	}
	return segment
}

// matrixParams returns all matrix parameters of a path segment ("host;port=10001;x=y").
// Only the first value of a repeated parameter is kept.
func matrixParams(segment string) map[string]string {
	params := make(map[string]string)
	parts := strings.Split(segment, ";")
	for _, part := range parts[1:] {
		key, value, _ := strings.Cut(part, "=")
		if key == "" {
			continue
		}
		if _, exists := params[key]; !exists {
			params[key] = value
		}
	}
	return params
}
