package api

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"github.com/gorilla/mux"
	"github.com/unbasical/devgate/internal/pkg/util"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/constants/logging"
	"github.com/unbasical/devgate/pkg/request"
)

// Route names of the tango host endpoints
const (
	EndpointMissingHost    = "missingHost"
	EndpointHostInfo       = "hostInfo"
	EndpointDeviceList     = "deviceList"
	EndpointDeviceInfo     = "deviceInfo"
	EndpointDeviceResource = "deviceResource"
	EndpointDomainList     = "domainList"
	EndpointFamilyList     = "familyList"
	EndpointMemberList     = "memberList"
	EndpointHostResource   = "hostResource"
)

type hostRoute struct {
	name   string
	path   string
	prefix bool
}

// hostRoutes lists all tango host endpoints. The hosts segment is matched case-insensitive like the locator
// parser does, the version segment is restricted to versions if any are given.
func hostRoutes(versions []string) []hostRoute {
	version := "{" + constants.URLParamVersion + "}"
	if len(versions) > 0 {
		quoted := make([]string, 0, len(versions))
		for _, v := range versions {
			quoted = append(quoted, regexp.QuoteMeta(v))
		}
		version = "{" + constants.URLParamVersion + ":(?:" + strings.Join(quoted, "|") + ")}"
	}
	hosts := "/rest/" + version + "/{hosts:(?i)" + constants.SegmentHosts + "}"

	return []hostRoute{
		{name: EndpointMissingHost, path: hosts},
		{name: EndpointMissingHost, path: hosts + "/"},
		{name: EndpointHostInfo, path: hosts + "/{host}"},
		{name: EndpointDeviceList, path: hosts + "/{host}/devices"},
		{name: EndpointDeviceInfo, path: hosts + "/{host}/devices/{domain}/{family}/{member}"},
		{name: EndpointDeviceResource, path: hosts + "/{host}/devices/{domain}/{family}/{member}/", prefix: true},
		{name: EndpointDomainList, path: hosts + "/{host}/domains"},
		{name: EndpointFamilyList, path: hosts + "/{host}/domains/{domain}/families"},
		{name: EndpointMemberList, path: hosts + "/{host}/domains/{domain}/families/{family}/members"},
		{name: EndpointHostResource, path: hosts + "/{host}/", prefix: true},
	}
}

// RegisterHostRoutes registers all tango host endpoints below pathPrefix with the pipeline as route middleware,
// so stages can read the route variables. handlerFor returns the handler serving an endpoint.
// An empty versions list accepts any version segment.
func RegisterHostRoutes(router *mux.Router, pathPrefix string, versions []string, pipeline *Pipeline, handlerFor func(endpoint string) http.HandlerFunc) {
	sub := router
	if pathPrefix != "" && pathPrefix != "/" {
		sub = router.PathPrefix(pathPrefix).Subrouter()
	}
	sub.Use(pipeline.Middleware)

	for _, route := range hostRoutes(versions) {
		var r *mux.Route
		if route.prefix {
			r = sub.PathPrefix(route.path)
		} else {
			r = sub.Path(route.path)
		}
		r.Name(route.name).Handler(handlerFor(route.name))
	}
}

// UnroutedHandler serves requests no host route matched. Paths the parser claims as tango host paths never
// reach next: a missing host answers 400, anything else (i.e. an unknown api version) answers 404.
func UnroutedHandler(parser request.LocatorParser, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, applicable, err := parser.Parse(r.URL.Path)
		switch {
		case !applicable:
			next.ServeHTTP(w, r)
		case err != nil:
			writeError(r.Context(), w, "restRouter", err)
		default:
			writeFailures(w, http.StatusNotFound, newFailures(http.StatusText(http.StatusNotFound),
				"No tango host endpoint at "+r.URL.Path, "restRouter"))
		}
	})
}

// applyHandlerMiddleware assigns the correlation id and wraps the handler with metrics and tracing.
func (proxy *restProxy) applyHandlerMiddleware(ctx context.Context, endpoint string, handler http.Handler) http.Handler {
	wrappedHandler := handler
	wrappedHandler = proxy.config.MetricsProvider.WrapHTTPHandler(ctx, wrappedHandler)
	wrappedHandler = proxy.config.TraceProvider.WrapHTTPHandler(ctx, wrappedHandler, endpoint)
	return requestUIDMiddleware(wrappedHandler)
}

func requestUIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = util.AssignRequestUID(r)
		uid := util.GetRequestUID(r)
		w.Header().Set(constants.HeaderRequestID, uid)
		logging.LogWithCorrelationID(uid).Debugf("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
