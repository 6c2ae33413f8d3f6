package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/constants/logging"
	"github.com/unbasical/devgate/pkg/data"
	internalErrors "github.com/unbasical/devgate/pkg/errors"
	"github.com/unbasical/devgate/pkg/request"
)

const defaultWildcard = "*"

type hostInfo struct {
	Host  string   `json:"host"`
	Port  string   `json:"port"`
	Name  string   `json:"name"`
	DBURL string   `json:"url"`
	Info  []string `json:"info"`
}

type deviceInfoResponse struct {
	*data.DeviceInfo
	Address string `json:"address"`
}

type restHandlers struct {
	databases data.Resolver
	routes    map[string]http.HandlerFunc
}

func newRestHandlers(databases data.Resolver) *restHandlers {
	h := &restHandlers{databases: databases}
	h.routes = map[string]http.HandlerFunc{
		EndpointMissingHost:    h.handleMissingHost,
		EndpointHostInfo:       h.withDatabase(h.handleHostInfo),
		EndpointDeviceList:     h.withDatabase(h.handleDeviceList),
		EndpointDeviceInfo:     h.withDatabase(h.handleDeviceInfo),
		EndpointDeviceResource: h.handleNotImplemented,
		EndpointDomainList:     h.withDatabase(h.handleDomainList),
		EndpointFamilyList:     h.withDatabase(h.handleFamilyList),
		EndpointMemberList:     h.withDatabase(h.handleMemberList),
		EndpointHostResource:   h.handleNotFound,
	}
	return h
}

func (h *restHandlers) handlerFor(endpoint string) http.HandlerFunc {
	if handler, ok := h.routes[endpoint]; ok {
		return handler
	}
	return h.handleNotFound
}

type databaseHandlerFunc func(w http.ResponseWriter, r *http.Request, db data.Database)

// withDatabase answers 503 if the pipeline bound no database to the request.
func (h *restHandlers) withDatabase(next databaseHandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		db, ok := data.DatabaseFromContext(r.Context())
		if !ok {
			host := ""
			if locator, found := request.LocatorFromContext(r.Context()); found {
				host = locator.String()
			}
			writeFailures(w, http.StatusServiceUnavailable, newFailures(
				http.StatusText(http.StatusServiceUnavailable),
				"No database available for tango host "+host,
				"restHandler"))
			return
		}
		next(w, r, db)
	}
}

// fail answers err. A database which became unreachable is evicted, so the next request reconnects.
func (h *restHandlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	if _, unavailable := errors.Cause(err).(internalErrors.BackendUnavailableError); unavailable {
		if locator, ok := request.LocatorFromContext(r.Context()); ok {
			if evictErr := h.databases.Evict(locator.Key()); evictErr != nil {
				logging.LogForComponent("restHandler").WithError(evictErr).Warnf("Unable to close database of tango host %s", locator)
			}
		}
	}
	writeError(r.Context(), w, "restHandler", err)
}

func (h *restHandlers) handleMissingHost(w http.ResponseWriter, r *http.Request) {
	writeError(r.Context(), w, "restHandler", internalErrors.MissingHostError{Path: r.URL.Path})
}

func (h *restHandlers) handleNotImplemented(w http.ResponseWriter, r *http.Request) {
	writeFailures(w, http.StatusNotImplemented, newFailures(http.StatusText(http.StatusNotImplemented),
		"Device resources are not served by devgate", "restHandler"))
}

func (h *restHandlers) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeFailures(w, http.StatusNotFound, newFailures(http.StatusText(http.StatusNotFound),
		"No resource at "+r.URL.Path, "restHandler"))
}

func (h *restHandlers) handleHostInfo(w http.ResponseWriter, r *http.Request, db data.Database) {
	info, err := db.Info(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hostInfo{
		Host:  db.Host(),
		Port:  db.Port(),
		Name:  db.Name(),
		DBURL: db.DBURL(),
		Info:  info,
	})
}

func (h *restHandlers) handleDeviceList(w http.ResponseWriter, r *http.Request, db data.Database) {
	devices, err := db.DeviceList(r.Context(), wildcard(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(devices))
}

func (h *restHandlers) handleDeviceInfo(w http.ResponseWriter, r *http.Request, db data.Database) {
	device := deviceFromRoute(r)
	info, err := db.DeviceInfo(r.Context(), device)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	address, err := db.DeviceAddress(r.Context(), device)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, deviceInfoResponse{DeviceInfo: info, Address: address})
}

func (h *restHandlers) handleDomainList(w http.ResponseWriter, r *http.Request, db data.Database) {
	domains, err := db.DomainList(r.Context(), wildcard(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(domains))
}

func (h *restHandlers) handleFamilyList(w http.ResponseWriter, r *http.Request, db data.Database) {
	vars := mux.Vars(r)
	families, err := db.FamilyList(r.Context(), vars[constants.URLParamDomain], wildcard(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(families))
}

func (h *restHandlers) handleMemberList(w http.ResponseWriter, r *http.Request, db data.Database) {
	vars := mux.Vars(r)
	members, err := db.MemberList(r.Context(), vars[constants.URLParamDomain], vars[constants.URLParamFamily], wildcard(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(members))
}

func wildcard(r *http.Request) string {
	if w := r.URL.Query().Get(constants.QueryWildcard); w != "" {
		return w
	}
	return defaultWildcard
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
