// Package api contains the REST proxy of devgate which passes every request through the interception pipeline
// before it reaches the tango host endpoints.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/unbasical/devgate/pkg/api"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/constants/logging"
)

type restProxy struct {
	pathPrefix string
	port       uint32
	configured bool
	config     *api.ClientProxyConfig
	router     *mux.Router
	handler    http.Handler
	server     *http.Server
	listener   net.Listener
}

// NewRestProxy implements api.ClientProxy by serving the tango host endpoints below pathPrefix.
func NewRestProxy(pathPrefix string, port uint32) api.ClientProxy {
	if pathPrefix == "" {
		pathPrefix = constants.DefaultPathPrefix
	}
	return &restProxy{
		pathPrefix: pathPrefix,
		port:       port,
		configured: false,
		router:     mux.NewRouter(),
	}
}

// See Configure() of api.ClientProxy
func (proxy *restProxy) Configure(ctx context.Context, serverConf *api.ClientProxyConfig) error {
	if proxy.configured {
		return nil
	}
	if err := validateProxyConfig(serverConf); err != nil {
		return errors.Wrap(err, "RestProxy")
	}
	proxy.config = serverConf

	// Endpoints outside of the pipeline
	proxy.router.Path(constants.EndpointHealth).HandlerFunc(proxy.handleHealth).Methods(http.MethodGet)
	metricsHandler, err := serverConf.MetricsProvider.GetHTTPMetricsHandler()
	if err != nil {
		logging.LogForComponent("restProxy").Infof("Metrics endpoint disabled: %s", err.Error())
	} else if metricsHandler != nil {
		proxy.router.Path(constants.EndpointMetrics).Handler(metricsHandler).Methods(http.MethodGet)
	}

	handlers := newRestHandlers(serverConf.Databases)
	proxy.router.NotFoundHandler = UnroutedHandler(serverConf.Parser, http.NotFoundHandler())
	RegisterHostRoutes(proxy.router, proxy.pathPrefix, serverConf.APIVersions, NewDefaultPipeline(serverConf), handlers.handlerFor)
	proxy.handler = proxy.applyHandlerMiddleware(ctx, "devgate", proxy.router)

	proxy.configured = true
	logging.LogForComponent("restProxy").Infoln("Configured")
	return nil
}

// ServeHTTP serves a single request. Used by tests and embedding servers.
func (proxy *restProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	proxy.handler.ServeHTTP(w, r)
}

// See Start() of api.ClientProxy
func (proxy *restProxy) Start() error {
	if !proxy.configured {
		return errors.New("RestProxy was not configured! Please call Configure(). ")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", proxy.port))
	if err != nil {
		return errors.Wrap(err, "RestProxy: Unable to listen")
	}
	proxy.listener = listener
	proxy.server = &http.Server{
		Handler:           proxy.handler,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	// Start Server
	go func() {
		logging.LogForComponent("restProxy").Infof("Starting server at: http://%s%s", listener.Addr(), proxy.pathPrefix)
		if err := proxy.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.LogForComponent("restProxy").Fatal(err)
		}
	}()
	return nil
}

// See Stop() of api.ClientProxy
func (proxy *restProxy) Stop(deadline time.Duration) error {
	if proxy.server == nil {
		return errors.New("RestProxy has not bin started yet!")
	}
	logging.LogForComponent("restProxy").Infof("Stopping server at: http://%s%s", proxy.listener.Addr(), proxy.pathPrefix)
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()
	if err := proxy.server.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "Error while shutting down server")
	}
	return nil
}

func (proxy *restProxy) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

func validateProxyConfig(conf *api.ClientProxyConfig) error {
	switch {
	case conf == nil:
		return errors.New("ClientProxyConfig must not be nil!")
	case conf.Parser == nil:
		return errors.New("LocatorParser not configured!")
	case conf.Databases == nil:
		return errors.New("Database resolver not configured!")
	case conf.Authenticator == nil:
		return errors.New("Authenticator not configured!")
	case conf.Gate == nil:
		return errors.New("Access gate not configured!")
	case conf.MetricsProvider == nil || conf.TraceProvider == nil:
		return errors.New("Telemetry providers not configured!")
	}
	return nil
}
