// Package envoy serves the envoy external authorization api on top of the interception pipeline.
package envoy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	apiInt "github.com/unbasical/devgate/internal/pkg/api"
	"github.com/unbasical/devgate/internal/pkg/util"
	"github.com/unbasical/devgate/pkg/api"
	"github.com/unbasical/devgate/pkg/authn"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/constants/logging"
	"google.golang.org/genproto/googleapis/rpc/code"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Config represents the envoy proxy configuration.
type Config struct {
	Port             uint32 `json:"port"`
	DryRun           bool   `json:"dry-run"`
	EnableReflection bool   `json:"enable-reflection"`
	PathPrefix       string `json:"path-prefix"`
}

type envoyExtAuthzGrpcServer struct {
	cfg     Config
	server  *grpc.Server
	handler http.Handler
}

type envoyProxy struct {
	configured bool
	config     *api.ClientProxyConfig
	envoy      *envoyExtAuthzGrpcServer
}

// NewEnvoyProxy implements api.ClientProxy by answering envoy's ext_authz v3 Check calls.
func NewEnvoyProxy(config Config) api.ClientProxy {
	if config.Port == 0 {
		logging.LogForComponent("envoyProxy").Warnln("EnvoyProxy was initialized with default properties! You may have missed some arguments when creating it!")
		config.Port = 9191
		config.DryRun = false
		config.EnableReflection = true
	}
	if config.PathPrefix == "" {
		config.PathPrefix = constants.DefaultPathPrefix
	}

	return &envoyProxy{
		configured: false,
		envoy:      &envoyExtAuthzGrpcServer{cfg: config},
	}
}

// See Configure() of api.ClientProxy
func (proxy *envoyProxy) Configure(ctx context.Context, serverConf *api.ClientProxyConfig) error {
	if proxy.configured {
		return nil
	}
	if serverConf == nil || serverConf.Parser == nil || serverConf.Databases == nil || serverConf.Authenticator == nil || serverConf.Gate == nil {
		return errors.New("EnvoyProxy: Pipeline not configured!")
	}
	if serverConf.MetricsProvider == nil || serverConf.TraceProvider == nil {
		return errors.New("EnvoyProxy: Telemetry providers not configured!")
	}

	// Same routes as the rest proxy but every request which passed the pipeline is allowed.
	// Unrouted paths are allowed unless they address a tango host.
	router := mux.NewRouter()
	router.NotFoundHandler = apiInt.UnroutedHandler(serverConf.Parser, http.HandlerFunc(allow))
	apiInt.RegisterHostRoutes(router, proxy.envoy.cfg.PathPrefix, serverConf.APIVersions, apiInt.NewDefaultPipeline(serverConf), func(string) http.HandlerFunc {
		return allow
	})

	proxy.config = serverConf
	proxy.envoy.handler = router
	proxy.configured = true
	logging.LogForComponent("envoyProxy").Infoln("Configured")
	return nil
}

// See Start() of api.ClientProxy
func (proxy *envoyProxy) Start() error {
	if !proxy.configured {
		return errors.New("EnvoyProxy was not configured! Please call Configure(). ")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", proxy.envoy.cfg.Port))
	if err != nil {
		return errors.Wrap(err, "EnvoyProxy: Unable to create listener")
	}

	// Init grpc server
	proxy.envoy.server = grpc.NewServer(grpc.ChainUnaryInterceptor(
		proxy.config.MetricsProvider.GetGrpcServerInterceptor(),
		proxy.config.TraceProvider.GetGrpcServerInterceptor(),
	))
	// Register Authorization Server
	authv3.RegisterAuthorizationServer(proxy.envoy.server, proxy.envoy)

	// Register reflection service on gRPC server
	if proxy.envoy.cfg.EnableReflection {
		reflection.Register(proxy.envoy.server)
	}

	go proxy.envoy.serve(listener)
	return nil
}

// See Stop() of api.ClientProxy
func (proxy *envoyProxy) Stop(deadline time.Duration) error {
	if proxy.envoy.server == nil {
		return errors.New("EnvoyProxy has not bin started yet")
	}

	logging.LogForComponent("envoyProxy").Infof("Stopping envoy grpc-server at: :%d", proxy.envoy.cfg.Port)
	stopped := make(chan struct{})
	go func() {
		proxy.envoy.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(deadline):
		proxy.envoy.server.Stop()
	}
	return nil
}

func (p *envoyExtAuthzGrpcServer) serve(listener net.Listener) {
	logging.LogForComponent("envoyProxy").WithFields(log.Fields{
		"port":              p.cfg.Port,
		"dry-run":           p.cfg.DryRun,
		"enable-reflection": p.cfg.EnableReflection,
	}).Info("Starting gRPC server.")

	// The listener is closed automatically by Serve when it returns.
	if err := p.server.Serve(listener); err != nil {
		logging.LogForComponent("envoyProxy").WithError(err).Fatal("Listener failed.")
	}
	logging.LogForComponent("envoyProxy").Info("Listener exited.")
}

// Check replays the request envoy asks about through the pipeline.
func (p *envoyExtAuthzGrpcServer) Check(ctx context.Context, req *authv3.CheckRequest) (*authv3.CheckResponse, error) {
	httpRequest, err := newExternalRequest(req).toHTTP(ctx)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	httpRequest = util.AssignRequestUID(httpRequest)

	w := util.NewInMemResponseWriter()
	p.handler.ServeHTTP(w, httpRequest)
	if ctx.Err() != nil {
		return nil, status.FromContextError(ctx.Err()).Err()
	}
	w.Header().Set(constants.HeaderRequestID, util.GetRequestUID(httpRequest))

	allowed := w.StatusCode() == http.StatusOK
	if log.IsLevelEnabled(log.DebugLevel) {
		logging.LogWithCorrelationID(util.GetRequestUID(httpRequest)).WithFields(log.Fields{
			"dry-run": p.cfg.DryRun,
			"allowed": allowed,
			"status":  w.StatusCode(),
		}).Debug("Returning policy decision.")
	}

	// If dry-run mode, override the Status code to unconditionally Allow the request
	// DecisionLogging should reflect what "would" have happened
	if allowed || p.cfg.DryRun {
		return &authv3.CheckResponse{
			Status: &rpcstatus.Status{Code: int32(code.Code_OK)},
			HttpResponse: &authv3.CheckResponse_OkResponse{
				OkResponse: &authv3.OkHttpResponse{Headers: headerOptions(w.Header(), constants.HeaderUser)},
			},
		}, nil
	}

	return &authv3.CheckResponse{
		Status: &rpcstatus.Status{Code: int32(code.Code_PERMISSION_DENIED), Message: http.StatusText(w.StatusCode())},
		HttpResponse: &authv3.CheckResponse_DeniedResponse{
			DeniedResponse: &authv3.DeniedHttpResponse{
				Status:  &typev3.HttpStatus{Code: typev3.StatusCode(w.StatusCode())},
				Headers: headerOptions(w.Header(), "Content-Type", constants.HeaderRequestID),
				Body:    w.Body(),
			},
		},
	}, nil
}

// allow answers every request which passed the pipeline and forwards the authenticated user upstream.
func allow(w http.ResponseWriter, r *http.Request) {
	if principal, ok := authn.PrincipalFromContext(r.Context()); ok {
		w.Header().Set(constants.HeaderUser, principal.User)
	}
	w.WriteHeader(http.StatusOK)
}

func headerOptions(header http.Header, keys ...string) []*corev3.HeaderValueOption {
	var options []*corev3.HeaderValueOption
	for _, key := range keys {
		if value := header.Get(key); value != "" {
			options = append(options, &corev3.HeaderValueOption{
				Header: &corev3.HeaderValue{Key: key, Value: value},
			})
		}
	}
	return options
}
