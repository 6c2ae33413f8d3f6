package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	authzInt "github.com/unbasical/devgate/internal/pkg/authz"
	dataInt "github.com/unbasical/devgate/internal/pkg/data"
	requestInt "github.com/unbasical/devgate/internal/pkg/request"
	"github.com/unbasical/devgate/pkg/api"
	"github.com/unbasical/devgate/pkg/authn"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/data"
	internalErrors "github.com/unbasical/devgate/pkg/errors"
	"github.com/unbasical/devgate/pkg/request"
	"github.com/unbasical/devgate/pkg/telemetry"
)

const testUserHeader = "X-Test-User"

// headerAuthenticator trusts the user named in a test header
type headerAuthenticator struct{}

func (headerAuthenticator) Name() string { return "header" }

func (headerAuthenticator) Authenticate(_ context.Context, r *http.Request) (*authn.Principal, error) {
	user := r.Header.Get(testUserHeader)
	if user == "" {
		return nil, nil
	}
	return &authn.Principal{User: user, Address: "127.0.0.1", Method: "header"}, nil
}

type policyCall struct {
	op, user, address, device string
}

type recordingPolicy struct {
	mu       sync.Mutex
	calls    []policyCall
	canRead  bool
	canWrite bool
	err      error
	wait     bool
}

func (p *recordingPolicy) record(ctx context.Context, op, user, address, device string) error {
	p.mu.Lock()
	p.calls = append(p.calls, policyCall{op: op, user: user, address: address, device: device})
	p.mu.Unlock()
	if p.wait {
		<-ctx.Done()
		return ctx.Err()
	}
	return p.err
}

func (p *recordingPolicy) CanRead(ctx context.Context, user, address, device string) (bool, error) {
	if err := p.record(ctx, "read", user, address, device); err != nil {
		return false, err
	}
	return p.canRead, nil
}

func (p *recordingPolicy) CanWrite(ctx context.Context, user, address, device string) (bool, error) {
	if err := p.record(ctx, "write", user, address, device); err != nil {
		return false, err
	}
	return p.canWrite, nil
}

func (p *recordingPolicy) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeDatabase struct {
	host, port string
	devices    map[string]*data.DeviceInfo
	infoErr    error
	closed     atomic.Bool
}

func (f *fakeDatabase) Host() string {
	return f.host
}

func (f *fakeDatabase) Port() string {
	return f.port
}

func (f *fakeDatabase) FullTangoHost() string {
	return f.host + ":" + f.port
}

func (f *fakeDatabase) Name() string {
	return "sys/database/2"
}

func (f *fakeDatabase) DBURL() string {
	return request.DeviceURI(f.FullTangoHost(), f.Name())
}

func (f *fakeDatabase) DeviceInfo(_ context.Context, device string) (*data.DeviceInfo, error) {
	info, ok := f.devices[device]
	if !ok {
		return nil, internalErrors.DeviceNotFoundError{Device: device}
	}
	return info, nil
}

func (f *fakeDatabase) DeviceAddress(_ context.Context, device string) (string, error) {
	return request.DeviceURI(f.FullTangoHost(), device), nil
}

func (f *fakeDatabase) DeviceList(context.Context, string) ([]string, error) {
	names := make([]string, 0, len(f.devices))
	for name := range f.devices {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeDatabase) DomainList(context.Context, string) ([]string, error) {
	return []string{"sys", "test"}, nil
}

func (f *fakeDatabase) FamilyList(_ context.Context, domain, _ string) ([]string, error) {
	return []string{domain + "-family"}, nil
}

func (f *fakeDatabase) MemberList(_ context.Context, domain, family, _ string) ([]string, error) {
	return []string{domain + "-" + family + "-member"}, nil
}

func (f *fakeDatabase) Info(context.Context) ([]string, error) {
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	return []string{"TANGO Database sys/database/2"}, nil
}

func (f *fakeDatabase) Close() error {
	f.closed.Store(true)
	return nil
}

type testEnv struct {
	policy   *recordingPolicy
	connects atomic.Int32
	locators chan request.DeviceLocator
	connErr  error
	infoErr  error
	handles  []*fakeDatabase
	conf     *api.ClientProxyConfig
}

func newTestEnv() *testEnv {
	env := &testEnv{
		policy:   &recordingPolicy{canRead: true, canWrite: true},
		locators: make(chan request.DeviceLocator, 64),
	}
	connector := data.ConnectorFunc(func(ctx context.Context, host, port string) (data.Database, error) {
		env.connects.Add(1)
		env.locators <- request.DeviceLocator{Host: host, Port: port}
		if env.connErr != nil {
			return nil, env.connErr
		}
		// widen the window for concurrent callers
		time.Sleep(20 * time.Millisecond)
		db := &fakeDatabase{host: host, port: port, infoErr: env.infoErr, devices: map[string]*data.DeviceInfo{
			"a/b/c": {Name: "a/b/c", Server: "Motor/1", Exported: true},
		}}
		env.handles = append(env.handles, db)
		return db, nil
	})
	env.conf = &api.ClientProxyConfig{
		Parser:                 requestInt.NewLocatorParser(constants.DefaultPathPrefix, constants.DefaultTangoPort),
		Databases:              dataInt.NewRegistry(connector),
		Authenticator:          headerAuthenticator{},
		Gate:                   authzInt.NewGate(env.policy),
		MetricsProvider:        telemetry.NewNoopMetricProvider(),
		TraceProvider:          telemetry.NewNoopTraceProvider(),
		APIVersions:            []string{"rc4", "v1.1"},
		AccessDecisionLogLevel: "ALL",
	}
	return env
}

func (env *testEnv) proxy(t *testing.T) http.Handler {
	t.Helper()
	proxy := NewRestProxy(constants.DefaultPathPrefix, 0)
	require.NoError(t, proxy.Configure(context.Background(), env.conf))
	return proxy.(http.Handler)
}

// router runs the pipeline in front of a handler recording its invocations
func (env *testEnv) router(invoked *atomic.Int32) http.Handler {
	router := mux.NewRouter()
	RegisterHostRoutes(router, constants.DefaultPathPrefix, env.conf.APIVersions, NewDefaultPipeline(env.conf), func(string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			invoked.Add(1)
			w.WriteHeader(http.StatusNoContent)
		}
	})
	return router
}

func serve(handler http.Handler, method, path, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

const devicePath = "/tango/rest/rc4/hosts/foo/devices/a/b/c"

func TestAnonymousRequestIsRejected(t *testing.T) {
	env := newTestEnv()
	var invoked atomic.Int32

	rec := serve(env.router(&invoked), http.MethodGet, devicePath, "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, messageAnonymous, strings.TrimSpace(rec.Body.String()))
	assert.Zero(t, invoked.Load())
	assert.Zero(t, env.policy.callCount())
}

func TestUnsupportedMethodSkipsPolicy(t *testing.T) {
	for _, method := range []string{http.MethodPatch, http.MethodHead, http.MethodOptions, "get"} {
		t.Run(method, func(t *testing.T) {
			env := newTestEnv()
			var invoked atomic.Int32

			rec := serve(env.router(&invoked), method, devicePath, "u")

			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Zero(t, env.policy.callCount())
			assert.Zero(t, invoked.Load())
		})
	}
}

func TestDeniedReadNamesUserAndDevice(t *testing.T) {
	env := newTestEnv()
	env.policy.canRead = false
	var invoked atomic.Int32

	rec := serve(env.router(&invoked), http.MethodGet, devicePath, "u")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "User u does not have read access to a/b/c", strings.TrimSpace(rec.Body.String()))
	assert.Zero(t, invoked.Load())
	require.Equal(t, 1, env.policy.callCount())
	assert.Equal(t, policyCall{op: "read", user: "u", address: "127.0.0.1", device: "a/b/c"}, env.policy.calls[0])
}

func TestDeniedWriteWithForbiddenOnDeny(t *testing.T) {
	env := newTestEnv()
	env.policy.canWrite = false
	env.conf.ForbiddenOnDeny = true
	var invoked atomic.Int32

	rec := serve(env.router(&invoked), http.MethodPut, devicePath, "u")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "User u does not have write access to a/b/c", strings.TrimSpace(rec.Body.String()))
}

func TestAllowedRequestReachesHandler(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete} {
		t.Run(method, func(t *testing.T) {
			env := newTestEnv()
			var invoked atomic.Int32

			rec := serve(env.router(&invoked), method, devicePath, "u")

			assert.Equal(t, http.StatusNoContent, rec.Code)
			assert.Equal(t, int32(1), invoked.Load())
		})
	}
}

func TestMissingDeviceSegmentsArePassedToPolicy(t *testing.T) {
	env := newTestEnv()
	var invoked atomic.Int32

	serve(env.router(&invoked), http.MethodGet, "/tango/rest/rc4/hosts/foo/domains/a/families", "u")

	require.Equal(t, 1, env.policy.callCount())
	assert.Equal(t, "a//", env.policy.calls[0].device)
}

func TestLocatorPort(t *testing.T) {
	tests := []struct {
		path string
		port string
	}{
		{path: "/tango/rest/rc4/hosts/foo/devices", port: "10000"},
		{path: "/tango/rest/rc4/hosts/foo;port=10001/devices", port: "10001"},
		{path: "/tango/rest/rc4/hosts/foo;x=y;port=10002", port: "10002"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			env := newTestEnv()
			var invoked atomic.Int32

			rec := serve(env.router(&invoked), http.MethodGet, tt.path, "u")
			require.Equal(t, http.StatusNoContent, rec.Code)

			locator := <-env.locators
			assert.Equal(t, "foo", locator.Host)
			assert.Equal(t, tt.port, locator.Port)
		})
	}
}

func TestMissingHost(t *testing.T) {
	for _, path := range []string{"/tango/rest/rc4/hosts", "/tango/rest/rc4/hosts/", "/tango/rest/rc4/HOSTS"} {
		t.Run(path, func(t *testing.T) {
			env := newTestEnv()

			rec := serve(env.proxy(t), http.MethodGet, path, "u")

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var failures Failures
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failures))
			require.Len(t, failures.Errors, 1)
			assert.Equal(t, internalErrors.MissingHostMessage, failures.Errors[0].Description)
			assert.Equal(t, "FAILURE", failures.Quality)
			assert.Zero(t, env.connects.Load())
			assert.Zero(t, env.policy.callCount())
		})
	}
}

func TestConcurrentRequestsConnectOnce(t *testing.T) {
	env := newTestEnv()
	handler := env.proxy(t)

	var wg sync.WaitGroup
	codes := make([]int, 32)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = serve(handler, http.MethodGet, "/tango/rest/rc4/hosts/foo", "u").Code
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), env.connects.Load())
	for _, code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
}

func TestPolicyErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{name: "command not supported", err: internalErrors.CommandNotSupportedError{Command: "GetAccess", Backend: "redis"}, code: http.StatusInternalServerError},
		{name: "backend unavailable", err: internalErrors.BackendUnavailableError{Backend: "redis"}, code: http.StatusBadGateway},
		{name: "backend timeout", err: internalErrors.BackendUnavailableError{Backend: "redis", Cause: context.DeadlineExceeded}, code: http.StatusGatewayTimeout},
		{name: "invalid input", err: internalErrors.InvalidInput{Msg: "device"}, code: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			env.policy.err = tt.err
			var invoked atomic.Int32

			rec := serve(env.router(&invoked), http.MethodGet, devicePath, "u")

			assert.Equal(t, tt.code, rec.Code)
			assert.Zero(t, invoked.Load())
			var failures Failures
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failures))
			assert.Contains(t, failures.Errors[0].Description, tt.err.Error())
		})
	}
}

func TestCancelledRequestIsAbandoned(t *testing.T) {
	env := newTestEnv()
	env.policy.wait = true
	var invoked atomic.Int32
	handler := env.router(&invoked)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, devicePath, nil).WithContext(ctx)
	req.Header.Set(testUserHeader, "u")
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.ServeHTTP(rec, req)
		close(done)
	}()
	require.Eventually(t, func() bool { return env.policy.callCount() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Zero(t, invoked.Load())
	assert.Zero(t, rec.Body.Len())
	assert.Empty(t, rec.Header().Get("Content-Type"))
}

func TestUnreachableDatabase(t *testing.T) {
	t.Run("pass through", func(t *testing.T) {
		env := newTestEnv()
		env.connErr = internalErrors.BackendUnavailableError{Backend: "redis"}

		rec := serve(env.proxy(t), http.MethodGet, "/tango/rest/rc4/hosts/foo", "u")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, 1, env.policy.callCount())
	})

	t.Run("require connection", func(t *testing.T) {
		env := newTestEnv()
		env.connErr = internalErrors.BackendUnavailableError{Backend: "redis"}
		env.conf.RequireConnection = true

		rec := serve(env.proxy(t), http.MethodGet, "/tango/rest/rc4/hosts/foo", "u")

		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Zero(t, env.policy.callCount())
	})

	t.Run("require connection timeout", func(t *testing.T) {
		env := newTestEnv()
		env.connErr = internalErrors.BackendUnavailableError{Backend: "redis", Cause: context.DeadlineExceeded}
		env.conf.RequireConnection = true

		rec := serve(env.proxy(t), http.MethodGet, "/tango/rest/rc4/hosts/foo", "u")

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})
}

func TestUnavailableDatabaseIsEvicted(t *testing.T) {
	env := newTestEnv()
	env.infoErr = internalErrors.BackendUnavailableError{Backend: "redis"}
	handler := env.proxy(t)

	rec := serve(handler, http.MethodGet, "/tango/rest/rc4/hosts/foo", "u")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	require.Len(t, env.handles, 1)
	assert.True(t, env.handles[0].closed.Load())

	env.infoErr = nil
	rec = serve(handler, http.MethodGet, "/tango/rest/rc4/hosts/foo", "u")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(2), env.connects.Load())

	// other failures keep the handle
	rec = serve(handler, http.MethodGet, "/tango/rest/rc4/hosts/foo/devices/x/y/z", "u")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int32(2), env.connects.Load())
	assert.False(t, env.handles[1].closed.Load())
}

func TestRestEndpoints(t *testing.T) {
	env := newTestEnv()
	handler := env.proxy(t)

	t.Run("host info", func(t *testing.T) {
		rec := serve(handler, http.MethodGet, "/tango/rest/rc4/hosts/foo;port=10001", "u")
		require.Equal(t, http.StatusOK, rec.Code)

		var info hostInfo
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
		assert.Equal(t, hostInfo{
			Host:  "foo",
			Port:  "10001",
			Name:  "sys/database/2",
			DBURL: "tango://foo:10001/sys/database/2",
			Info:  []string{"TANGO Database sys/database/2"},
		}, info)
		assert.NotEmpty(t, rec.Header().Get(constants.HeaderRequestID))
	})

	t.Run("device info", func(t *testing.T) {
		rec := serve(handler, http.MethodGet, devicePath, "u")
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "a/b/c", body["name"])
		assert.Equal(t, "tango://foo:10000/a/b/c", body["address"])
	})

	t.Run("unknown device", func(t *testing.T) {
		rec := serve(handler, http.MethodGet, "/tango/rest/rc4/hosts/foo/devices/x/y/z", "u")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("device list", func(t *testing.T) {
		rec := serve(handler, http.MethodGet, "/tango/rest/rc4/hosts/foo/devices?wildcard=a/*", "u")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `["a/b/c"]`, rec.Body.String())
	})

	t.Run("tree listing", func(t *testing.T) {
		rec := serve(handler, http.MethodGet, "/tango/rest/rc4/hosts/foo/domains", "u")
		assert.JSONEq(t, `["sys","test"]`, rec.Body.String())

		rec = serve(handler, http.MethodGet, "/tango/rest/rc4/hosts/foo/domains/sys/families", "u")
		assert.JSONEq(t, `["sys-family"]`, rec.Body.String())

		rec = serve(handler, http.MethodGet, "/tango/rest/rc4/hosts/foo/domains/sys/families/tg/members", "u")
		assert.JSONEq(t, `["sys-tg-member"]`, rec.Body.String())
	})

	t.Run("device resources", func(t *testing.T) {
		rec := serve(handler, http.MethodGet, devicePath+"/attributes", "u")
		assert.Equal(t, http.StatusNotImplemented, rec.Code)

		rec = serve(handler, http.MethodGet, devicePath+"/attributes", "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("health bypasses pipeline", func(t *testing.T) {
		rec := serve(handler, http.MethodGet, constants.EndpointHealth, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"UP"}`, rec.Body.String())
	})

	t.Run("other paths pass untouched", func(t *testing.T) {
		rec := serve(handler, http.MethodGet, "/tango/rest/rc4", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("api versions", func(t *testing.T) {
		rec := serve(handler, http.MethodGet, "/tango/rest/v1.1/hosts/foo/domains", "u")
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = serve(handler, http.MethodGet, "/tango/rest/v1x1/hosts/foo/domains", "u")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Contains(t, rec.Body.String(), "No tango host endpoint")

		rec = serve(handler, http.MethodGet, "/tango/rest/v1x1/hosts", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), internalErrors.MissingHostMessage)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv()
	metrics := telemetry.NewPrometheusMetricsProvider()
	require.NoError(t, metrics.Configure(context.Background()))
	env.conf.MetricsProvider = metrics
	handler := env.proxy(t)

	serve(handler, http.MethodGet, devicePath, "")
	rec := serve(handler, http.MethodGet, constants.EndpointMetrics, "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `devgate_access_decisions_total{decision="DENY_NO_IDENTITY",http_method="GET"} 1`)
}

func TestFailedDecisionIsCountedAsError(t *testing.T) {
	env := newTestEnv()
	env.policy.err = internalErrors.BackendUnavailableError{Backend: "redis"}
	metrics := telemetry.NewPrometheusMetricsProvider()
	require.NoError(t, metrics.Configure(context.Background()))
	env.conf.MetricsProvider = metrics
	handler := env.proxy(t)

	rec := serve(handler, http.MethodGet, devicePath, "u")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	rec = serve(handler, http.MethodGet, constants.EndpointMetrics, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `devgate_access_decisions_total{decision="ERROR",http_method="GET"} 1`)
	assert.NotContains(t, rec.Body.String(), `decision="DENY_NO_PERMISSION"`)
}

func TestPipelineOrderAndAbort(t *testing.T) {
	var order []string
	record := func(name string, priority int, proceed bool) Stage {
		return Stage{Name: name, Priority: priority, Process: func(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
			order = append(order, name)
			return r, proceed
		}}
	}

	pipeline := NewPipeline(record("access", PriorityAccessControl, true), record("database", PriorityDatabase, true), record("authn", PriorityAuthentication, true))
	_, ok := pipeline.Run(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, ok)
	assert.Equal(t, []string{"database", "authn", "access"}, order)

	order = nil
	pipeline = NewPipeline(record("access", PriorityAccessControl, true), record("database", PriorityDatabase, false))
	_, ok = pipeline.Run(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)
	assert.Equal(t, []string{"database"}, order)
}

func TestPipelineRecoversPanickingStage(t *testing.T) {
	pipeline := NewPipeline(Stage{Name: "broken", Priority: 1, Process: func(http.ResponseWriter, *http.Request) (*http.Request, bool) {
		panic("boom")
	}})
	rec := httptest.NewRecorder()

	_, ok := pipeline.Run(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.False(t, ok)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestConfigureRejectsIncompleteConfig(t *testing.T) {
	env := newTestEnv()
	env.conf.Gate = nil

	err := NewRestProxy("", 0).Configure(context.Background(), env.conf)
	assert.Error(t, err)

	err = NewRestProxy("", 0).Start()
	assert.Error(t, err)
}
