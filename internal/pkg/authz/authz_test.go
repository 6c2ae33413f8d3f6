package authz_test

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unbasical/devgate/configs"
	internalauthz "github.com/unbasical/devgate/internal/pkg/authz"
	"github.com/unbasical/devgate/pkg/authn"
	"github.com/unbasical/devgate/pkg/authz"
	"github.com/unbasical/devgate/pkg/constants"
	deverrors "github.com/unbasical/devgate/pkg/errors"
)

type recordingPolicy struct {
	read, write bool
	err         error
	calls       []string
}

func (p *recordingPolicy) CanRead(_ context.Context, user, address, device string) (bool, error) {
	p.calls = append(p.calls, "read:"+user+"@"+address+":"+device)
	return p.read, p.err
}

func (p *recordingPolicy) CanWrite(_ context.Context, user, address, device string) (bool, error) {
	p.calls = append(p.calls, "write:"+user+"@"+address+":"+device)
	return p.write, p.err
}

func TestClassifyMethod(t *testing.T) {
	tests := []struct {
		method string
		want   authz.OperationClass
	}{
		{http.MethodGet, authz.Read},
		{http.MethodPut, authz.Write},
		{http.MethodPost, authz.Write},
		{http.MethodDelete, authz.Write},
		{http.MethodPatch, authz.Unsupported},
		{http.MethodHead, authz.Unsupported},
		{http.MethodOptions, authz.Unsupported},
		{"get", authz.Unsupported},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, authz.ClassifyMethod(tt.method), tt.method)
	}
}

func TestGateDeniesAnonymousBeforeAnythingElse(t *testing.T) {
	policy := &recordingPolicy{read: true, write: true}
	gate := internalauthz.NewGate(policy)

	for _, method := range []string{http.MethodGet, http.MethodPatch} {
		decision, err := gate.Decide(context.Background(), nil, "a/b/c", method)
		assert.NoError(t, err)
		assert.Equal(t, authz.DeniedNoIdentity, decision)
	}
	assert.Empty(t, policy.calls)
}

func TestGateDeniesUnsupportedMethodsWithoutPolicyCall(t *testing.T) {
	policy := &recordingPolicy{read: true, write: true}
	gate := internalauthz.NewGate(policy)

	decision, err := gate.Decide(context.Background(), &authn.Principal{User: "u"}, "a/b/c", http.MethodPatch)
	assert.NoError(t, err)
	assert.Equal(t, authz.DeniedUnsupportedMethod, decision)
	assert.Empty(t, policy.calls)
}

func TestGateDelegatesByOperationClass(t *testing.T) {
	policy := &recordingPolicy{read: true, write: false}
	gate := internalauthz.NewGate(policy)
	principal := &authn.Principal{User: "u", Address: "10.0.0.1"}

	decision, err := gate.Decide(context.Background(), principal, "a/b/c", http.MethodGet)
	assert.NoError(t, err)
	assert.Equal(t, authz.Allowed, decision)

	decision, err = gate.Decide(context.Background(), principal, "a/b/c", http.MethodDelete)
	assert.NoError(t, err)
	assert.Equal(t, authz.DeniedNoPermission, decision)

	decision, err = gate.Decide(context.Background(), principal, "a//c", http.MethodPost)
	assert.NoError(t, err)
	assert.Equal(t, authz.DeniedNoPermission, decision)

	assert.Equal(t, []string{"read:u@10.0.0.1:a/b/c", "write:u@10.0.0.1:a/b/c", "write:u@10.0.0.1:a//c"}, policy.calls)
}

func TestGateReturnsPolicyErrors(t *testing.T) {
	policyErr := deverrors.BackendUnavailableError{Backend: "redis", Cause: errors.New("connection refused")}
	gate := internalauthz.NewGate(&recordingPolicy{err: policyErr})

	_, err := gate.Decide(context.Background(), &authn.Principal{User: "u"}, "a/b/c", http.MethodGet)
	assert.Equal(t, policyErr, err)
}

func TestAccessDecisionString(t *testing.T) {
	assert.Equal(t, "ALLOW", authz.Allowed.String())
	assert.Equal(t, "DENY_NO_IDENTITY", authz.DeniedNoIdentity.String())
	assert.Equal(t, "DENY_NO_PERMISSION", authz.DeniedNoPermission.String())
	assert.Equal(t, "DENY_UNSUPPORTED_METHOD", authz.DeniedUnsupportedMethod.String())
}

func TestOPAPolicy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy, err := internalauthz.NewOPAPolicy(ctx, "devgate.access", "./testdata/policies")
	require.NoError(t, err)
	defer policy.Stop(ctx)

	tests := []struct {
		name     string
		user     string
		device   string
		canRead  bool
		canWrite bool
	}{
		{name: "operator", user: "bob", device: "lab/motor/x", canRead: true, canWrite: false},
		{name: "writer", user: "alice", device: "lab/motor/x", canRead: true, canWrite: true},
		{name: "protected system device", user: "alice", device: "sys/database/2", canRead: true, canWrite: false},
		{name: "public device", user: "mallory", device: "public/camera/1", canRead: true, canWrite: false},
		{name: "stranger", user: "mallory", device: "lab/motor/x", canRead: false, canWrite: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			read, err := policy.CanRead(ctx, tt.user, "10.0.0.1", tt.device)
			assert.NoError(t, err)
			assert.Equal(t, tt.canRead, read)

			write, err := policy.CanWrite(ctx, tt.user, "10.0.0.1", tt.device)
			assert.NoError(t, err)
			assert.Equal(t, tt.canWrite, write)
		})
	}
}

func TestOPAPolicyMissingRule(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy, err := internalauthz.NewOPAPolicy(ctx, "devgate.unknown", "./testdata/policies")
	require.NoError(t, err)
	defer policy.Stop(ctx)

	_, err = policy.CanRead(ctx, "alice", "10.0.0.1", "a/b/c")
	assert.True(t, deverrors.IsCommandNotSupported(err))
}

func TestOPAPolicyReload(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	write := func(rule string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "access.rego"), []byte("package devgate.access\n\ndefault can_read = false\n\ncan_read {\n\t"+rule+"\n}\n"), 0o600))
	}

	write(`input.user == "alice"`)
	policy, err := internalauthz.NewOPAPolicy(ctx, "devgate.access", dir)
	require.NoError(t, err)
	defer policy.Stop(ctx)

	allowed, err := policy.CanRead(ctx, "bob", "", "a/b/c")
	require.NoError(t, err)
	assert.False(t, allowed)

	write(`input.user == "bob"`)
	require.NoError(t, policy.Reload(ctx))

	allowed, err = policy.CanRead(ctx, "bob", "", "a/b/c")
	require.NoError(t, err)
	assert.True(t, allowed)
}

type staticExecutor struct {
	rights string
	err    error
}

func (e *staticExecutor) Configure(context.Context, *configs.DatabaseConfig, string, string) error {
	return nil
}

func (e *staticExecutor) Execute(_ context.Context, command string, _ ...string) ([]string, error) {
	if command != constants.CommandGetAccess {
		return nil, deverrors.CommandNotSupportedError{Command: command, Backend: "static"}
	}
	return []string{e.rights}, e.err
}

func (e *staticExecutor) Name() string { return "sys/access_control/1" }

func (e *staticExecutor) Close() error { return nil }

func TestCommandPolicy(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		rights   string
		canRead  bool
		canWrite bool
	}{
		{rights: "write", canRead: true, canWrite: true},
		{rights: "READ", canRead: true, canWrite: false},
		{rights: "", canRead: false, canWrite: false},
	}
	for _, tt := range tests {
		policy := internalauthz.NewCommandPolicy(&staticExecutor{rights: tt.rights})

		read, err := policy.CanRead(ctx, "u", "10.0.0.1", "a/b/c")
		assert.NoError(t, err)
		assert.Equal(t, tt.canRead, read, tt.rights)

		write, err := policy.CanWrite(ctx, "u", "10.0.0.1", "a/b/c")
		assert.NoError(t, err)
		assert.Equal(t, tt.canWrite, write, tt.rights)
	}

	unsupported := internalauthz.NewCommandPolicy(&staticExecutor{err: deverrors.CommandNotSupportedError{Command: constants.CommandGetAccess, Backend: "static"}})
	_, err := unsupported.CanRead(ctx, "u", "10.0.0.1", "a/b/c")
	assert.True(t, deverrors.IsCommandNotSupported(err))
}

func TestNewPolicy(t *testing.T) {
	policy, err := internalauthz.NewPolicy(context.Background(), &configs.AccessControlConfig{Policy: constants.PolicyAllowAll}, internalauthz.PolicyOptions{})
	require.NoError(t, err)
	allowed, err := policy.CanWrite(context.Background(), "u", "", "a/b/c")
	assert.NoError(t, err)
	assert.True(t, allowed)

	_, err = internalauthz.NewPolicy(context.Background(), &configs.AccessControlConfig{Policy: "unknown"}, internalauthz.PolicyOptions{})
	assert.Error(t, err)
}
