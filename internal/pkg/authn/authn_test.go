package authn_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unbasical/devgate/configs"
	internalauthn "github.com/unbasical/devgate/internal/pkg/authn"
	"github.com/unbasical/devgate/pkg/authn"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/square/go-jose.v2"
)

func bcryptHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func request(authorization string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/tango/rest/rc4/hosts/foo", http.NoBody)
	r.RemoteAddr = "10.0.0.7:51234"
	if authorization != "" {
		r.Header.Set("Authorization", authorization)
	}
	return r
}

func TestBasicAuthentication(t *testing.T) {
	a, err := internalauthn.NewBasicAuthenticator(&configs.BasicAuthentication{
		Users: map[string]string{"tango-cs": bcryptHash(t, "tango")},
	})
	require.NoError(t, err)

	valid := request("")
	valid.SetBasicAuth("tango-cs", "tango")
	principal, err := a.Authenticate(context.Background(), valid)
	assert.NoError(t, err)
	require.NotNil(t, principal)
	assert.Equal(t, "tango-cs", principal.User)
	assert.Equal(t, "basic", principal.Method)

	wrong := request("")
	wrong.SetBasicAuth("tango-cs", "wrong")
	principal, err = a.Authenticate(context.Background(), wrong)
	assert.Error(t, err)
	assert.Nil(t, principal)

	principal, err = a.Authenticate(context.Background(), request(""))
	assert.NoError(t, err)
	assert.Nil(t, principal)
}

func TestBasicAuthenticationRejectsPlainPasswords(t *testing.T) {
	_, err := internalauthn.NewBasicAuthenticator(&configs.BasicAuthentication{
		Users: map[string]string{"tango-cs": "tango"},
	})
	assert.Error(t, err)
}

func signHMAC(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestJwtAuthenticationWithSecret(t *testing.T) {
	a, err := internalauthn.NewJwtAuthenticator(context.Background(), &configs.JwtAuthentication{
		Secret:         "top-secret",
		TargetAudience: []string{"devgate"},
		TrustedIssuers: []string{"https://issuer.example.org"},
		UserClaim:      "preferred_username",
	})
	require.NoError(t, err)

	valid := signHMAC(t, "top-secret", jwt.MapClaims{
		"preferred_username": "alice",
		"aud":                "devgate",
		"iss":                "https://issuer.example.org",
		"exp":                time.Now().Add(time.Hour).Unix(),
	})
	principal, err := a.Authenticate(context.Background(), request("Bearer "+valid))
	assert.NoError(t, err)
	require.NotNil(t, principal)
	assert.Equal(t, "alice", principal.User)

	tests := []struct {
		name   string
		token  string
		header string
	}{
		{name: "wrong secret", token: signHMAC(t, "guessed", jwt.MapClaims{"preferred_username": "alice", "aud": "devgate", "iss": "https://issuer.example.org"})},
		{name: "wrong audience", token: signHMAC(t, "top-secret", jwt.MapClaims{"preferred_username": "alice", "aud": "other", "iss": "https://issuer.example.org"})},
		{name: "untrusted issuer", token: signHMAC(t, "top-secret", jwt.MapClaims{"preferred_username": "alice", "aud": "devgate", "iss": "https://evil.example.org"})},
		{name: "expired", token: signHMAC(t, "top-secret", jwt.MapClaims{"preferred_username": "alice", "aud": "devgate", "iss": "https://issuer.example.org", "exp": time.Now().Add(-time.Hour).Unix()})},
		{name: "missing user claim", token: signHMAC(t, "top-secret", jwt.MapClaims{"sub": "alice", "aud": "devgate", "iss": "https://issuer.example.org"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			principal, err := a.Authenticate(context.Background(), request("Bearer "+tt.token))
			assert.Error(t, err)
			assert.Nil(t, principal)
		})
	}

	principal, err = a.Authenticate(context.Background(), request("Basic dGFuZ286dGFuZ28="))
	assert.NoError(t, err)
	assert.Nil(t, principal)
}

func TestJwtAuthenticationWithJwksFile(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{Key: &key.PublicKey, KeyID: "devgate-test", Algorithm: "RS256", Use: "sig"}}}
	raw, err := json.Marshal(jwks)
	require.NoError(t, err)

	location := filepath.Join(t.TempDir(), "jwks.json")
	require.NoError(t, os.WriteFile(location, raw, 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := internalauthn.NewJwtAuthenticator(ctx, &configs.JwtAuthentication{
		JwksUrls:    []url.URL{{Scheme: "file", Path: location}},
		JwksMaxWait: time.Second,
		UserClaim:   "sub",
	})
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "bob"})
	token.Header["kid"] = "devgate-test"
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	principal, err := a.Authenticate(ctx, request("Bearer "+signed))
	assert.NoError(t, err)
	require.NotNil(t, principal)
	assert.Equal(t, "bob", principal.User)

	token.Header["kid"] = "unknown"
	signed, err = token.SignedString(key)
	require.NoError(t, err)
	_, err = a.Authenticate(ctx, request("Bearer "+signed))
	assert.Error(t, err)
}

func TestChainLeavesInvalidCredentialsAnonymous(t *testing.T) {
	a, err := internalauthn.NewAuthenticator(context.Background(), &configs.AuthenticationConfig{
		Basic: &configs.BasicAuthentication{Users: map[string]string{"tango-cs": bcryptHash(t, "tango")}},
	})
	require.NoError(t, err)

	wrong := request("")
	wrong.SetBasicAuth("tango-cs", "wrong")
	principal, err := a.Authenticate(context.Background(), wrong)
	assert.NoError(t, err)
	assert.Nil(t, principal)

	valid := request("")
	valid.SetBasicAuth("tango-cs", "tango")
	principal, err = a.Authenticate(context.Background(), valid)
	assert.NoError(t, err)
	require.NotNil(t, principal)
	assert.Equal(t, "10.0.0.7", principal.Address)
}

func TestRemoteAddress(t *testing.T) {
	r := request("")
	r.Header.Set("X-Forwarded-For", "192.168.1.1, 10.0.0.1")

	assert.Equal(t, "10.0.0.7", internalauthn.RemoteAddress(r, false))
	assert.Equal(t, "192.168.1.1", internalauthn.RemoteAddress(r, true))

	r.Header.Del("X-Forwarded-For")
	assert.Equal(t, "10.0.0.7", internalauthn.RemoteAddress(r, true))
}

func TestPrincipalContext(t *testing.T) {
	_, ok := authn.PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := authn.WithPrincipal(context.Background(), &authn.Principal{User: "alice"})
	principal, ok := authn.PrincipalFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "alice", principal.User)
}
