package authn

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"github.com/unbasical/devgate/configs"
	"github.com/unbasical/devgate/pkg/authn"
	"github.com/unbasical/devgate/pkg/constants"
)

const bearerPrefix = "bearer "

type jwtAuthenticator struct {
	config   *configs.JwtAuthentication
	keystore *KeyStore
	parser   *jwt.Parser
}

// NewJwtAuthenticator creates an authn.Authenticator for bearer tokens signed either with the configured HMAC secret
// or with a key of one of the configured JWKS locations.
func NewJwtAuthenticator(ctx context.Context, config *configs.JwtAuthentication) (authn.Authenticator, error) {
	if config == nil {
		return nil, errors.Errorf("JwtAuthenticator: config must not be nil")
	}

	a := &jwtAuthenticator{
		config:   config,
		keystore: NewKeyStore(ctx, config.JwksTTL, config.JwksMaxWait),
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"HS256", "HS384", "HS512", "RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512"})),
	}

	for _, jwksURL := range config.JwksUrls {
		if err := a.keystore.Register(ctx, jwksURL); err != nil {
			return nil, errors.Wrapf(err, "failed to register url [%s]", jwksURL.String())
		}
	}
	return a, nil
}

func (a *jwtAuthenticator) Name() string {
	return "jwt"
}

// Authenticate - see authn.Authenticator
func (a *jwtAuthenticator) Authenticate(_ context.Context, r *http.Request) (*authn.Principal, error) {
	header := r.Header.Get(constants.HeaderAuthorization)
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return nil, nil
	}

	claims := jwt.MapClaims{}
	t, err := a.parser.ParseWithClaims(strings.TrimSpace(header[len(bearerPrefix):]), claims, a.keyFunc)
	if err != nil {
		return nil, errors.Wrap(err, "invalid bearer token")
	}
	if !t.Valid {
		return nil, errors.New("invalid bearer token")
	}

	for _, audience := range a.config.TargetAudience {
		if !claims.VerifyAudience(audience, true) {
			return nil, errors.Errorf("token does not have all audiences, missing audience: %s", audience)
		}
	}

	if len(a.config.TrustedIssuers) > 0 {
		issuer, _ := claims["iss"].(string)
		if !contains(a.config.TrustedIssuers, issuer) {
			return nil, errors.Errorf("Token issuer does not match any trusted issuer [%s]. received issuer: [%s]", strings.Join(a.config.TrustedIssuers, ", "), issuer)
		}
	}

	user, ok := claims[a.config.UserClaim].(string)
	if !ok || user == "" {
		return nil, errors.Errorf("token has no user claim [%s]", a.config.UserClaim)
	}
	return &authn.Principal{User: user, Method: a.Name()}, nil
}

func (a *jwtAuthenticator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok && a.config.Secret != "" {
		return []byte(a.config.Secret), nil
	}

	kid, ok := token.Header["kid"].(string)
	if !ok || kid == "" {
		return nil, errors.New("The JSON Web Token must contain a kid header value but did not.")
	}

	key, err := a.keystore.ResolveKey(kid, "sig")
	if err != nil {
		return nil, err
	}

	// Mutate to public key
	if _, ok := key.Key.([]byte); !ok && !key.IsPublic() {
		k := key.Public()
		key = &k
	}

	switch token.Method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodRSAPSS:
		if k, ok := key.Key.(*rsa.PublicKey); ok {
			return k, nil
		}
	case *jwt.SigningMethodECDSA:
		if k, ok := key.Key.(*ecdsa.PublicKey); ok {
			return k, nil
		}
	case *jwt.SigningMethodHMAC:
		if k, ok := key.Key.([]byte); ok {
			return k, nil
		}
	default:
		return nil, errors.Errorf("This request object uses unsupported signing algorithm [%s]", token.Header["alg"])
	}

	return nil, errors.Errorf("The signing key algorithm does not match the algorithm from the token header")
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
