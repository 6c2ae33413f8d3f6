package configs

import (
	"net/url"
	"time"

	"github.com/pkg/errors"
)

// AuthenticationConfig lists the ways a remote user can identify itself.
// A request without valid credentials stays anonymous.
type AuthenticationConfig struct {
	// TrustForwardedFor takes the client address from the first X-Forwarded-For hop.
	TrustForwardedFor bool                 `yaml:"trust-forwarded-for"`
	Basic             *BasicAuthentication `yaml:"basic"`
	Jwt               *JwtAuthentication   `yaml:"jwt"`
}

// BasicAuthentication maps user names to bcrypt password hashes.
type BasicAuthentication struct {
	Realm string            `yaml:"realm"`
	Users map[string]string `yaml:"users"`
}

type JwtAuthentication struct {
	Secret         string        `yaml:"secret"`
	JwksStringURLs []string      `yaml:"jwks_urls"`
	JwksTTL        time.Duration `yaml:"jwks_ttl"`
	JwksMaxWait    time.Duration `yaml:"jwks_max_wait"`
	TargetAudience []string      `yaml:"target_audience"`
	TrustedIssuers []string      `yaml:"trusted_issuers"`
	UserClaim      string        `yaml:"user_claim"`
	JwksUrls       []url.URL     `yaml:"-"`
}

func (c *JwtAuthentication) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var partial struct {
		Secret         string        `yaml:"secret"`
		JwksStringURLs []string      `yaml:"jwks_urls"`
		JwksTTL        time.Duration `yaml:"jwks_ttl"`
		JwksMaxWait    time.Duration `yaml:"jwks_max_wait"`
		TargetAudience []string      `yaml:"target_audience"`
		TrustedIssuers []string      `yaml:"trusted_issuers"`
		UserClaim      string        `yaml:"user_claim"`
	}

	err := unmarshal(&partial)
	if err != nil {
		return err
	}

	c.Secret = partial.Secret
	c.JwksStringURLs = partial.JwksStringURLs
	c.JwksTTL = partial.JwksTTL
	c.JwksMaxWait = partial.JwksMaxWait
	c.TargetAudience = partial.TargetAudience
	c.TrustedIssuers = partial.TrustedIssuers
	c.UserClaim = partial.UserClaim
	c.JwksUrls = make([]url.URL, 0, len(c.JwksStringURLs))

	for _, strURL := range c.JwksStringURLs {
		u, urlErr := url.Parse(strURL)
		if urlErr != nil {
			return errors.Wrapf(urlErr, "unable to parse [%s] to url", strURL)
		}

		c.JwksUrls = append(c.JwksUrls, *u)
	}

	return nil
}

func (c *AuthenticationConfig) validate() error {
	if c.Basic != nil {
		if c.Basic.Realm == "" {
			c.Basic.Realm = "devgate"
		}
		for user, hash := range c.Basic.Users {
			if hash == "" {
				return errors.Errorf("Basic authentication user %q has no password hash!", user)
			}
		}
	}

	if c.Jwt != nil {
		if c.Jwt.Secret == "" && len(c.Jwt.JwksUrls) == 0 {
			return errors.Errorf("Jwt authentication requires either a secret or at least one jwks url!")
		}
		if c.Jwt.UserClaim == "" {
			c.Jwt.UserClaim = "sub"
		}
		if c.Jwt.JwksTTL == 0 {
			c.Jwt.JwksTTL = 5 * time.Minute
		}
		if c.Jwt.JwksMaxWait == 0 {
			c.Jwt.JwksMaxWait = 5 * time.Second
		}
	}
	return nil
}
