package authn

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/unbasical/devgate/configs"
	"github.com/unbasical/devgate/pkg/authn"
	"golang.org/x/crypto/bcrypt"
)

type basicAuthenticator struct {
	users map[string][]byte
	// compared for unknown users, so they take as long as known ones
	unknownUserHash []byte
}

// NewBasicAuthenticator creates an authn.Authenticator for HTTP basic credentials checked against bcrypt hashes.
func NewBasicAuthenticator(config *configs.BasicAuthentication) (authn.Authenticator, error) {
	if config == nil {
		return nil, errors.Errorf("BasicAuthenticator: config must not be nil")
	}

	users := make(map[string][]byte, len(config.Users))
	maxCost := bcrypt.DefaultCost
	for user, hash := range config.Users {
		cost, err := bcrypt.Cost([]byte(hash))
		if err != nil {
			return nil, errors.Wrapf(err, "password of user %q is no bcrypt hash", user)
		}
		if len(users) == 0 || cost > maxCost {
			maxCost = cost
		}
		users[user] = []byte(hash)
	}

	unknownUserHash, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), maxCost)
	if err != nil {
		return nil, errors.Wrap(err, "BasicAuthenticator: unable to hash unknown user password")
	}
	return &basicAuthenticator{users: users, unknownUserHash: unknownUserHash}, nil
}

func (a *basicAuthenticator) Name() string {
	return "basic"
}

// Authenticate - see authn.Authenticator
func (a *basicAuthenticator) Authenticate(_ context.Context, r *http.Request) (*authn.Principal, error) {
	user, password, ok := r.BasicAuth()
	if !ok {
		return nil, nil
	}

	hash, known := a.users[user]
	if !known {
		_ = bcrypt.CompareHashAndPassword(a.unknownUserHash, []byte(password))
		return nil, errors.Errorf("unknown user %q", user)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return nil, errors.Wrapf(err, "invalid password for user %q", user)
	}
	return &authn.Principal{User: user, Method: a.Name()}, nil
}
