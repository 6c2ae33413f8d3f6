package authn

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/unbasical/devgate/pkg/constants/logging"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // register file:// buckets
	"gopkg.in/square/go-jose.v2"
)

var wellKnownSuffix = "/.well-known/openid-configuration"

type oidcWellKnownResponse struct {
	JwksURI string `json:"jwks_uri"`
}

// KeyStore holds the JSON Web Key Sets of all registered locations and refreshes them periodically.
type KeyStore struct {
	logger  *log.Entry
	client  *http.Client
	urls    []url.URL
	keys    map[url.URL]jose.JSONWebKeySet
	lock    sync.RWMutex
	timeout time.Duration
}

// NewKeyStore creates a KeyStore which refreshes all registered key sets every refreshInterval until ctx is done.
func NewKeyStore(ctx context.Context, refreshInterval, timeout time.Duration) *KeyStore {
	store := &KeyStore{
		logger:  logging.LogForComponent("remoteKeyStore"),
		client:  &http.Client{Timeout: timeout},
		keys:    make(map[url.URL]jose.JSONWebKeySet),
		timeout: timeout,
	}

	if refreshInterval > 0 {
		go store.start(ctx, refreshInterval)
	}
	return store
}

// Register fetches the key set behind the url and keeps it refreshed. OpenID well-known urls are resolved to
// their "jwks_uri".
func (s *KeyStore) Register(ctx context.Context, u url.URL) error {
	if isWellKnownURL(u) {
		jwksURL, err := s.extractJwksURLFromWellKnown(ctx, u)
		if err != nil {
			return errors.Wrapf(err, "unable to extract jwks_uri from well-known url [%s]", u.String())
		}
		u = jwksURL
	}

	s.lock.Lock()
	for _, known := range s.urls {
		if known == u {
			s.lock.Unlock()
			return nil
		}
	}
	s.urls = append(s.urls, u)
	s.lock.Unlock()

	return s.fetchKeySet(ctx, u)
}

// ResolveKey searches all registered key sets for a key with the given id and usage.
func (s *KeyStore) ResolveKey(kid, use string) (*jose.JSONWebKey, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	for _, u := range s.urls {
		set := s.keys[u]
		for _, key := range set.Key(kid) {
			if key.Use == "" || key.Use == use {
				k := key
				return &k, nil
			}
		}
	}

	return nil, errors.Errorf("key with kid [%s] not found", kid)
}

func (s *KeyStore) start(ctx context.Context, refreshInterval time.Duration) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.logger.Debug("Refreshing JWKS")
			s.fetchAll(ctx)
		}
	}
}

func (s *KeyStore) fetchAll(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.lock.RLock()
	urls := append([]url.URL(nil), s.urls...)
	s.lock.RUnlock()

	var wg sync.WaitGroup
	for _, u := range urls {
		wg.Add(1)
		go func(u url.URL) {
			defer wg.Done()
			if err := s.fetchKeySet(ctx, u); err != nil {
				s.logger.WithError(err).Errorf("Unable to fetch JSON Web Key Set from remote")
			}
		}(u)
	}
	wg.Wait()
}

func (s *KeyStore) fetchKeySet(ctx context.Context, u url.URL) error {
	var reader io.ReadCloser

	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
		if err != nil {
			return errors.Wrapf(err, "unable to fetch JSON Web Keys from location [%s]", u.String())
		}
		res, err := s.client.Do(req)
		if err != nil {
			return errors.Wrapf(err, "unable to fetch JSON Web Keys from location [%s]", u.String())
		}
		defer res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode >= 400 {
			return errors.Errorf("expected successful status code from location [%s], but received code %d", u.String(), res.StatusCode)
		}
		reader = res.Body

	case "", "file":
		location, err := filepath.Abs(u.Path)
		if err != nil {
			return errors.Wrapf(err, "unable to fetch JSON Web Keys from location [%s]", u.Path)
		}
		dir, key := filepath.Split(location)
		bucket, err := blob.OpenBucket(ctx, "file://"+dir)
		if err != nil {
			return errors.Wrapf(err, "unable to fetch JSON Web Keys from location [%s]", u.Path)
		}
		defer bucket.Close()

		r, err := bucket.NewReader(ctx, key, nil)
		if err != nil {
			return errors.Wrapf(err, "unable to fetch JSON Web Keys from location [%s]", u.Path)
		}
		defer r.Close()
		reader = r

	default:
		return errors.Errorf("unable to fetch JSON Web Keys from location [%s] because URL scheme [%s] is not supported", u.String(), u.Scheme)
	}

	var jwks jose.JSONWebKeySet
	if err := json.NewDecoder(reader).Decode(&jwks); err != nil {
		return errors.Wrapf(err, "unable to parse resource to JSON Web Keys linked by [%s]", u.String())
	}

	s.lock.Lock()
	s.keys[u] = jwks
	s.lock.Unlock()

	return nil
}

func isWellKnownURL(u url.URL) bool {
	return strings.HasSuffix(u.String(), wellKnownSuffix)
}

func (s *KeyStore) extractJwksURLFromWellKnown(ctx context.Context, u url.URL) (url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return url.URL{}, err
	}
	response, err := s.client.Do(req)
	if err != nil {
		return url.URL{}, err
	}
	defer response.Body.Close()

	var oidcResponse oidcWellKnownResponse
	if err := json.NewDecoder(response.Body).Decode(&oidcResponse); err != nil {
		return url.URL{}, err
	}

	jwksURL, err := url.Parse(oidcResponse.JwksURI)
	if err != nil {
		return url.URL{}, err
	}
	return *jwksURL, nil
}
