package data

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/unbasical/devgate/pkg/constants/logging"
	"github.com/unbasical/devgate/pkg/data"
	"github.com/unbasical/devgate/pkg/request"
	"golang.org/x/sync/singleflight"
)

// Registry is the process-wide cache of resolved databases, keyed by DeviceLocator.Key().
//
// Handles are connected lazily on first use. Concurrent first accesses to the same key share a single connect.
// Failed connects are never cached.
type Registry struct {
	connector data.Connector

	mu      sync.RWMutex
	handles map[string]data.Database
	group   singleflight.Group
	closed  bool
}

// NewRegistry creates an empty Registry connecting through the given data.Connector.
func NewRegistry(connector data.Connector) *Registry {
	return &Registry{
		connector: connector,
		handles:   make(map[string]data.Database),
	}
}

// Get returns the database serving the locator, connecting to it if necessary.
func (r *Registry) Get(ctx context.Context, locator request.DeviceLocator) (data.Database, error) {
	key := locator.Key()

	r.mu.RLock()
	db, ok := r.handles[key]
	closed := r.closed
	r.mu.RUnlock()
	if ok {
		return db, nil
	}
	if closed {
		return nil, ErrRegistryClosed
	}

	result, err, _ := r.group.Do(key, func() (any, error) {
		// a concurrent call may have finished between the read above and entering the group
		r.mu.RLock()
		existing, ok := r.handles[key]
		r.mu.RUnlock()
		if ok {
			return existing, nil
		}

		// the connect is shared, so one caller giving up must not fail the others; the connector bounds it in time
		connected, err := r.connector.Connect(context.WithoutCancel(ctx), locator.Host, locator.Port)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			_ = connected.Close()
			return nil, ErrRegistryClosed
		}
		r.handles[key] = connected
		return connected, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(data.Database), nil
}

// Evict closes and drops the handle stored for key. Unknown keys are ignored.
func (r *Registry) Evict(key string) error {
	r.mu.Lock()
	db, ok := r.handles[key]
	delete(r.handles, key)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	logging.LogForComponent("databaseRegistry").Infof("Evicted database of tango host %s", key)
	return db.Close()
}

// Len returns the number of cached handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Close closes all handles. The registry refuses to connect afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]data.Database)
	r.closed = true
	r.mu.Unlock()

	var firstErr error
	for key, db := range handles {
		if err := db.Close(); err != nil {
			logging.LogForComponent("databaseRegistry").WithError(err).Warnf("Unable to close database of tango host %s", key)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ErrRegistryClosed is returned by Registry.Get after Close.
var ErrRegistryClosed = errors.New("database registry is closed")
