//go:build e2e

package e2e

import (
	"context"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/pkg/errors"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type ServiceID string

const (
	ServiceRedis      ServiceID = "redis"
	ServicePostgreSQL ServiceID = "postgres"
	ServiceMySQL      ServiceID = "mysql"
	ServiceMongoDB    ServiceID = "mongo"
)

const (
	dbName     = "tango"
	dbUser     = "tango"
	dbPassword = "SuperSecure"
)

// serviceRequests holds one device database container per backend type.
//
//nolint:gochecknoglobals
var serviceRequests = map[ServiceID]tc.ContainerRequest{
	ServiceRedis: {
		Image:        "docker.io/redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	},
	ServicePostgreSQL: {
		Image: "docker.io/postgres:15",
		Env: map[string]string{
			"POSTGRES_DB":       dbName,
			"POSTGRES_USER":     dbUser,
			"POSTGRES_PASSWORD": dbPassword,
		},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(time.Minute),
	},
	ServiceMySQL: {
		Image: "docker.io/mysql:8",
		Env: map[string]string{
			"MYSQL_DATABASE":      dbName,
			"MYSQL_USER":          dbUser,
			"MYSQL_PASSWORD":      dbPassword,
			"MYSQL_ROOT_PASSWORD": "root-beats-everything",
		},
		ExposedPorts: []string{"3306/tcp"},
		WaitingFor:   wait.ForListeningPort("3306/tcp").WithStartupTimeout(2 * time.Minute),
	},
	ServiceMongoDB: {
		Image:        "docker.io/mongo:6",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections").WithStartupTimeout(time.Minute),
	},
}

type ContainerEnvironment struct {
	container map[ServiceID]tc.Container
}

func newContainerEnvironment() *ContainerEnvironment {
	return &ContainerEnvironment{container: map[ServiceID]tc.Container{}}
}

// Start runs the container of the given service unless it is running already.
func (env *ContainerEnvironment) Start(ctx context.Context, service ServiceID) error {
	if _, ok := env.container[service]; ok {
		return nil
	}
	req, ok := serviceRequests[service]
	if !ok {
		return errors.Errorf("unknown service %s", service)
	}

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return errors.Wrapf(err, "unable to start %s", service)
	}
	env.container[service] = c
	return nil
}

func (env *ContainerEnvironment) Stop(ctx context.Context) {
	for service, container := range env.container {
		_ = container.Terminate(ctx)
		delete(env.container, service)
	}
}

func (env *ContainerEnvironment) Host(ctx context.Context, service ServiceID) (string, error) {
	c, ok := env.container[service]
	if !ok {
		return "", errors.Errorf("unable to find service [%s]", service)
	}

	return c.Host(ctx)
}

// Port returns the host port the first exposed port of the service is mapped to.
func (env *ContainerEnvironment) Port(ctx context.Context, service ServiceID) (string, error) {
	c, ok := env.container[service]
	if !ok {
		return "", errors.Errorf("unable to find service [%s]", service)
	}

	p, err := c.MappedPort(ctx, nat.Port(serviceRequests[service].ExposedPorts[0]))
	if err != nil {
		return "", err
	}

	return strings.Split(string(p), "/")[0], nil
}
