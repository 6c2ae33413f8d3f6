package data

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/unbasical/devgate/configs"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/data"
	deverrors "github.com/unbasical/devgate/pkg/errors"
)

const (
	redisDeviceKeyPrefix = "DEVICE|"
	redisDevicesKey      = "DEVICES"
	redisAccessKeyPrefix = "ACCESS|"
	redisAnyUser         = "*"
)

// redisStore keeps devices as hashes "DEVICE|domain/family/member" which are indexed by the set "DEVICES".
// Access rights are hashes "ACCESS|user" mapping device names (or "*") to "read" or "write".
type redisStore struct {
	client *redis.Client
	addr   string
}

// NewRedisCommandExecutor creates a data.CommandExecutor for device databases kept in redis.
func NewRedisCommandExecutor() data.CommandExecutor {
	return newStoreCommandExecutor(&redisStore{})
}

func (s *redisStore) backend() string {
	return constants.DatabaseTypeRedis
}

func (s *redisStore) connect(ctx context.Context, conf *configs.DatabaseConfig, host, port string) error {
	options := &redis.Options{
		Addr:     net.JoinHostPort(host, port),
		Username: conf.Connection["user"],
		Password: conf.Connection["password"],
	}
	if db, ok := conf.Connection["db"]; ok {
		index, err := strconv.Atoi(db)
		if err != nil {
			return errors.Wrap(err, "redisStore: invalid db index")
		}
		options.DB = index
	}
	if maxOpen, ok := conf.Metadata[constants.MetaMaxOpenConnections]; ok {
		size, err := strconv.Atoi(maxOpen)
		if err != nil {
			return errors.Wrap(err, "redisStore: Error while setting maxOpenConnections")
		}
		options.PoolSize = size
	}
	if maxIdle, ok := conf.Metadata[constants.MetaMaxIdleConnections]; ok {
		idle, err := strconv.Atoi(maxIdle)
		if err != nil {
			return errors.Wrap(err, "redisStore: Error while setting maxIdleConnections")
		}
		options.MinIdleConns = idle
	}

	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return errors.Wrapf(err, "redisStore: unable to reach %s", options.Addr)
	}

	s.client = client
	s.addr = options.Addr
	return nil
}

func (s *redisStore) deviceNames(ctx context.Context, _ string) ([]string, error) {
	return s.client.SMembers(ctx, redisDevicesKey).Result()
}

func (s *redisStore) deviceInfo(ctx context.Context, name string) (*data.DeviceInfo, error) {
	fields, err := s.client.HGetAll(ctx, redisDeviceKeyPrefix+strings.ToLower(name)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, deverrors.DeviceNotFoundError{Device: name}
	}

	pid, _ := strconv.Atoi(fields["pid"])
	return &data.DeviceInfo{
		Name:      name,
		IOR:       fields["ior"],
		Version:   fields["version"],
		Server:    fields["server"],
		Host:      fields["host"],
		Exported:  fields["exported"] == "1" || strings.EqualFold(fields["exported"], "true"),
		PID:       pid,
		ClassName: fields["class"],
		StartedAt: fields["started"],
		StoppedAt: fields["stopped"],
	}, nil
}

func (s *redisStore) access(ctx context.Context, user, _, device string) (string, error) {
	for _, key := range []string{redisAccessKeyPrefix + user, redisAccessKeyPrefix + redisAnyUser} {
		rights, err := s.client.HMGet(ctx, key, strings.ToLower(device), "*").Result()
		if err != nil {
			return "", err
		}
		for _, r := range rights {
			if value, ok := r.(string); ok && value != "" {
				return value, nil
			}
		}
	}
	return "", nil
}

func (s *redisStore) serverInfo(ctx context.Context) ([]string, error) {
	count, err := s.client.SCard(ctx, redisDevicesKey).Result()
	if err != nil {
		return nil, err
	}
	server, err := s.client.Info(ctx, "server").Result()
	if err != nil {
		return nil, err
	}

	version := "unknown"
	for _, line := range strings.Split(server, "\n") {
		if strings.HasPrefix(line, "redis_version:") {
			version = strings.TrimSpace(strings.TrimPrefix(line, "redis_version:"))
		}
	}
	return []string{
		"TANGO Database served by redis " + version + " at " + s.addr,
		"Devices defined = " + strconv.FormatInt(count, 10),
	}, nil
}

func (s *redisStore) close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
