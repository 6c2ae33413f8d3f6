package data

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/unbasical/devgate/configs"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/data"
	deverrors "github.com/unbasical/devgate/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	mongoDevicesCollection = "devices"
	mongoAccessCollection  = "access"
	mongoDefaultDatabase   = "tango"
)

type mongoDevice struct {
	Name     string `bson:"name"`
	IOR      string `bson:"ior"`
	Version  string `bson:"version"`
	Server   string `bson:"server"`
	Host     string `bson:"host"`
	Exported bool   `bson:"exported"`
	PID      int    `bson:"pid"`
	Class    string `bson:"class"`
	Started  string `bson:"started"`
	Stopped  string `bson:"stopped"`
}

type mongoAccess struct {
	User    string `bson:"user"`
	Address string `bson:"address"`
	Device  string `bson:"device"`
	Rights  string `bson:"rights"`
}

// mongoStore reads the collections "devices" and "access" of a MongoDB device database.
type mongoStore struct {
	client   *mongo.Client
	database string
	addr     string
}

// NewMongoCommandExecutor creates a data.CommandExecutor for device databases kept in MongoDB.
func NewMongoCommandExecutor() data.CommandExecutor {
	return newStoreCommandExecutor(&mongoStore{})
}

func (s *mongoStore) backend() string {
	return constants.DatabaseTypeMongo
}

func (s *mongoStore) connect(ctx context.Context, conf *configs.DatabaseConfig, host, port string) error {
	s.addr = net.JoinHostPort(host, port)
	s.database = conf.Connection["database"]
	if s.database == "" {
		s.database = mongoDefaultDatabase
	}

	clientOptions := options.Client().ApplyURI(mongoConnectionString(s.addr, conf.Connection))
	if maxOpen, ok := conf.Metadata[constants.MetaMaxOpenConnections]; ok {
		size, err := strconv.ParseUint(maxOpen, 10, 64)
		if err != nil {
			return errors.Wrap(err, "mongoStore: Error while setting maxOpenConnections")
		}
		clientOptions.SetMaxPoolSize(size)
	}

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return errors.Wrap(err, "mongoStore: Error while connecting client")
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return errors.Wrapf(err, "mongoStore: unable to reach %s", s.addr)
	}

	s.client = client
	return nil
}

func mongoConnectionString(addr string, conn map[string]string) string {
	user := conn["user"]
	if user == "" {
		return fmt.Sprintf("mongodb://%s/", addr)
	}
	return fmt.Sprintf("mongodb://%s@%s/", url.UserPassword(user, conn["password"]).String(), addr)
}

func (s *mongoStore) devices() *mongo.Collection {
	return s.client.Database(s.database).Collection(mongoDevicesCollection)
}

func (s *mongoStore) deviceNames(ctx context.Context, wildcard string) ([]string, error) {
	parts := strings.Split(wildcard, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	filter := bson.M{"name": bson.M{"$regex": "^" + strings.Join(parts, ".*") + "$", "$options": "i"}}

	cursor, err := s.devices().Find(ctx, filter, options.Find().SetProjection(bson.M{"name": 1}))
	if err != nil {
		return nil, errors.Wrap(err, "mongoStore: Error while sending query to DB")
	}
	defer cursor.Close(ctx)

	names := make([]string, 0)
	for cursor.Next(ctx) {
		var device mongoDevice
		if err := cursor.Decode(&device); err != nil {
			return nil, errors.Wrap(err, "mongoStore: Unable to decode result")
		}
		names = append(names, device.Name)
	}
	return names, cursor.Err()
}

func (s *mongoStore) deviceInfo(ctx context.Context, name string) (*data.DeviceInfo, error) {
	var device mongoDevice
	err := s.devices().FindOne(ctx, bson.M{"name": strings.ToLower(name)}).Decode(&device)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, deverrors.DeviceNotFoundError{Device: name}
	}
	if err != nil {
		return nil, errors.Wrap(err, "mongoStore: Error while sending query to DB")
	}

	return &data.DeviceInfo{
		Name:      device.Name,
		IOR:       device.IOR,
		Version:   device.Version,
		Server:    device.Server,
		Host:      device.Host,
		Exported:  device.Exported,
		PID:       device.PID,
		ClassName: device.Class,
		StartedAt: device.Started,
		StoppedAt: device.Stopped,
	}, nil
}

func (s *mongoStore) access(ctx context.Context, user, address, device string) (string, error) {
	filter := bson.M{
		"user":    bson.M{"$in": bson.A{user, "*"}},
		"address": bson.M{"$in": bson.A{address, "*"}},
		"device":  bson.M{"$in": bson.A{strings.ToLower(device), "*"}},
	}
	cursor, err := s.client.Database(s.database).Collection(mongoAccessCollection).Find(ctx, filter)
	if err != nil {
		return "", errors.Wrap(err, "mongoStore: Error while sending query to DB")
	}
	defer cursor.Close(ctx)

	// most specific rule wins: explicit user before "*", explicit device before "*"
	best, bestRank := "", 4
	for cursor.Next(ctx) {
		var rule mongoAccess
		if err := cursor.Decode(&rule); err != nil {
			return "", errors.Wrap(err, "mongoStore: Unable to decode result")
		}
		rank := 0
		if rule.User == "*" {
			rank += 2
		}
		if rule.Device == "*" {
			rank++
		}
		if rank < bestRank {
			best, bestRank = rule.Rights, rank
		}
	}
	return best, cursor.Err()
}

func (s *mongoStore) serverInfo(ctx context.Context) ([]string, error) {
	defined, err := s.devices().CountDocuments(ctx, bson.M{})
	if err != nil {
		return nil, errors.Wrap(err, "mongoStore: Error while sending query to DB")
	}
	exported, err := s.devices().CountDocuments(ctx, bson.M{"exported": true})
	if err != nil {
		return nil, errors.Wrap(err, "mongoStore: Error while sending query to DB")
	}
	return []string{
		"TANGO Database served by mongodb at " + s.addr,
		"Devices defined = " + strconv.FormatInt(defined, 10),
		"Devices exported = " + strconv.FormatInt(exported, 10),
	}, nil
}

func (s *mongoStore) close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(context.Background())
}
