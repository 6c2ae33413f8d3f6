//go:build e2e

package e2e

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	// postgres driver
	_ "github.com/lib/pq"
)

type seedDevice struct {
	name     string
	server   string
	class    string
	exported bool
}

type seedAccess struct {
	user   string
	device string
	rights string
}

//nolint:gochecknoglobals
var (
	seedDevices = []seedDevice{
		{name: "sys/database/2", server: "DataBaseds/2", class: "DataBase", exported: true},
		{name: "sys/tg_test/1", server: "TangoTest/test", class: "TangoTest", exported: true},
		{name: "test/power/supply1", server: "PowerSupply/test", class: "PowerSupply", exported: false},
	}
	seedRights = []seedAccess{
		{user: "alice", device: "*", rights: "write"},
		{user: "bob", device: "sys/tg_test/1", rights: "read"},
	}
)

// seedDatabase fills the device database of the given service with seedDevices and seedRights.
func seedDatabase(ctx context.Context, service ServiceID, host, port string) error {
	switch service {
	case ServiceRedis:
		return seedRedis(ctx, net.JoinHostPort(host, port))
	case ServicePostgreSQL:
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", host, port, dbUser, dbPassword, dbName)
		return seedSQL(ctx, "postgres", dsn)
	case ServiceMySQL:
		mysqlConf := mysql.NewConfig()
		mysqlConf.Net = "tcp"
		mysqlConf.Addr = net.JoinHostPort(host, port)
		mysqlConf.User = dbUser
		mysqlConf.Passwd = dbPassword
		mysqlConf.DBName = dbName
		return seedSQL(ctx, "mysql", mysqlConf.FormatDSN())
	case ServiceMongoDB:
		return seedMongo(ctx, fmt.Sprintf("mongodb://%s/", net.JoinHostPort(host, port)))
	default:
		return errors.Errorf("unknown service %s", service)
	}
}

func seedRedis(ctx context.Context, addr string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	pipe := client.TxPipeline()
	for _, d := range seedDevices {
		pipe.SAdd(ctx, "DEVICES", d.name)
		pipe.HSet(ctx, "DEVICE|"+d.name,
			"server", d.server,
			"class", d.class,
			"host", "tango-cs",
			"version", "5",
			"exported", fmt.Sprint(d.exported))
	}
	for _, a := range seedRights {
		pipe.HSet(ctx, "ACCESS|"+a.user, a.device, a.rights)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func seedSQL(ctx context.Context, driver, dsn string) error {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	statements := []string{
		`CREATE TABLE device (
			name VARCHAR(255) NOT NULL,
			ior TEXT,
			version VARCHAR(8),
			server VARCHAR(255),
			host VARCHAR(255),
			exported BOOLEAN,
			pid INTEGER,
			class VARCHAR(255),
			started VARCHAR(64),
			stopped VARCHAR(64)
		)`,
		`CREATE TABLE access_device (
			user_name VARCHAR(255) NOT NULL,
			address VARCHAR(255) NOT NULL,
			device VARCHAR(255) NOT NULL,
			rights VARCHAR(16) NOT NULL
		)`,
	}
	for _, d := range seedDevices {
		statements = append(statements, fmt.Sprintf(
			`INSERT INTO device (name, version, server, host, exported, pid, class) VALUES ('%s', '5', '%s', 'tango-cs', %t, 0, '%s')`,
			d.name, d.server, d.exported, d.class))
	}
	for _, a := range seedRights {
		statements = append(statements, fmt.Sprintf(
			`INSERT INTO access_device (user_name, address, device, rights) VALUES ('%s', '*', '%s', '%s')`,
			a.user, a.device, a.rights))
	}

	for _, statement := range statements {
		if _, err := db.ExecContext(ctx, statement); err != nil {
			return errors.Wrapf(err, "unable to execute %q", strings.Fields(statement)[0])
		}
	}
	return nil
}

func seedMongo(ctx context.Context, uri string) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	devices := make([]interface{}, 0, len(seedDevices))
	for _, d := range seedDevices {
		devices = append(devices, bson.M{
			"name":     d.name,
			"version":  "5",
			"server":   d.server,
			"host":     "tango-cs",
			"exported": d.exported,
			"class":    d.class,
		})
	}
	if _, err := client.Database(dbName).Collection("devices").InsertMany(ctx, devices); err != nil {
		return err
	}

	rights := make([]interface{}, 0, len(seedRights))
	for _, a := range seedRights {
		rights = append(rights, bson.M{"user": a.user, "address": "*", "device": a.device, "rights": a.rights})
	}
	_, err = client.Database(dbName).Collection("access").InsertMany(ctx, rights)
	return err
}
