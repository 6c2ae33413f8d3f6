package data

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/unbasical/devgate/configs"
	"github.com/unbasical/devgate/pkg/constants"
	"github.com/unbasical/devgate/pkg/data"
	deverrors "github.com/unbasical/devgate/pkg/errors"

	// import postgres driver
	_ "github.com/lib/pq"
)

// sqlStore reads the tables "device" and "access_device" of a PostgreSQL or MySQL device database.
type sqlStore struct {
	platform string
	dbPool   *sql.DB
	addr     string
}

// NewSQLCommandExecutor creates a data.CommandExecutor for device databases kept in PostgreSQL or MySQL.
func NewSQLCommandExecutor(platform string) data.CommandExecutor {
	return newStoreCommandExecutor(&sqlStore{platform: platform})
}

func (s *sqlStore) backend() string {
	return s.platform
}

func (s *sqlStore) connect(ctx context.Context, conf *configs.DatabaseConfig, host, port string) error {
	driver, dsn, err := connectionStringForPlatform(s.platform, host, port, conf.Connection)
	if err != nil {
		return err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return errors.Wrap(err, "sqlStore: Error while connecting to database")
	}
	if err := applyMetadataConfigs(conf, db); err != nil {
		_ = db.Close()
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return errors.Wrapf(err, "sqlStore: unable to reach %s", net.JoinHostPort(host, port))
	}

	s.dbPool = db
	s.addr = net.JoinHostPort(host, port)
	return nil
}

func connectionStringForPlatform(platform, host, port string, conn map[string]string) (driver, dsn string, err error) {
	switch platform {
	case constants.DatabaseTypePostgres:
		sslMode := conn["sslmode"]
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			host, port, conn["user"], conn["password"], conn["database"], sslMode)
		return "postgres", dsn, nil
	case constants.DatabaseTypeMySQL:
		mysqlConf := mysql.NewConfig()
		mysqlConf.Net = "tcp"
		mysqlConf.Addr = net.JoinHostPort(host, port)
		mysqlConf.User = conn["user"]
		mysqlConf.Passwd = conn["password"]
		mysqlConf.DBName = conn["database"]
		return "mysql", mysqlConf.FormatDSN(), nil
	default:
		return "", "", errors.Errorf("sqlStore: unsupported platform %q", platform)
	}
}

func applyMetadataConfigs(conf *configs.DatabaseConfig, db *sql.DB) error {
	if conf.Metadata == nil {
		return nil
	}
	if maxOpenValue, ok := conf.Metadata[constants.MetaMaxOpenConnections]; ok {
		maxOpen, err := strconv.Atoi(maxOpenValue)
		if err != nil {
			return errors.Wrap(err, "sqlStore: Error while setting maxOpenConnections")
		}
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdleValue, ok := conf.Metadata[constants.MetaMaxIdleConnections]; ok {
		maxIdle, err := strconv.Atoi(maxIdleValue)
		if err != nil {
			return errors.Wrap(err, "sqlStore: Error while setting maxIdleConnections")
		}
		db.SetMaxIdleConns(maxIdle)
	}
	if maxLifetimeSecondsValue, ok := conf.Metadata[constants.MetaConnectionMaxLifetimeSeconds]; ok {
		maxLifetimeSeconds, err := strconv.Atoi(maxLifetimeSecondsValue)
		if err != nil {
			return errors.Wrap(err, "sqlStore: Error while setting connectionMaxLifetimeSeconds")
		}
		db.SetConnMaxLifetime(time.Second * time.Duration(maxLifetimeSeconds))
	}
	return nil
}

// bind rewrites "?" placeholders to the positional placeholders of postgres.
func (s *sqlStore) bind(query string) string {
	if s.platform != constants.DatabaseTypePostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) deviceNames(ctx context.Context, wildcard string) ([]string, error) {
	rows, err := s.dbPool.QueryContext(ctx, s.bind(`SELECT name FROM device WHERE LOWER(name) LIKE LOWER(?)`), wildcardToLike(wildcard))
	if err != nil {
		return nil, errors.Wrap(err, "sqlStore: Error while executing statement")
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "sqlStore: Unable to read result")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *sqlStore) deviceInfo(ctx context.Context, name string) (*data.DeviceInfo, error) {
	row := s.dbPool.QueryRowContext(ctx, s.bind(`SELECT name, ior, version, server, host, exported, pid, class, started, stopped
		FROM device WHERE LOWER(name) = LOWER(?)`), name)

	var (
		info                                          data.DeviceInfo
		ior, version, server, host, class, start, end sql.NullString
		exported                                      sql.NullBool
		pid                                           sql.NullInt64
	)
	err := row.Scan(&info.Name, &ior, &version, &server, &host, &exported, &pid, &class, &start, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, deverrors.DeviceNotFoundError{Device: name}
	}
	if err != nil {
		return nil, errors.Wrap(err, "sqlStore: Unable to read result")
	}

	info.IOR = ior.String
	info.Version = version.String
	info.Server = server.String
	info.Host = host.String
	info.Exported = exported.Bool
	info.PID = int(pid.Int64)
	info.ClassName = class.String
	info.StartedAt = start.String
	info.StoppedAt = end.String
	return &info, nil
}

func (s *sqlStore) access(ctx context.Context, user, address, device string) (string, error) {
	// most specific rule first: explicit user before "*", explicit device before "*"
	rows, err := s.dbPool.QueryContext(ctx, s.bind(`SELECT rights FROM access_device
		WHERE (user_name = ? OR user_name = '*') AND (address = ? OR address = '*') AND (LOWER(device) = LOWER(?) OR device = '*')
		ORDER BY CASE WHEN user_name = '*' THEN 1 ELSE 0 END, CASE WHEN device = '*' THEN 1 ELSE 0 END`), user, address, device)
	if err != nil {
		return "", errors.Wrap(err, "sqlStore: Error while executing statement")
	}
	defer rows.Close()

	if rows.Next() {
		var rights string
		if err := rows.Scan(&rights); err != nil {
			return "", errors.Wrap(err, "sqlStore: Unable to read result")
		}
		return rights, nil
	}
	return "", rows.Err()
}

func (s *sqlStore) serverInfo(ctx context.Context) ([]string, error) {
	var defined, exported int
	row := s.dbPool.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(CASE WHEN exported THEN 1 ELSE 0 END), 0) FROM device`)
	if err := row.Scan(&defined, &exported); err != nil {
		return nil, errors.Wrap(err, "sqlStore: Unable to read result")
	}
	return []string{
		"TANGO Database served by " + s.platform + " at " + s.addr,
		"Devices defined = " + strconv.Itoa(defined),
		"Devices exported = " + strconv.Itoa(exported),
	}, nil
}

func (s *sqlStore) close() error {
	if s.dbPool == nil {
		return nil
	}
	return s.dbPool.Close()
}
