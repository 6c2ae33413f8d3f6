package configs

import (
	"time"

	"github.com/pkg/errors"
)

// DefaultConnectTimeout bounds connection establishment to a database backend if nothing else was configured.
const DefaultConnectTimeout = 5 * time.Second

// DatabaseConfig describes how devgate reaches the device database of a tango host.
//
// Host and port are taken from the request, Connection holds everything else the executor needs
// (i.e. credentials or the database name). Metadata tunes the connection pool.
type DatabaseConfig struct {
	Type              string            `yaml:"type"`
	Connection        map[string]string `yaml:"connection"`
	Metadata          map[string]string `yaml:"metadata"`
	ConnectTimeout    time.Duration     `yaml:"connect-timeout"`
	RequireConnection bool              `yaml:"require-connection"`
	// AllowedHosts restricts the tango hosts devgate connects to. Empty allows every host.
	AllowedHosts []string `yaml:"allowed-hosts"`
}

func (c *DatabaseConfig) validate() error {
	switch c.Type {
	case "redis", "postgres", "mysql", "mongo":
	case "":
		return errors.Errorf("Database type must not be empty!")
	default:
		return errors.Errorf("Unknown database type %q! Must be one of [redis, postgres, mysql, mongo]", c.Type)
	}

	if c.ConnectTimeout < 0 {
		return errors.Errorf("Database connect-timeout must not be negative!")
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Connection == nil {
		c.Connection = make(map[string]string)
	}
	return nil
}

// HostAllowed reports whether devgate may connect to the given host.
func (c *DatabaseConfig) HostAllowed(host string) bool {
	if len(c.AllowedHosts) == 0 {
		return true
	}
	for _, allowed := range c.AllowedHosts {
		if allowed == host {
			return true
		}
	}
	return false
}
