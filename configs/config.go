// Central package for app-global config.
package configs

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ExternalConfig is loaded from the configuration yaml.
type ExternalConfig struct {
	Global         Global                `yaml:"global"`
	Database       *DatabaseConfig       `yaml:"database"`
	AccessControl  *AccessControlConfig  `yaml:"access-control"`
	Authentication *AuthenticationConfig `yaml:"authentication"`
}

// ConfigLoader is the interface that the functionality of loading devgate's external configuration.
//
// Load loads all external configuration files from a predefined source.
// It returns the loaded configuration and any error encountered that caused the Loader to stop early.
type ConfigLoader interface {
	Load() (*ExternalConfig, error)
}

// ByteConfigLoader implements configs.ConfigLoader by loading config from a byte slice.
type ByteConfigLoader struct {
	ConfigBytes []byte
}

// Implementing Load from configs.ConfigLoader by using the properties of the ByteConfigLoader.
func (l ByteConfigLoader) Load() (*ExternalConfig, error) {
	if l.ConfigBytes == nil {
		return nil, errors.Errorf("ConfigBytes must not be nil!")
	}

	result := new(ExternalConfig)

	expanded := []byte(expandEnv(string(l.ConfigBytes)))
	if err := yaml.Unmarshal(expanded, result); err != nil {
		return nil, errors.Wrap(err, "Unable to parse config")
	}

	if err := result.validate(); err != nil {
		return nil, errors.Wrap(err, "Loaded invalid config")
	}
	return result, nil
}

// FileConfigLoader implements configs.ConfigLoader by loading config from a file located at given path.
type FileConfigLoader struct {
	FilePath string
}

// Implementing Load from configs.ConfigLoader by using the properties of the FileConfigLoader.
func (l FileConfigLoader) Load() (*ExternalConfig, error) {
	if l.FilePath == "" {
		return nil, errors.Errorf("FilePath must not be empty!")
	}

	configBytes, ioError := os.ReadFile(l.FilePath)
	if ioError != nil {
		return nil, ioError
	}
	return ByteConfigLoader{ConfigBytes: configBytes}.Load()
}

func (c *ExternalConfig) validate() error {
	if err := c.Global.Validate(); err != nil {
		return err
	}

	if c.Database == nil {
		return errors.Errorf("No database configured!")
	}
	if err := c.Database.validate(); err != nil {
		return err
	}

	if c.AccessControl == nil {
		return errors.Errorf("No access control configured!")
	}
	if err := c.AccessControl.validate(c.Database); err != nil {
		return err
	}

	if c.Authentication == nil {
		c.Authentication = &AuthenticationConfig{}
	}
	return c.Authentication.validate()
}

// expandEnv replaces ${var} or $var with the environment's value. "$$" yields a literal "$" (i.e. inside bcrypt hashes).
func expandEnv(s string) string {
	return os.Expand(s, func(name string) string {
		if name == "$" {
			return "$"
		}
		return os.Getenv(name)
	})
}
