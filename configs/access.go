package configs

import "github.com/pkg/errors"

// AccessControlConfig selects and configures the policy answering read/write access questions.
type AccessControlConfig struct {
	Policy string `yaml:"policy"`
	// ForbiddenOnDeny answers denied requests with 403 instead of 405.
	ForbiddenOnDeny bool           `yaml:"forbidden-on-deny"`
	OPA             *OPAPolicy     `yaml:"opa"`
	Command         *CommandPolicy `yaml:"command"`
}

// OPAPolicy configures the rego package which holds the rules "can_read" and "can_write".
type OPAPolicy struct {
	Package string `yaml:"package"`
}

// CommandPolicy configures the database which answers "GetAccess" commands.
type CommandPolicy struct {
	Host     string          `yaml:"host"`
	Port     string          `yaml:"port"`
	Database *DatabaseConfig `yaml:"database"`
}

func (c *AccessControlConfig) validate(db *DatabaseConfig) error {
	switch c.Policy {
	case "opa":
		if c.OPA == nil {
			c.OPA = &OPAPolicy{}
		}
		if c.OPA.Package == "" {
			c.OPA.Package = "devgate.access"
		}
	case "command":
		if c.Command == nil || c.Command.Host == "" {
			return errors.Errorf("Access control policy %q requires a host!", c.Policy)
		}
		if c.Command.Port == "" {
			c.Command.Port = "10000"
		}
		if c.Command.Database == nil {
			c.Command.Database = db
		}
		if err := c.Command.Database.validate(); err != nil {
			return errors.Wrap(err, "Invalid access control database")
		}
	case "allow-all":
	case "":
		return errors.Errorf("Access control policy must not be empty!")
	default:
		return errors.Errorf("Unknown access control policy %q! Must be one of [opa, command, allow-all]", c.Policy)
	}
	return nil
}
