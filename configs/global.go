package configs

import "github.com/pkg/errors"

// Global holds the global configuration for the application.
type Global struct {
	// DefaultPort is used for requests which do not carry a port matrix parameter.
	DefaultPort string `yaml:"default-port"`
	// APIVersions lists the version segments served below "{prefix}/rest/".
	APIVersions []string `yaml:"api-versions"`
}

func (g *Global) Validate() error {
	if g.DefaultPort == "" {
		g.DefaultPort = "10000"
	}
	if len(g.APIVersions) == 0 {
		g.APIVersions = []string{"rc4"}
	}

	versionCache := make(map[string]struct{})
	for _, version := range g.APIVersions {
		if version == "" {
			return errors.Errorf("Empty api version in api-versions")
		}
		if _, ok := versionCache[version]; ok {
			return errors.Errorf("Duplicate api version %q in api-versions", version)
		}
		versionCache[version] = struct{}{}
	}
	return nil
}
