package configs_test

import (
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/unbasical/devgate/configs"
)

//nolint:gochecknoglobals,gocritic
var wantConfig = &configs.ExternalConfig{
	Global: configs.Global{
		DefaultPort: "10000",
		APIVersions: []string{"rc4", "v10"},
	},
	Database: &configs.DatabaseConfig{
		Type:              "redis",
		ConnectTimeout:    2 * time.Second,
		RequireConnection: true,
		Connection: map[string]string{
			"password": "redis-secret",
		},
		Metadata: map[string]string{
			"maxIdleConnections": "5",
		},
	},
	AccessControl: &configs.AccessControlConfig{
		Policy:          "opa",
		ForbiddenOnDeny: true,
		OPA:             &configs.OPAPolicy{Package: "tango.access"},
	},
	Authentication: &configs.AuthenticationConfig{
		TrustForwardedFor: true,
		Basic: &configs.BasicAuthentication{
			Realm: "tango",
			Users: map[string]string{
				"tango-cs": "$2a$10$abcdefghijklmnopqrstuu",
			},
		},
		Jwt: &configs.JwtAuthentication{
			Secret:         "top-secret",
			TargetAudience: []string{"devgate"},
			UserClaim:      "preferred_username",
			JwksTTL:        5 * time.Minute,
			JwksMaxWait:    5 * time.Second,
			JwksUrls:       []url.URL{},
		},
	},
}

func TestLoadConfigFromFile(t *testing.T) {
	t.Setenv("DEVGATE_TEST_REDIS_PASSWORD", "redis-secret")

	result, err := configs.FileConfigLoader{FilePath: "./testdata/devgate.yml"}.Load()
	if err != nil {
		t.Fatalf("Unexpected error while parsing config: %s", err)
	}

	if !cmp.Equal(wantConfig, result) {
		t.Errorf("Config is not as expected! Diff: %s", cmp.Diff(wantConfig, result))
	}
}

func TestLoadMinimalConfigAppliesDefaults(t *testing.T) {
	result, err := configs.FileConfigLoader{FilePath: "./testdata/devgate_minimal.yml"}.Load()
	assert.NoError(t, err)

	assert.Equal(t, "10000", result.Global.DefaultPort)
	assert.Equal(t, []string{"rc4"}, result.Global.APIVersions)
	assert.Equal(t, configs.DefaultConnectTimeout, result.Database.ConnectTimeout)
	assert.False(t, result.Database.RequireConnection)
	assert.NotNil(t, result.Database.Connection)
	assert.NotNil(t, result.Authentication)
	assert.Nil(t, result.Authentication.Basic)
	assert.Nil(t, result.Authentication.Jwt)
}

func TestLoadCommandPolicyInheritsDatabase(t *testing.T) {
	result, err := configs.FileConfigLoader{FilePath: "./testdata/devgate_command_policy.yml"}.Load()
	assert.NoError(t, err)

	assert.Equal(t, "access.example.org", result.AccessControl.Command.Host)
	assert.Equal(t, "10000", result.AccessControl.Command.Port)
	assert.Same(t, result.Database, result.AccessControl.Command.Database)
}

func TestLoadNotExistingFile(t *testing.T) {
	_, err := configs.FileConfigLoader{FilePath: "./devgate-not-existing.yml"}.Load()
	assert.EqualError(t, err, "open ./devgate-not-existing.yml: no such file or directory")
}

func TestLoadEmptyPath(t *testing.T) {
	_, err := configs.FileConfigLoader{}.Load()
	assert.EqualError(t, err, "FilePath must not be empty!")
}

func TestLoadUnknownDatabaseType(t *testing.T) {
	_, err := configs.FileConfigLoader{FilePath: "./testdata/devgate_unknown_database.yml"}.Load()
	assert.EqualError(t, err, "Loaded invalid config: Unknown database type \"cassandra\"! Must be one of [redis, postgres, mysql, mongo]")
}

func TestLoadUnknownPolicy(t *testing.T) {
	_, err := configs.FileConfigLoader{FilePath: "./testdata/devgate_unknown_policy.yml"}.Load()
	assert.EqualError(t, err, "Loaded invalid config: Unknown access control policy \"deny-everything\"! Must be one of [opa, command, allow-all]")
}

func TestLoadJwtWithoutKeys(t *testing.T) {
	_, err := configs.FileConfigLoader{FilePath: "./testdata/devgate_jwt_without_keys.yml"}.Load()
	assert.EqualError(t, err, "Loaded invalid config: Jwt authentication requires either a secret or at least one jwks url!")
}

func TestLoadMissingSections(t *testing.T) {
	_, err := configs.ByteConfigLoader{ConfigBytes: []byte("global:\n  default-port: \"20000\"\n")}.Load()
	assert.EqualError(t, err, "Loaded invalid config: No database configured!")

	_, err = configs.ByteConfigLoader{ConfigBytes: []byte("database:\n  type: redis\n")}.Load()
	assert.EqualError(t, err, "Loaded invalid config: No access control configured!")
}

func TestHostAllowed(t *testing.T) {
	open := configs.DatabaseConfig{}
	assert.True(t, open.HostAllowed("any.host"))

	restricted := configs.DatabaseConfig{AllowedHosts: []string{"tango.example.org"}}
	assert.True(t, restricted.HostAllowed("tango.example.org"))
	assert.False(t, restricted.HostAllowed("other.example.org"))
}
