package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadEnvOverrides_AllSet(t *testing.T) {
	t.Setenv(EnvConfig, "/custom/config.toml")
	t.Setenv(EnvRegion, "europe-west1")
	t.Setenv(EnvGroupID, "g-1")
	t.Setenv(EnvEndpoint, "localhost:9001")
	t.Setenv(EnvToken, "tok")
	t.Setenv(EnvClientID, "cli")
	t.Setenv(EnvClientSecret, "shh")
	t.Setenv(EnvIdentityURL, "https://id.example.com/")

	env := ReadEnvOverrides(testLogger(t))
	assert.Equal(t, EnvOverrides{
		ConfigPath:   "/custom/config.toml",
		Region:       "europe-west1",
		GroupID:      "g-1",
		Endpoint:     "localhost:9001",
		Token:        "tok",
		ClientID:     "cli",
		ClientSecret: "shh",
		IdentityURL:  "https://id.example.com/",
	}, env)
}

func TestReadEnvOverrides_NoneSet(t *testing.T) {
	for _, name := range []string{EnvConfig, EnvRegion, EnvGroupID, EnvEndpoint, EnvToken, EnvClientID, EnvClientSecret, EnvIdentityURL} {
		t.Setenv(name, "")
	}

	assert.Equal(t, EnvOverrides{}, ReadEnvOverrides(nil))
}

func TestEnvVarNames(t *testing.T) {
	assert.Equal(t, "ATHERA_SYNC_CONFIG", EnvConfig)
	assert.Equal(t, "ATHERA_API_TOKEN", EnvToken)
	assert.Equal(t, "ATHERA_API_IDP_URL", EnvIdentityURL)
}
