package config

import (
	"log/slog"
	"os"
)

// Environment variable names for overrides.
const (
	EnvConfig       = "ATHERA_SYNC_CONFIG"
	EnvRegion       = "ATHERA_REGION"
	EnvGroupID      = "ATHERA_GROUP_ID"
	EnvEndpoint     = "ATHERA_SYNC_URL"
	EnvToken        = "ATHERA_API_TOKEN"
	EnvClientID     = "ATHERA_API_CLIENT_ID"
	EnvClientSecret = "ATHERA_API_CLIENT_SECRET"
	EnvIdentityURL  = "ATHERA_API_IDP_URL"
)

// EnvOverrides holds values read from the environment.
type EnvOverrides struct {
	ConfigPath   string
	Region       string
	GroupID      string
	Endpoint     string
	Token        string
	ClientID     string
	ClientSecret string
	IdentityURL  string
}

// ReadEnvOverrides reads the override variables. Only the names of set
// variables are logged, never their values.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	env := EnvOverrides{
		ConfigPath:   os.Getenv(EnvConfig),
		Region:       os.Getenv(EnvRegion),
		GroupID:      os.Getenv(EnvGroupID),
		Endpoint:     os.Getenv(EnvEndpoint),
		Token:        os.Getenv(EnvToken),
		ClientID:     os.Getenv(EnvClientID),
		ClientSecret: os.Getenv(EnvClientSecret),
		IdentityURL:  os.Getenv(EnvIdentityURL),
	}

	if logger != nil {
		for _, name := range []string{
			EnvConfig, EnvRegion, EnvGroupID, EnvEndpoint,
			EnvToken, EnvClientID, EnvClientSecret, EnvIdentityURL,
		} {
			if os.Getenv(name) != "" {
				logger.Debug("environment override set", slog.String("var", name))
			}
		}
	}

	return env
}
