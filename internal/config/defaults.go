package config

import (
	"github.com/athera-io/athera-sync/internal/credential"
	"github.com/athera-io/athera-sync/internal/sirius"
)

// Default values: layer 0 of the override chain.
const (
	defaultChunkSize       = "1MiB"
	defaultCallTimeout     = "0"
	defaultParallelUploads = 4
	defaultBandwidthLimit  = "0"
	defaultWatchDebounce   = "2s"
	defaultLogLevel        = "info"
	defaultLogFormat       = "auto"
)

// DefaultConfig returns a Config populated with all default values. It is the
// starting point for TOML decoding, so unset keys keep their defaults.
// Path-valued keys stay empty and are filled from the platform data
// directory during Resolve.
func DefaultConfig() *Config {
	return &Config{
		ConnectionConfig: ConnectionConfig{
			Region:      sirius.DefaultRegion,
			CallTimeout: defaultCallTimeout,
		},
		TransfersConfig: TransfersConfig{
			ChunkSize:       defaultChunkSize,
			ParallelUploads: defaultParallelUploads,
			BandwidthLimit:  defaultBandwidthLimit,
			WatchDebounce:   defaultWatchDebounce,
		},
		AuthConfig: AuthConfig{
			IdentityURL: credential.DefaultIdentityURL,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Regions: make(map[string]string),
	}
}
