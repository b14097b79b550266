package config

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/athera-io/athera-sync/internal/sirius"
)

// Load reads and parses a TOML config file and validates it. Unknown keys
// are fatal, with "did you mean?" suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

// LoadOrDefault reads path if it exists, otherwise returns the defaults. The
// boolean reports whether a file was read.
func LoadOrDefault(path string) (*Config, bool, error) {
	if path == "" {
		return DefaultConfig(), false, nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), false, nil
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, false, err
	}

	return cfg, true, nil
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Resolved, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, found, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if found {
		logger.Debug("loaded config file", slog.String("path", cfgPath))
	} else {
		logger.Debug("no config file, using defaults", slog.String("path", cfgPath))
		cfgPath = ""
	}

	applyEnv(cfg, env)
	applyCLI(cfg, cli)

	r, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	r.Path = cfgPath
	r.StaticToken = env.Token

	return r, nil
}

func applyEnv(cfg *Config, env EnvOverrides) {
	setIf(&cfg.Region, env.Region)
	setIf(&cfg.GroupID, env.GroupID)
	setIf(&cfg.Endpoint, env.Endpoint)
	setIf(&cfg.ClientID, env.ClientID)
	setIf(&cfg.ClientSecret, env.ClientSecret)
	setIf(&cfg.IdentityURL, env.IdentityURL)
}

func applyCLI(cfg *Config, cli CLIOverrides) {
	setIf(&cfg.Region, cli.Region)
	setIf(&cfg.GroupID, cli.GroupID)

	// An explicit region selects the region table over an inherited endpoint.
	if cli.Region != "" {
		cfg.Endpoint = ""
	}
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// resolve validates the merged values and parses them into a Resolved.
func resolve(cfg *Config) (*Resolved, error) {
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	regions := sirius.DefaultRegions()
	maps.Copy(regions, cfg.Regions)

	if cfg.Endpoint == "" {
		if _, err := sirius.ResolveRegion(regions, cfg.Region); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	// Validate already parsed these; errors are impossible here.
	chunkSize, _ := ParseSize(cfg.ChunkSize)
	bandwidth, _ := ParseSize(cfg.BandwidthLimit)
	callTimeout, _ := parseDuration("call_timeout", cfg.CallTimeout)
	debounce, _ := parseDuration("watch_debounce", cfg.WatchDebounce)

	r := &Resolved{
		Region:          cfg.Region,
		Regions:         regions,
		GroupID:         cfg.GroupID,
		Endpoint:        cfg.Endpoint,
		Insecure:        cfg.Insecure,
		CallTimeout:     callTimeout,
		ChunkSize:       chunkSize,
		ParallelUploads: cfg.ParallelUploads,
		BandwidthLimit:  bandwidth,
		WatchDebounce:   debounce,
		LedgerPath:      cfg.LedgerPath,
		IdentityURL:     cfg.IdentityURL,
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
		TokenFile:       cfg.TokenFile,
		LogLevel:        cfg.LogLevel,
		LogFormat:       cfg.LogFormat,
		LogFile:         cfg.LogFile,
		MetricsTextfile: cfg.MetricsTextfile,
	}

	if r.TokenFile == "" {
		r.TokenFile = DefaultTokenPath()
	}

	if r.LedgerPath == "" {
		r.LedgerPath = DefaultLedgerPath()
	}

	return r, nil
}
