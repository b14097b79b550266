// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for athera-sync. Values pass through a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags.
package config

import "time"

// Config is the top-level structure parsed from the TOML file. All settings
// are flat top-level keys; the embedded structs only group them in Go.
type Config struct {
	ConnectionConfig
	TransfersConfig
	AuthConfig
	LoggingConfig

	// Regions adds to or overrides the built-in region table.
	Regions map[string]string `toml:"regions"`
}

// ConnectionConfig selects the Sirius endpoint and the active group.
type ConnectionConfig struct {
	Region      string `toml:"region"`
	GroupID     string `toml:"group_id"`
	Endpoint    string `toml:"endpoint"`
	Insecure    bool   `toml:"insecure"`
	CallTimeout string `toml:"call_timeout"`
}

// TransfersConfig controls chunking, parallelism and the folder-push loop.
type TransfersConfig struct {
	ChunkSize       string `toml:"chunk_size"`
	ParallelUploads int    `toml:"parallel_uploads"`
	BandwidthLimit  string `toml:"bandwidth_limit"`
	WatchDebounce   string `toml:"watch_debounce"`
	LedgerPath      string `toml:"ledger_path"`
}

// AuthConfig locates the stored token and the identity provider that
// refreshes it.
type AuthConfig struct {
	IdentityURL  string `toml:"identity_url"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	TokenFile    string `toml:"token_file"`
}

// LoggingConfig controls log output and the metrics textfile.
type LoggingConfig struct {
	LogLevel        string `toml:"log_level"`
	LogFormat       string `toml:"log_format"`
	LogFile         string `toml:"log_file"`
	MetricsTextfile string `toml:"metrics_textfile"`
}

// CLIOverrides holds values from CLI flags. Empty strings mean "not given".
type CLIOverrides struct {
	ConfigPath string // --config
	Region     string // --region
	GroupID    string // --group
}

// Resolved is the effective configuration after every override layer has
// been applied, with sizes and durations parsed.
type Resolved struct {
	// Path is the config file that was read, or "" when none existed.
	Path string `json:"path"`

	Region      string            `json:"region"`
	Regions     map[string]string `json:"regions"`
	GroupID     string            `json:"group_id"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Insecure    bool              `json:"insecure"`
	CallTimeout time.Duration     `json:"call_timeout"`

	ChunkSize       int64         `json:"chunk_size"`
	ParallelUploads int           `json:"parallel_uploads"`
	BandwidthLimit  int64         `json:"bandwidth_limit"` // bytes per second, 0 = unlimited
	WatchDebounce   time.Duration `json:"watch_debounce"`
	LedgerPath      string        `json:"ledger_path"`

	IdentityURL  string `json:"identity_url"`
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	TokenFile    string `json:"token_file"`
	// StaticToken comes from ATHERA_API_TOKEN and bypasses the token file.
	StaticToken string `json:"-"`

	LogLevel        string `json:"log_level"`
	LogFormat       string `json:"log_format"`
	LogFile         string `json:"log_file,omitempty"`
	MetricsTextfile string `json:"metrics_textfile,omitempty"`
}

// Redacted returns a copy of r safe to print, with the client secret masked.
func (r *Resolved) Redacted() *Resolved {
	c := *r
	if c.ClientSecret != "" {
		c.ClientSecret = redacted
	}

	c.StaticToken = ""

	return &c
}
