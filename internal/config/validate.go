package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/athera-io/athera-sync/internal/sirius"
)

// Validation range constants.
const (
	minParallelUploads = 1
	maxParallelUploads = 64
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

// Validate checks every value in cfg and returns all errors found, so a
// broken file can be fixed in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateConnection(&cfg.ConnectionConfig)...)
	errs = append(errs, validateTransfers(&cfg.TransfersConfig)...)
	errs = append(errs, validateAuth(&cfg.AuthConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)

	for name, addr := range cfg.Regions {
		if strings.TrimSpace(addr) == "" {
			errs = append(errs, fmt.Errorf("regions.%s: address must not be empty", name))
		}
	}

	return errors.Join(errs...)
}

func validateConnection(c *ConnectionConfig) []error {
	var errs []error

	if c.Region == "" && c.Endpoint == "" {
		errs = append(errs, errors.New("region: must be set when endpoint is empty"))
	}

	if _, err := parseDuration("call_timeout", c.CallTimeout); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	errs = append(errs, validateChunkSize(t.ChunkSize)...)

	if t.ParallelUploads < minParallelUploads || t.ParallelUploads > maxParallelUploads {
		errs = append(errs, fmt.Errorf("parallel_uploads: must be between %d and %d, got %d",
			minParallelUploads, maxParallelUploads, t.ParallelUploads))
	}

	if _, err := ParseSize(t.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("bandwidth_limit: %w", err))
	}

	if _, err := parseDuration("watch_debounce", t.WatchDebounce); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validateChunkSize(s string) []error {
	n, err := ParseSize(s)
	if err != nil {
		return []error{fmt.Errorf("chunk_size: %w", err)}
	}

	if n <= 0 || n > sirius.MaxChunkSize {
		return []error{fmt.Errorf("chunk_size: must be between 1 byte and 1MiB, got %q", s)}
	}

	return nil
}

func validateAuth(a *AuthConfig) []error {
	if a.IdentityURL == "" {
		return nil
	}

	u, err := url.Parse(a.IdentityURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return []error{fmt.Errorf("identity_url: must be an absolute URL, got %q", a.IdentityURL)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !slices.Contains(validLogLevels, l.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level: must be one of %s; got %q",
			strings.Join(validLogLevels, ", "), l.LogLevel))
	}

	if !slices.Contains(validLogFormats, l.LogFormat) {
		errs = append(errs, fmt.Errorf("log_format: must be one of %s; got %q",
			strings.Join(validLogFormats, ", "), l.LogFormat))
	}

	return errs
}

// parseDuration accepts Go duration strings; "" and "0" mean zero.
func parseDuration(key, s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("%s: must not be negative, got %s", key, s)
	}

	return d, nil
}
