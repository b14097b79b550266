package config

import (
	"fmt"
	"io"
	"maps"
	"slices"
)

const redacted = "<redacted>"

// RenderEffective writes the resolved configuration to w as TOML-style
// "key = value" lines, secrets redacted. It backs "config show".
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	source := r.Path
	if source == "" {
		source = "defaults only"
	}

	ew.printf("# Effective configuration (%s)\n\n", source)

	ew.printf("region           = %q\n", r.Region)
	ew.printf("group_id         = %q\n", r.GroupID)

	if r.Endpoint != "" {
		ew.printf("endpoint         = %q\n", r.Endpoint)
	}

	ew.printf("insecure         = %t\n", r.Insecure)
	ew.printf("call_timeout     = %q\n", r.CallTimeout.String())
	ew.printf("\n")

	ew.printf("chunk_size       = %d\n", r.ChunkSize)
	ew.printf("parallel_uploads = %d\n", r.ParallelUploads)
	ew.printf("bandwidth_limit  = %d\n", r.BandwidthLimit)
	ew.printf("watch_debounce   = %q\n", r.WatchDebounce.String())
	ew.printf("ledger_path      = %q\n", r.LedgerPath)
	ew.printf("\n")

	ew.printf("identity_url     = %q\n", r.IdentityURL)
	ew.printf("client_id        = %q\n", r.ClientID)
	ew.printf("client_secret    = %q\n", secret(r.ClientSecret))
	ew.printf("token_file       = %q\n", r.TokenFile)

	if r.StaticToken != "" {
		ew.printf("# %s is set and takes precedence over token_file\n", EnvToken)
	}

	ew.printf("\n")

	ew.printf("log_level        = %q\n", r.LogLevel)
	ew.printf("log_format       = %q\n", r.LogFormat)

	if r.LogFile != "" {
		ew.printf("log_file         = %q\n", r.LogFile)
	}

	if r.MetricsTextfile != "" {
		ew.printf("metrics_textfile = %q\n", r.MetricsTextfile)
	}

	ew.printf("\n[regions]\n")

	for _, name := range slices.Sorted(maps.Keys(r.Regions)) {
		ew.printf("%s = %q\n", name, r.Regions[name])
	}

	return ew.err
}

func secret(s string) string {
	if s == "" {
		return ""
	}

	return redacted
}

// errWriter keeps the first write error; later writes are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
