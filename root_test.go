package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/athera-io/athera-sync/internal/config"
	"github.com/athera-io/athera-sync/internal/sirius"
	"github.com/athera-io/athera-sync/internal/sirius/siriustest"
)

const (
	testGroup = "g-1"
	testMount = "m-1"
)

// cliEnv is an isolated environment for running commands against an
// in-process Sirius server.
type cliEnv struct {
	srv        *siriustest.Server
	configPath string
	dataDir    string
}

// newCLIEnv isolates HOME and the XDG directories, clears every override
// variable and points sessions at a fresh fake server. extraConfig is
// appended to a config that selects that server.
func newCLIEnv(t *testing.T, extraConfig string) *cliEnv {
	t.Helper()

	root := t.TempDir()
	t.Setenv("HOME", filepath.Join(root, "home"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(root, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(root, "data"))

	for _, name := range []string{
		config.EnvConfig, config.EnvRegion, config.EnvGroupID, config.EnvEndpoint,
		config.EnvClientID, config.EnvClientSecret, config.EnvIdentityURL,
	} {
		t.Setenv(name, "")
	}

	t.Setenv(config.EnvToken, "tok")

	configPath := filepath.Join(root, "athera.toml")
	body := "endpoint = \"passthrough:///bufnet\"\ninsecure = true\n" + extraConfig
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o600))

	srv := siriustest.NewServer()
	srv.AddMount(testGroup, sirius.Mount{ID: testMount, Name: "projects", MountLocation: "/data/projects"})

	extraDialOptions = []grpc.DialOption{siriustest.Listen(t, srv)}
	t.Cleanup(func() { extraDialOptions = nil })

	return &cliEnv{srv: srv, configPath: configPath, dataDir: filepath.Join(root, "data", "athera-sync")}
}

// run executes one command line and returns its stdout.
func (e *cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	return e.runWithInput(t, nil, args...)
}

func (e *cliEnv) runWithInput(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()

	cc := &CLIContext{}
	cmd := newRootCmd(cc)

	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)

	if stdin != nil {
		cmd.SetIn(stdin)
	}

	cmd.SetArgs(append([]string{"--config", e.configPath, "--quiet"}, args...))

	err := cmd.ExecuteContext(context.Background())
	require.NoError(t, cc.Close())

	return out.String(), err
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	cmd := newRootCmd(&CLIContext{})

	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}

	for _, want := range []string{"login", "logout", "token", "regions", "mounts", "ls", "get", "put", "push", "uploads", "config"} {
		assert.Contains(t, names, want)
	}
}

func TestLoadConfig_InvalidConfigFails(t *testing.T) {
	e := newCLIEnv(t, "chunk_sise = \"5\"\n")

	_, err := e.run(t, "regions")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading config")
	assert.Contains(t, err.Error(), "chunk_size")
}

func TestLoadConfig_FlagsOverride(t *testing.T) {
	e := newCLIEnv(t, "group_id = \"from-file\"\n")

	cc := &CLIContext{}
	cmd := newRootCmd(cc)
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"--config", e.configPath, "-q", "--group", "from-flag", "--region", "europe-west1", "regions"})

	require.NoError(t, cmd.Execute())
	require.NoError(t, cc.Close())

	assert.Equal(t, "from-flag", cc.Cfg.GroupID)
	assert.Equal(t, "europe-west1", cc.Cfg.Region)
	assert.Empty(t, cc.Cfg.Endpoint, "--region drops the configured endpoint")
	assert.Equal(t, "tok", cc.Cfg.StaticToken)
}

func TestLoadConfig_LogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "athera-sync.log")
	e := newCLIEnv(t, "log_file = \""+logPath+"\"\nlog_format = \"json\"\nlog_level = \"debug\"\n")

	cc := &CLIContext{}
	cmd := newRootCmd(cc)
	cmd.SetOut(io.Discard)
	cmd.SetArgs([]string{"--config", e.configPath, "regions"})

	require.NoError(t, cmd.Execute())
	cc.Logger.Debug("probe", slog.String("k", "v"))
	require.NoError(t, cc.Close())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"probe"`)
}

func TestBuildLogger_Levels(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		level     string
		flags     CLIFlags
		enabled   slog.Level
		disabled  slog.Level
		checkBoth bool
	}{
		{name: "default info", level: "", enabled: slog.LevelInfo, disabled: slog.LevelDebug, checkBoth: true},
		{name: "config warn", level: "warn", enabled: slog.LevelWarn, disabled: slog.LevelInfo, checkBoth: true},
		{name: "config error", level: "error", enabled: slog.LevelError, disabled: slog.LevelWarn, checkBoth: true},
		{name: "verbose wins", level: "error", flags: CLIFlags{Verbose: true}, enabled: slog.LevelDebug},
		{name: "quiet wins", level: "debug", flags: CLIFlags{Quiet: true}, enabled: slog.LevelError, disabled: slog.LevelWarn, checkBoth: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := buildLogger(io.Discard, tt.level, "text", tt.flags).Handler()

			assert.True(t, h.Enabled(ctx, tt.enabled))

			if tt.checkBoth {
				assert.False(t, h.Enabled(ctx, tt.disabled))
			}
		})
	}
}

func TestBuildLogger_AutoFormatIsJSONWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer

	buildLogger(&buf, "info", "auto", CLIFlags{}).Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "{"), buf.String())

	buf.Reset()
	buildLogger(&buf, "info", "text", CLIFlags{}).Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestMustCLIContext_PanicsWhenMissing(t *testing.T) {
	assert.Panics(t, func() { mustCLIContext(context.Background()) })

	cc := &CLIContext{}
	assert.Same(t, cc, mustCLIContext(withCLIContext(context.Background(), cc)))
}
