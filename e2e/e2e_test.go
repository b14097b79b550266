//go:build e2e

// Package e2e drives the built athera-sync binary against a live Sirius
// endpoint. It runs only with the e2e build tag and skips unless
// ATHERA_SYNC_URL, ATHERA_API_TEST_TOKEN, ATHERA_TEST_GROUP and
// ATHERA_TEST_MOUNT are set (directly or through a .env at the module root).
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athera-io/athera-sync/testutil"
)

var (
	binaryPath string
	mountID    string
	skipReason string
)

func TestMain(m *testing.M) {
	root := testutil.FindModuleRoot("..")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))

	if missing := testutil.MissingEnv(
		"ATHERA_SYNC_URL", "ATHERA_API_TEST_TOKEN", "ATHERA_TEST_GROUP", "ATHERA_TEST_MOUNT",
	); len(missing) > 0 {
		skipReason = "missing " + strings.Join(missing, ", ")
		os.Exit(m.Run())
	}

	tmpDir, err := os.MkdirTemp("", "athera-sync-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "athera-sync")

	build := exec.Command("go", "build", "-o", binaryPath, ".")
	build.Dir = root
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr

	if err := build.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	// Isolate config, token and ledger from the developer's own.
	os.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "config"))
	os.Setenv("XDG_DATA_HOME", filepath.Join(tmpDir, "data"))
	os.Setenv("ATHERA_API_TOKEN", os.Getenv("ATHERA_API_TEST_TOKEN"))
	os.Setenv("ATHERA_GROUP_ID", os.Getenv("ATHERA_TEST_GROUP"))
	os.Unsetenv("ATHERA_SYNC_CONFIG")

	mountID = os.Getenv("ATHERA_TEST_MOUNT")

	code := m.Run()

	os.RemoveAll(tmpDir)
	os.Exit(code)
}

func requireLive(t *testing.T) {
	t.Helper()

	if skipReason != "" {
		t.Skip(skipReason)
	}
}

func runCLI(t *testing.T, args ...string) (string, string) {
	t.Helper()

	stdout, stderr, err := runCLIErr(t, args...)
	require.NoError(t, err, "athera-sync %s\nstderr: %s", strings.Join(args, " "), stderr)

	return stdout, stderr
}

func runCLIErr(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

// remoteDir returns a unique scratch directory name on the test mount.
func remoteDir(t *testing.T) string {
	return fmt.Sprintf("athera-sync-e2e/%s-%d", t.Name(), time.Now().UnixNano())
}

func TestE2E_Mounts(t *testing.T) {
	requireLive(t)

	stdout, _ := runCLI(t, "mounts", "--json")

	var mounts []struct {
		ID string `json:"id"`
	}

	require.NoError(t, json.Unmarshal([]byte(stdout), &mounts))

	ids := make([]string, 0, len(mounts))
	for _, m := range mounts {
		ids = append(ids, m.ID)
	}

	assert.Contains(t, ids, mountID)
}

func TestE2E_PutGetChunked(t *testing.T) {
	requireLive(t)

	content := "The quick brown fox jum"
	local := filepath.Join(t.TempDir(), "fox.txt")
	require.NoError(t, os.WriteFile(local, []byte(content), 0o644))

	remote := remoteDir(t) + "/fox.txt"
	runCLI(t, "put", mountID, local, remote, "--chunk-size", "5")

	out := filepath.Join(t.TempDir(), "back.txt")
	runCLI(t, "get", mountID, remote, out, "--chunk-size", "5")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))

	_, err = os.Stat(out + ".partial")
	assert.True(t, os.IsNotExist(err))

	stdout, _ := runCLI(t, "ls", mountID, strings.TrimSuffix(remote, "/fox.txt"), "--json")
	assert.Contains(t, stdout, `"name":"fox.txt"`)
}

func TestE2E_GetMissingLeavesPartial(t *testing.T) {
	requireLive(t)

	out := filepath.Join(t.TempDir(), "missing.bin")
	_, stderr, err := runCLIErr(t, "get", mountID, remoteDir(t)+"/does-not-exist", out)
	require.Error(t, err)

	assert.Contains(t, stderr, "Error:")
	assert.Contains(t, stderr, "Partial download left at")
}

func TestE2E_PushSkipsUnchanged(t *testing.T) {
	requireLive(t)

	dir := t.TempDir()
	for i := range 3 {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("f%d.txt", i)), []byte("frame"), 0o644))
	}

	prefix := remoteDir(t)

	stdout, _ := runCLI(t, "push", mountID, dir, prefix, "--json")
	assert.Contains(t, stdout, `"uploaded": 3`)

	stdout, _ = runCLI(t, "push", mountID, dir, prefix, "--json")
	assert.Contains(t, stdout, `"skipped": 3`)

	stdout, _ = runCLI(t, "uploads", mountID, "--json")
	assert.Contains(t, stdout, prefix+"/f0.txt")
}
