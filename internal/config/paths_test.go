package config

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultPaths_ContainAppName(t *testing.T) {
	for _, p := range []string{DefaultConfigDir(), DefaultDataDir(), DefaultTokenPath(), DefaultLedgerPath(), DefaultPIDPath()} {
		assert.Contains(t, p, appName)
	}

	assert.True(t, strings.HasSuffix(DefaultConfigPath(), "config.toml"))
	assert.True(t, strings.HasSuffix(DefaultTokenPath(), "token.json"))
	assert.True(t, strings.HasSuffix(DefaultLedgerPath(), "uploads.db"))
}

func TestDefaultDirs_XDG(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("XDG variables apply on Linux only")
	}

	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	t.Setenv("XDG_DATA_HOME", "/custom/data")

	assert.Equal(t, filepath.Join("/custom/config", appName), DefaultConfigDir())
	assert.Equal(t, filepath.Join("/custom/data", appName, "token.json"), DefaultTokenPath())
}

func TestDefaultDirs_XDGFallback(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("XDG variables apply on Linux only")
	}

	t.Setenv("HOME", "/home/testuser")
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")

	assert.Equal(t, "/home/testuser/.config/athera-sync", DefaultConfigDir())
	assert.Equal(t, "/home/testuser/.local/share/athera-sync", DefaultDataDir())
}

func TestDefaultDirs_MacOS(t *testing.T) {
	if runtime.GOOS != platformDarwin {
		t.Skip("macOS-only test")
	}

	assert.Contains(t, DefaultConfigDir(), "Library/Application Support")
	assert.Equal(t, DefaultConfigDir(), DefaultDataDir())
}
