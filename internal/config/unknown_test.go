package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_Suggestion(t *testing.T) {
	path := writeTestConfig(t, "chunck_size = \"1MiB\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "chunck_size"`)
	assert.Contains(t, err.Error(), `did you mean "chunk_size"`)
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, "completely_unrelated_key = true\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownKey_AllReported(t *testing.T) {
	path := writeTestConfig(t, "regoin = \"us-west1\"\ngroup = \"g\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regoin")
	assert.Contains(t, err.Error(), `"group"`)
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"abc", "abc", 0},
		{"abc", "abd", 1},
		{"chunck_size", "chunk_size", 1},
		{"regoin", "region", 2},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, levenshtein(tt.a, tt.b))
		})
	}
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "log_level", closestMatch("log_levl", knownKeysList))
	assert.Equal(t, "token_file", closestMatch("tokenfile", knownKeysList))
	assert.Equal(t, "", closestMatch("completely_unrelated", knownKeysList))
}
