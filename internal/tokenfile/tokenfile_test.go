package tokenfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestLoad_FileNotFound(t *testing.T) {
	tf, err := Load("/nonexistent/path/token.json")
	assert.Nil(t, tf)
	assert.NoError(t, err)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	expiry := time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)
	original := &File{
		Token: &oauth2.Token{
			AccessToken:  "access-123",
			RefreshToken: "refresh-456",
			TokenType:    "Bearer",
			Expiry:       expiry,
		},
		IdentityURL: "https://id.athera.io/",
		ClientID:    "cli",
	}

	require.NoError(t, Save(path, original))

	tf, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, tf)
	assert.Equal(t, "access-123", tf.Token.AccessToken)
	assert.Equal(t, "refresh-456", tf.Token.RefreshToken)
	assert.True(t, tf.Token.Expiry.Equal(expiry))
	assert.Equal(t, "https://id.athera.io/", tf.IdentityURL)
	assert.Equal(t, "cli", tf.ClientID)
}

func TestSave_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "token.json")

	require.NoError(t, Save(path, &File{Token: &oauth2.Token{AccessToken: "a"}}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())

	dirInfo, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(DirPerms), dirInfo.Mode().Perm())
}

func TestSave_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token.json")

	require.NoError(t, Save(path, &File{Token: &oauth2.Token{AccessToken: "a"}}))
	require.NoError(t, Save(path, &File{Token: &oauth2.Token{AccessToken: "b"}}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "token.json", entries[0].Name())

	tf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "b", tf.Token.AccessToken)
}

func TestSave_RejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	assert.Error(t, Save(path, nil))
	assert.Error(t, Save(path, &File{}))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoad_MissingToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"identity_url":"https://id.athera.io/"}`), 0o600))

	tf, err := Load(path)
	assert.Nil(t, tf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no token")
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json}`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		access  string
		refresh string
		wantErr bool
	}{
		{name: "bare token", input: "  eyJhbGciOi.abc.def\n", access: "eyJhbGciOi.abc.def"},
		{name: "token response", input: `{"access_token":"a1","refresh_token":"r1","token_type":"Bearer"}`, access: "a1", refresh: "r1"},
		{name: "saved file", input: `{"token":{"access_token":"a2","refresh_token":"r2"}}`, access: "a2", refresh: "r2"},
		{name: "empty", input: "  \n", wantErr: true},
		{name: "two words", input: "Bearer abc", wantErr: true},
		{name: "json without token", input: `{"foo":"bar"}`, wantErr: true},
		{name: "broken json", input: `{"access_token":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, err := Parse([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.access, tok.AccessToken)
			assert.Equal(t, tt.refresh, tok.RefreshToken)
		})
	}
}

func TestParse_ExpiresIn(t *testing.T) {
	tok, err := Parse([]byte(`{"access_token":"a","expires_in":3600}`))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Expiry, time.Minute)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	removed, err := Remove(path)
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, Save(path, &File{Token: &oauth2.Token{AccessToken: "a"}}))

	removed, err = Remove(path)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
