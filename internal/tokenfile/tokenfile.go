// Package tokenfile reads and writes the credential file that holds the
// Athera OAuth2 token used to authorize Sirius calls. It is a leaf package so
// both config/ and credential/ can use it.
package tokenfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token directory.
const DirPerms = 0o700

// ErrNoToken is returned by Parse when the input carries no access token.
var ErrNoToken = errors.New("tokenfile: no access token")

// File is the on-disk format. The identity fields record where the refresh
// token was issued so it can be refreshed against the same provider.
type File struct {
	Token       *oauth2.Token `json:"token"`
	IdentityURL string        `json:"identity_url,omitempty"`
	ClientID    string        `json:"client_id,omitempty"`
	SavedAt     time.Time     `json:"saved_at,omitzero"`
}

// Load reads a saved token file. Returns (nil, nil) if the file does not exist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Token == nil || tf.Token.AccessToken == "" {
		return nil, fmt.Errorf("tokenfile: %s has no token (run login again)", path)
	}

	return &tf, nil
}

// Parse extracts a token from data, which may be a saved token file, a raw
// OAuth2 token response, or a bare access token on a single line.
func Parse(data []byte) (*oauth2.Token, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrNoToken
	}

	if data[0] != '{' {
		if bytes.ContainsAny(data, " \t\r\n") {
			return nil, fmt.Errorf("tokenfile: bare token must be a single word")
		}

		return &oauth2.Token{AccessToken: string(data), TokenType: "Bearer"}, nil
	}

	var wrapped File
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding token: %w", err)
	}

	if wrapped.Token != nil && wrapped.Token.AccessToken != "" {
		return wrapped.Token, nil
	}

	var raw struct {
		oauth2.Token
		ExpiresIn int64 `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding token: %w", err)
	}

	if raw.AccessToken == "" {
		return nil, ErrNoToken
	}

	tok := raw.Token
	if tok.Expiry.IsZero() && raw.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(raw.ExpiresIn) * time.Second)
	}

	return &tok, nil
}

// Save writes tf to path atomically (write-to-temp + rename) with 0600
// permissions. Never logs token values.
func Save(path string, tf *File) error {
	if tf == nil || tf.Token == nil {
		return fmt.Errorf("tokenfile: refusing to save an empty token to %s", path)
	}

	data, err := json.MarshalIndent(tf, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory keeps the rename on one filesystem.
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := writeSynced(tmp, data); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}

func writeSynced(f *os.File, data []byte) error {
	if err := f.Chmod(FilePerms); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	return nil
}

// Remove deletes the token file. A missing file is not an error; the boolean
// reports whether anything was removed.
func Remove(path string) (bool, error) {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("tokenfile: removing %s: %w", path, err)
	}

	return true, nil
}
