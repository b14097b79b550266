package credential

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/athera-io/athera-sync/internal/tokenfile"
)

// fakeIdentity serves the refresh-token grant and counts requests.
func fakeIdentity(t *testing.T, refreshed *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/oauth/token" {
			http.NotFound(w, r)
			return
		}

		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "refresh-1" ||
			r.Form.Get("client_id") != "cli" || r.Form.Get("client_secret") != "shh" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}

		n := refreshed.Add(1)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-" + string(rune('1'+n)),
			"refresh_token": "refresh-1",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))

	t.Cleanup(srv.Close)

	return srv
}

func saveToken(t *testing.T, path string, tok *oauth2.Token, identityURL, clientID string) {
	t.Helper()

	require.NoError(t, tokenfile.Save(path, &tokenfile.File{Token: tok, IdentityURL: identityURL, ClientID: clientID}))
}

func TestEndpoint(t *testing.T) {
	ep := Endpoint("https://id.example.com")
	assert.Equal(t, "https://id.example.com/authorize", ep.AuthURL)
	assert.Equal(t, "https://id.example.com/oauth/token", ep.TokenURL)
	assert.Equal(t, oauth2.AuthStyleInParams, ep.AuthStyle)

	assert.Equal(t, "https://id.athera.io/oauth/token", Endpoint("").TokenURL)
}

func TestTokenSourceFromPath_NotLoggedIn(t *testing.T) {
	_, err := TokenSourceFromPath(context.Background(), Options{TokenPath: filepath.Join(t.TempDir(), "token.json")})
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestTokenSourceFromPath_ValidTokenNotRefreshed(t *testing.T) {
	var refreshed atomic.Int32
	idp := fakeIdentity(t, &refreshed)
	path := filepath.Join(t.TempDir(), "token.json")

	saveToken(t, path, &oauth2.Token{
		AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: time.Now().Add(time.Hour),
	}, idp.URL, "cli")

	src, err := TokenSourceFromPath(context.Background(), Options{TokenPath: path, ClientSecret: "shh"})
	require.NoError(t, err)

	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Zero(t, refreshed.Load())
}

func TestTokenSourceFromPath_RefreshesAndPersists(t *testing.T) {
	var refreshed atomic.Int32
	idp := fakeIdentity(t, &refreshed)
	path := filepath.Join(t.TempDir(), "token.json")

	saveToken(t, path, &oauth2.Token{
		AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: time.Now().Add(-time.Hour),
	}, idp.URL, "cli")

	src, err := TokenSourceFromPath(context.Background(), Options{TokenPath: path, ClientSecret: "shh"})
	require.NoError(t, err)

	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "access-2", tok.AccessToken)
	assert.Equal(t, int32(1), refreshed.Load())

	// Still valid: served from cache without another refresh.
	_, err = src.Token()
	require.NoError(t, err)
	assert.Equal(t, int32(1), refreshed.Load())

	tf, err := tokenfile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "access-2", tf.Token.AccessToken)
	assert.Equal(t, idp.URL, tf.IdentityURL)
	assert.Equal(t, "cli", tf.ClientID)
	assert.False(t, tf.SavedAt.IsZero())
}

func TestTokenSourceFromPath_RefreshFailure(t *testing.T) {
	var refreshed atomic.Int32
	idp := fakeIdentity(t, &refreshed)
	path := filepath.Join(t.TempDir(), "token.json")

	saveToken(t, path, &oauth2.Token{
		AccessToken: "access-1", RefreshToken: "refresh-1", Expiry: time.Now().Add(-time.Hour),
	}, idp.URL, "cli")

	src, err := TokenSourceFromPath(context.Background(), Options{TokenPath: path, ClientSecret: "wrong"})
	require.NoError(t, err)

	_, err = src.Token()
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "credential: refreshing token"))

	tf, err := tokenfile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "access-1", tf.Token.AccessToken)
}

func TestTokenSourceFromPath_NotRefreshableIsStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	saveToken(t, path, &oauth2.Token{AccessToken: "bare"}, "", "")

	src, err := TokenSourceFromPath(context.Background(), Options{TokenPath: path})
	require.NoError(t, err)

	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "bare", tok.AccessToken)
}

func TestImport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	input := `{"access_token":"a1","refresh_token":"r1","token_type":"Bearer","expires_in":600}`

	tok, err := Import(Options{TokenPath: path, IdentityURL: "https://id.example.com/", ClientID: "cli"}, strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, "a1", tok.AccessToken)

	tf, err := tokenfile.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "r1", tf.Token.RefreshToken)
	assert.Equal(t, "https://id.example.com/", tf.IdentityURL)
	assert.Equal(t, "cli", tf.ClientID)
}

func TestImport_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	_, err := Import(Options{TokenPath: path}, strings.NewReader(""))
	assert.ErrorIs(t, err, tokenfile.ErrNoToken)

	_, err = Describe(path)
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestStatic(t *testing.T) {
	src, err := Static("  tok\n")
	require.NoError(t, err)

	tok, err := src.Token()
	require.NoError(t, err)
	assert.Equal(t, "tok", tok.AccessToken)

	_, err = Static("   ")
	assert.ErrorIs(t, err, ErrStaticToken)
}

func TestLogout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")

	require.NoError(t, Logout(path, nil))

	saveToken(t, path, &oauth2.Token{AccessToken: "a"}, "", "")
	require.NoError(t, Logout(path, nil))

	_, err := TokenSourceFromPath(context.Background(), Options{TokenPath: path})
	assert.ErrorIs(t, err, ErrNotLoggedIn)
}

func TestDescribe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	expiry := time.Now().Add(-time.Minute).UTC()

	saveToken(t, path, &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: expiry}, "", "")

	st, err := Describe(path)
	require.NoError(t, err)
	assert.True(t, st.Expired)
	assert.True(t, st.Refreshable)
	assert.Equal(t, DefaultIdentityURL, st.IdentityURL)
	assert.True(t, st.Expiry.Equal(expiry))
}
