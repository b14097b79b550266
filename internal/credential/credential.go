// Package credential turns a stored Athera token into an oauth2.TokenSource
// for Sirius sessions. Stored tokens that carry a refresh token are renewed
// against the identity provider and written back to disk.
package credential

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/athera-io/athera-sync/internal/tokenfile"
)

// DefaultIdentityURL is the Athera identity provider.
const DefaultIdentityURL = "https://id.athera.io/"

const (
	authorizePath = "authorize"
	tokenPath     = "oauth/token"

	// maxImportSize bounds what Import will read from its source.
	maxImportSize = 1 << 20
)

// ErrNotLoggedIn is returned when no token file exists.
var ErrNotLoggedIn = errors.New("credential: not logged in (run 'athera-sync login')")

// ErrStaticToken is returned by Static for an empty token.
var ErrStaticToken = errors.New("credential: empty access token")

// Options locate the token file and the identity provider used to refresh it.
// Empty identity fields fall back to what the token file recorded at import.
type Options struct {
	TokenPath    string
	IdentityURL  string
	ClientID     string
	ClientSecret string
	Logger       *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}

	return o.Logger
}

// Endpoint returns the OAuth2 endpoint of the identity provider at baseURL.
// Client credentials travel in the request body.
func Endpoint(baseURL string) oauth2.Endpoint {
	if baseURL == "" {
		baseURL = DefaultIdentityURL
	}

	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}

	return oauth2.Endpoint{
		AuthURL:   baseURL + authorizePath,
		TokenURL:  baseURL + tokenPath,
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// Import reads a token from r and stores it at opts.TokenPath. r may carry a
// token response JSON, a saved token file or a bare access token.
func Import(opts Options, r io.Reader) (*oauth2.Token, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxImportSize))
	if err != nil {
		return nil, fmt.Errorf("credential: reading token: %w", err)
	}

	tok, err := tokenfile.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("credential: importing token: %w", err)
	}

	tf := &tokenfile.File{
		Token:       tok,
		IdentityURL: opts.IdentityURL,
		ClientID:    opts.ClientID,
		SavedAt:     time.Now().UTC(),
	}

	if err := tokenfile.Save(opts.TokenPath, tf); err != nil {
		return nil, err
	}

	opts.logger().Info("imported token",
		slog.String("path", opts.TokenPath),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("refreshable", tok.RefreshToken != ""),
	)

	return tok, nil
}

// Static returns a source that always yields token.
func Static(token string) (oauth2.TokenSource, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrStaticToken
	}

	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}), nil
}

// TokenSourceFromPath loads the token file at opts.TokenPath. When the token
// is refreshable and a client id is known, the returned source refreshes it
// and persists each new token. Otherwise the stored token is used as is.
//
// ctx must outlive the returned source; refreshes use it for HTTP calls.
func TokenSourceFromPath(ctx context.Context, opts Options) (oauth2.TokenSource, error) {
	logger := opts.logger()

	tf, err := tokenfile.Load(opts.TokenPath)
	if err != nil {
		return nil, err
	}

	if tf == nil {
		return nil, ErrNotLoggedIn
	}

	if opts.IdentityURL == "" {
		opts.IdentityURL = tf.IdentityURL
	}

	if opts.ClientID == "" {
		opts.ClientID = tf.ClientID
	}

	tok := tf.Token
	expired := !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now())

	logger.Info("loaded saved token",
		slog.String("path", opts.TokenPath),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("expired", expired),
	)

	if tok.RefreshToken == "" || opts.ClientID == "" {
		if expired {
			logger.Warn("saved token has expired and cannot be refreshed",
				slog.String("path", opts.TokenPath),
			)
		}

		return oauth2.StaticTokenSource(tok), nil
	}

	cfg := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Endpoint:     Endpoint(opts.IdentityURL),
		Scopes:       []string{"offline_access"},
	}

	return &persistingSource{
		src:    cfg.TokenSource(ctx, tok),
		last:   tok.AccessToken,
		path:   opts.TokenPath,
		file:   *tf,
		logger: logger,
	}, nil
}

// persistingSource saves every token it has not seen before.
type persistingSource struct {
	src    oauth2.TokenSource
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	last string
	file tokenfile.File
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.src.Token()
	if err != nil {
		p.logger.Warn("token refresh failed", slog.String("error", err.Error()))
		return nil, fmt.Errorf("credential: refreshing token: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if tok.AccessToken == p.last {
		return tok, nil
	}

	p.last = tok.AccessToken
	p.file.Token = tok
	p.file.SavedAt = time.Now().UTC()

	if err := tokenfile.Save(p.path, &p.file); err != nil {
		p.logger.Warn("failed to persist refreshed token",
			slog.String("path", p.path),
			slog.String("error", err.Error()),
		)

		return tok, nil
	}

	p.logger.Info("persisted refreshed token",
		slog.String("path", p.path),
		slog.Time("new_expiry", tok.Expiry),
	)

	return tok, nil
}

// Logout removes the saved token file. A missing file is not an error.
func Logout(path string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	removed, err := tokenfile.Remove(path)
	if err != nil {
		return err
	}

	if !removed {
		logger.Info("logout: no token file to remove", slog.String("path", path))
		return nil
	}

	logger.Info("logout: removed token file", slog.String("path", path))

	return nil
}

// Status summarizes a stored token without exposing its value.
type Status struct {
	Path        string    `json:"path"`
	Expiry      time.Time `json:"expiry,omitzero"`
	Expired     bool      `json:"expired"`
	Refreshable bool      `json:"refreshable"`
	IdentityURL string    `json:"identity_url,omitempty"`
	SavedAt     time.Time `json:"saved_at,omitzero"`
}

// Describe reports on the token file at path.
func Describe(path string) (*Status, error) {
	tf, err := tokenfile.Load(path)
	if err != nil {
		return nil, err
	}

	if tf == nil {
		return nil, ErrNotLoggedIn
	}

	identity := tf.IdentityURL
	if identity == "" && tf.Token.RefreshToken != "" {
		identity = DefaultIdentityURL
	}

	return &Status{
		Path:        path,
		Expiry:      tf.Token.Expiry,
		Expired:     !tf.Token.Expiry.IsZero() && tf.Token.Expiry.Before(time.Now()),
		Refreshable: tf.Token.RefreshToken != "",
		IdentityURL: identity,
		SavedAt:     tf.SavedAt,
	}, nil
}
