package sirius

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Direction labels transferred bytes for an Observer.
type Direction string

const (
	DirectionDownload Direction = "download"
	DirectionUpload   Direction = "upload"
)

// Observer receives call and byte accounting from a Session. Implementations
// must be safe for concurrent use.
type Observer interface {
	CallFinished(method string, code codes.Code, elapsed time.Duration)
	BytesTransferred(dir Direction, n int64)
}

type nopObserver struct{}

func (nopObserver) CallFinished(string, codes.Code, time.Duration) {}
func (nopObserver) BytesTransferred(Direction, int64)              {}

// Config holds everything needed to build a Session.
type Config struct {
	// Region selects an endpoint from Regions. Ignored when Endpoint is set.
	Region  string
	Regions map[string]string

	// Endpoint overrides region resolution (e.g. "localhost:9001").
	Endpoint string

	// Insecure disables TLS. Only meant for local development endpoints.
	Insecure bool

	// Tokens supplies the bearer token attached to every call.
	Tokens oauth2.TokenSource

	// CallTimeout bounds calls whose context carries no deadline. Zero means
	// calls run until their context is canceled.
	CallTimeout time.Duration

	Observer    Observer
	Logger      *slog.Logger
	DialOptions []grpc.DialOption
}

// Session owns one gRPC channel to a Sirius endpoint. All calls made through
// it share the channel; a Session is safe for concurrent use.
type Session struct {
	conn         *grpc.ClientConn
	target       string
	tokens       oauth2.TokenSource
	callTimeout  time.Duration
	observer     Observer
	logger       *slog.Logger
	newRequestID func() string
}

// NewSession resolves the endpoint and prepares a channel to it. Region and
// credential problems are reported here, before any connection attempt; the
// channel itself connects lazily on the first call.
func NewSession(cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	target := cfg.Endpoint
	if target == "" {
		addr, err := ResolveRegion(cfg.Regions, cfg.Region)
		if err != nil {
			return nil, err
		}

		target = addr
	}

	if cfg.Tokens == nil {
		return nil, ErrMissingToken
	}

	if cfg.CallTimeout < 0 {
		return nil, &ConfigError{
			Field: "call_timeout",
			Value: cfg.CallTimeout.String(),
			Err:   errors.New("sirius: negative call timeout"),
		}
	}

	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	s := &Session{
		target:       target,
		tokens:       cfg.Tokens,
		callTimeout:  cfg.CallTimeout,
		observer:     observer,
		logger:       logger,
		newRequestID: func() string { return uuid.New().String() },
	}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wireCodec{})),
		grpc.WithChainUnaryInterceptor(s.unaryInterceptor),
		grpc.WithChainStreamInterceptor(s.streamInterceptor),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("sirius: creating channel to %s: %w", target, err)
	}

	s.conn = conn

	logger.Debug("sirius session created",
		slog.String("target", target),
		slog.Bool("insecure", cfg.Insecure),
	)

	return s, nil
}

// Target returns the resolved endpoint address.
func (s *Session) Target() string {
	return s.target
}

// Close tears down the channel. In-flight calls fail with Canceled.
func (s *Session) Close() error {
	return s.conn.Close()
}

// authorize attaches the bearer token and a request id to an outgoing call.
func (s *Session) authorize(ctx context.Context) (context.Context, error) {
	tok, err := s.tokens.Token()
	if err != nil {
		return ctx, fmt.Errorf("sirius: obtaining token: %w: %w", ErrUnauthorized, err)
	}

	return metadata.AppendToOutgoingContext(ctx,
		mdAuthorization, "bearer "+tok.AccessToken,
		mdRequestID, s.newRequestID(),
	), nil
}

func (s *Session) unaryInterceptor(
	ctx context.Context, method string, req, reply any,
	cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption,
) error {
	ctx, err := s.authorize(ctx)
	if err != nil {
		return err
	}

	return invoker(ctx, method, req, reply, cc, opts...)
}

func (s *Session) streamInterceptor(
	ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn,
	method string, streamer grpc.Streamer, opts ...grpc.CallOption,
) (grpc.ClientStream, error) {
	ctx, err := s.authorize(ctx)
	if err != nil {
		return nil, err
	}

	return streamer(ctx, desc, cc, method, opts...)
}

// callContext scopes ctx to a single call: the active group (plus any extra
// key/value pairs) goes into the outgoing metadata and CallTimeout applies
// when ctx has no deadline of its own. The returned cancel always ends the
// call, so a stream abandoned before io.EOF is torn down on return.
func (s *Session) callContext(ctx context.Context, groupID string, kv ...string) (context.Context, context.CancelFunc) {
	var cancel context.CancelFunc
	if _, ok := ctx.Deadline(); !ok && s.callTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.callTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	pairs := append([]string{mdActiveGroup, groupID}, kv...)

	return metadata.AppendToOutgoingContext(ctx, pairs...), cancel
}

// fail records a failed call and converts err for the caller.
func (s *Session) fail(op, method string, start time.Time, err error) error {
	s.observer.CallFinished(method, status.Code(err), time.Since(start))
	s.logger.Debug("sirius call failed",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)

	return rpcError(op, err)
}

// malformed records a call aborted because of a protocol violation.
func (s *Session) malformed(method string, start time.Time, format string, args ...any) error {
	s.observer.CallFinished(method, codes.Internal, time.Since(start))

	return fmt.Errorf("%w: "+format, append([]any{ErrMalformedResponse}, args...)...)
}

func (s *Session) succeed(method string, start time.Time) {
	s.observer.CallFinished(method, codes.OK, time.Since(start))
}

func validateChunkSize(chunkSize int64) error {
	if chunkSize <= 0 || chunkSize > MaxChunkSize {
		return fmt.Errorf("%w: %d (must be between 1 and %d)", ErrInvalidChunkSize, chunkSize, MaxChunkSize)
	}

	return nil
}

func validateTarget(groupID, mountID string) error {
	if groupID == "" {
		return ErrMissingGroup
	}

	if mountID == "" {
		return ErrMissingMount
	}

	return nil
}
