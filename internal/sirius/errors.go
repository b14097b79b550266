// Package sirius provides a gRPC client for the Sirius file-sync service:
// chunked downloads and uploads, directory listing and mount discovery, with
// region-based endpoint resolution and status-code error classification.
package sirius

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Client-side validation errors. These are returned before any network call.
var (
	ErrInvalidChunkSize = errors.New("sirius: invalid chunk size")
	ErrUnknownRegion    = errors.New("sirius: unknown region")
	ErrMissingToken     = errors.New("sirius: no token source configured")
	ErrMissingGroup     = errors.New("sirius: group id is required")
	ErrMissingMount     = errors.New("sirius: mount id is required")
	ErrMissingPath      = errors.New("sirius: destination path is required")
	ErrListingConsumed  = errors.New("sirius: listing already consumed")
)

// ErrMalformedResponse reports a response message that is missing a required
// field or violates the protocol (e.g. a chunk larger than requested).
var ErrMalformedResponse = errors.New("sirius: malformed response")

// Sentinel errors for gRPC status code classification.
// Use errors.Is(err, sirius.ErrNotFound) to check.
var (
	ErrUnauthorized       = errors.New("sirius: unauthenticated")
	ErrForbidden          = errors.New("sirius: permission denied")
	ErrNotFound           = errors.New("sirius: not found")
	ErrNotAFile           = errors.New("sirius: not a file")
	ErrInvalidArgument    = errors.New("sirius: invalid argument")
	ErrFailedPrecondition = errors.New("sirius: failed precondition")
	ErrUnavailable        = errors.New("sirius: unavailable")
	ErrDeadlineExceeded   = errors.New("sirius: deadline exceeded")
	ErrCanceled           = errors.New("sirius: canceled")
	ErrServerError        = errors.New("sirius: server error")
)

// RPCError wraps a sentinel error with the gRPC status code and the server's
// message for debugging.
type RPCError struct {
	Op      string
	Code    codes.Code
	Message string
	Err     error // sentinel, for errors.Is()
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("sirius: %s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *RPCError) Unwrap() error {
	return e.Err
}

// ConfigError reports an invalid session configuration value.
type ConfigError struct {
	Field string
	Value string
	Known []string
	Err   error
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("%v %q", e.Err, e.Value)
	if len(e.Known) > 0 {
		msg += " (known: " + strings.Join(e.Known, ", ") + ")"
	}

	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func unknownRegionError(region string, regions map[string]string) error {
	known := make([]string, 0, len(regions))
	for name := range regions {
		known = append(known, name)
	}

	sort.Strings(known)

	return &ConfigError{Field: "region", Value: region, Known: known, Err: ErrUnknownRegion}
}

// classifyStatus maps a gRPC status code to a sentinel error.
// Returns nil for OK.
func classifyStatus(code codes.Code) error {
	switch code {
	case codes.OK:
		return nil
	case codes.Unauthenticated:
		return ErrUnauthorized
	case codes.PermissionDenied:
		return ErrForbidden
	case codes.NotFound:
		return ErrNotFound
	case codes.InvalidArgument, codes.OutOfRange:
		return ErrInvalidArgument
	case codes.FailedPrecondition:
		return ErrFailedPrecondition
	case codes.Unavailable, codes.ResourceExhausted:
		return ErrUnavailable
	case codes.DeadlineExceeded:
		return ErrDeadlineExceeded
	case codes.Canceled:
		return ErrCanceled
	default:
		return ErrServerError
	}
}

// rpcError converts an error returned by the gRPC layer into an *RPCError.
// Errors that carry no status (e.g. token acquisition failures raised by the
// interceptor) are wrapped with the operation name and returned as-is.
func rpcError(op string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("sirius: %s: %w", op, err)
		}

		st = status.FromContextError(err)
	}

	return &RPCError{
		Op:      op,
		Code:    st.Code(),
		Message: st.Message(),
		Err:     classifyStatus(st.Code()),
	}
}
