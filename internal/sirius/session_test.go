package sirius

import (
	"bytes"
	"errors"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/encoding/protowire"
)

func staticTokens() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"})
}

func TestNewSession_UnknownRegion(t *testing.T) {
	_, err := NewSession(Config{
		Region:  "mars-north1",
		Regions: DefaultRegions(),
		Tokens:  staticTokens(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownRegion)
	assert.Contains(t, err.Error(), `"mars-north1"`)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "region", cfgErr.Field)
	assert.Equal(t, []string{"australia-southeast1", "europe-west1", "us-west1"}, cfgErr.Known)
}

func TestNewSession_EmptyRegionTable(t *testing.T) {
	_, err := NewSession(Config{Region: "us-west1", Tokens: staticTokens()})
	assert.ErrorIs(t, err, ErrUnknownRegion)
}

func TestNewSession_ResolvesRegion(t *testing.T) {
	regions := map[string]string{"lab": "sirius.lab.internal:9001"}

	s, err := NewSession(Config{Region: "lab", Regions: regions, Tokens: staticTokens(), Insecure: true})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "sirius.lab.internal:9001", s.Target())
}

func TestNewSession_EndpointOverridesRegion(t *testing.T) {
	s, err := NewSession(Config{Region: "nowhere", Endpoint: "localhost:9001", Tokens: staticTokens(), Insecure: true})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "localhost:9001", s.Target())
}

func TestNewSession_MissingToken(t *testing.T) {
	_, err := NewSession(Config{Endpoint: "localhost:9001"})
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestNewSession_NegativeCallTimeout(t *testing.T) {
	_, err := NewSession(Config{Endpoint: "localhost:9001", Tokens: staticTokens(), CallTimeout: -time.Second})

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "call_timeout", cfgErr.Field)
}

func TestDefaultRegions_ReturnsCopy(t *testing.T) {
	a := DefaultRegions()
	a["us-west1"] = "changed"
	delete(a, "europe-west1")

	b := DefaultRegions()
	assert.Equal(t, "us-west1.sirius.athera.io:443", b["us-west1"])
	assert.Contains(t, b, "europe-west1")
	assert.Contains(t, b, DefaultRegion)
}

func TestValidateChunkSize(t *testing.T) {
	tests := []struct {
		size int64
		ok   bool
	}{
		{1, true},
		{5, true},
		{MaxChunkSize, true},
		{MaxChunkSize + 1, false},
		{2 * MaxChunkSize, false},
		{0, false},
		{-1, false},
	}

	for _, tt := range tests {
		err := validateChunkSize(tt.size)
		if tt.ok {
			assert.NoError(t, err, "size %d", tt.size)
		} else {
			assert.ErrorIs(t, err, ErrInvalidChunkSize, "size %d", tt.size)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code codes.Code
		want error
	}{
		{codes.OK, nil},
		{codes.Unauthenticated, ErrUnauthorized},
		{codes.PermissionDenied, ErrForbidden},
		{codes.NotFound, ErrNotFound},
		{codes.InvalidArgument, ErrInvalidArgument},
		{codes.FailedPrecondition, ErrFailedPrecondition},
		{codes.Unavailable, ErrUnavailable},
		{codes.DeadlineExceeded, ErrDeadlineExceeded},
		{codes.Canceled, ErrCanceled},
		{codes.Internal, ErrServerError},
		{codes.DataLoss, ErrServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, classifyStatus(tt.code))
		})
	}
}

func TestRPCError_NonStatusPassesThrough(t *testing.T) {
	cause := errors.New("boom")
	err := rpcError("download", cause)

	assert.ErrorIs(t, err, cause)

	var rpcErr *RPCError
	assert.False(t, errors.As(err, &rpcErr))
}

func collectChunks(t *testing.T, src []byte, size int64) [][]byte {
	t.Helper()

	var out [][]byte
	for chunk, err := range readChunks(bytes.NewReader(src), size) {
		require.NoError(t, err)
		out = append(out, append([]byte(nil), chunk...))
	}

	return out
}

func TestReadChunks_ShortLastChunk(t *testing.T) {
	src := []byte("abcdefghijklmnopqrstuvw") // 23 bytes

	chunks := collectChunks(t, src, 5)
	require.Len(t, chunks, 5)

	var lengths []int
	for _, c := range chunks {
		lengths = append(lengths, len(c))
	}

	assert.Equal(t, []int{5, 5, 5, 5, 3}, lengths)
	assert.Equal(t, src, bytes.Join(chunks, nil))
}

func TestReadChunks_YieldedSlicesAreNotReused(t *testing.T) {
	var kept [][]byte
	for chunk, err := range readChunks(bytes.NewReader([]byte("aaaaabbbbbccc")), 5) {
		require.NoError(t, err)
		kept = append(kept, chunk)
	}

	require.Len(t, kept, 3)
	assert.Equal(t, "aaaaa", string(kept[0]))
	assert.Equal(t, "bbbbb", string(kept[1]))
	assert.Equal(t, "ccc", string(kept[2]))
}

func TestReadChunks_ExactMultiple(t *testing.T) {
	chunks := collectChunks(t, []byte("0123456789"), 5)
	assert.Len(t, chunks, 2)
}

func TestReadChunks_EmptySource(t *testing.T) {
	assert.Empty(t, collectChunks(t, nil, 5))
}

func TestReadChunks_ShortReadsAreFilled(t *testing.T) {
	src := []byte("abcdefghijklmnopqrstuvw")

	var lengths []int
	for chunk, err := range readChunks(iotest.OneByteReader(bytes.NewReader(src)), 5) {
		require.NoError(t, err)
		lengths = append(lengths, len(chunk))
	}

	assert.Equal(t, []int{5, 5, 5, 5, 3}, lengths)
}

func TestReadChunks_ReadErrorIsTerminal(t *testing.T) {
	readErr := errors.New("disk gone")

	var errs []error
	for _, err := range readChunks(iotest.ErrReader(readErr), 5) {
		errs = append(errs, err)
	}

	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], readErr)
}

func TestWire_UnknownFieldsSkipped(t *testing.T) {
	var b []byte
	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "from a newer server")
	b = (&FileEntry{Path: "a/b.exr", Name: "b.exr", Size: 42, Type: FileTypeSequence}).appendWire(b)
	b = protowire.AppendTag(b, 98, protowire.VarintType)
	b = protowire.AppendVarint(b, 7)

	var got FileEntry
	require.NoError(t, got.readWire(b))
	assert.Equal(t, FileEntry{Path: "a/b.exr", Name: "b.exr", Size: 42, Type: FileTypeSequence}, got)
}

func TestWire_TruncatedMessage(t *testing.T) {
	b := (&FileContentsChunk{ChunkSize: 5, Bytes: []byte("hello")}).appendWire(nil)

	var got FileContentsChunk
	err := got.readWire(b[:len(b)-2])
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestCodec_RejectsForeignTypes(t *testing.T) {
	_, err := wireCodec{}.Marshal("not a message")
	require.Error(t, err)

	err = wireCodec{}.Unmarshal(nil, new(int))
	require.Error(t, err)
}
