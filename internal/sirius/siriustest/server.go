// Package siriustest provides an in-memory Sirius server for tests. It serves
// over a bufconn listener so sessions exercise the real gRPC stack without
// opening sockets.
package siriustest

import (
	"context"
	"errors"
	"io"
	"net"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"

	"golang.org/x/oauth2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/athera-io/athera-sync/internal/sirius"
)

const bufSize = 1 << 20

// Server is a fake Sirius backend. Files live in memory per mount;
// directories are implied by file paths or created with Mkdir.
type Server struct {
	// Token, when set, is the only bearer token accepted.
	Token string

	// ListBatch is the number of entries per FilesList response message.
	ListBatch int

	mu       sync.Mutex
	mounts   map[string][]sirius.Mount    // group id -> mounts
	files    map[string]map[string][]byte // mount id -> path -> contents
	dirs     map[string]map[string]bool   // mount id -> path
	chunks   map[string][]int             // mount id + path -> uploaded chunk lengths
	metadata map[string]metadata.MD       // method -> last metadata seen
	failures map[string]error             // method -> error for the next call
	calls    int
}

// NewServer returns an empty server that accepts any token.
func NewServer() *Server {
	return &Server{
		ListBatch: 2,
		mounts:    make(map[string][]sirius.Mount),
		files:     make(map[string]map[string][]byte),
		dirs:      make(map[string]map[string]bool),
		chunks:    make(map[string][]int),
		metadata:  make(map[string]metadata.MD),
		failures:  make(map[string]error),
	}
}

// AddMount makes m visible to groupID.
func (s *Server) AddMount(groupID string, m sirius.Mount) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mounts[groupID] = append(s.mounts[groupID], m)
	if s.files[m.ID] == nil {
		s.files[m.ID] = make(map[string][]byte)
		s.dirs[m.ID] = map[string]bool{"/": true}
	}
}

// PutFile stores data at p on the mount, creating parent directories.
func (s *Server) PutFile(mountID, p string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.putLocked(mountID, clean(p), data)
}

// Mkdir creates an empty directory and its parents.
func (s *Server) Mkdir(mountID, p string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mkdirLocked(mountID, clean(p))
}

// File returns the stored contents of p.
func (s *Server) File(mountID, p string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.files[mountID][clean(p)]

	return data, ok
}

// Files returns every file path stored on the mount, sorted.
func (s *Server) Files(mountID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.files[mountID]))
	for p := range s.files[mountID] {
		out = append(out, p)
	}

	sort.Strings(out)

	return out
}

// ChunkSizes returns the payload lengths of the chunks received by the last
// upload to p.
func (s *Server) ChunkSizes(mountID, p string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]int(nil), s.chunks[mountID+clean(p)]...)
}

// Metadata returns the metadata of the last call to method ("Mounts",
// "FilesList", "FileContentsStream" or "FileUpload").
func (s *Server) Metadata(method string) metadata.MD {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.metadata[method]
}

// FailNext makes the next call to method fail with err.
func (s *Server) FailNext(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures[method] = err
}

// Calls returns the number of calls the server has received.
func (s *Server) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

// Mounts implements sirius.Server.
func (s *Server) Mounts(ctx context.Context, _ *sirius.MountsRequest) (*sirius.MountsResponse, error) {
	group, err := s.admit(ctx, "Mounts")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return &sirius.MountsResponse{Mounts: append([]sirius.Mount(nil), s.mounts[group]...)}, nil
}

// FilesList implements sirius.Server.
func (s *Server) FilesList(req *sirius.FilesListRequest, stream sirius.FilesListServer) error {
	group, err := s.admit(stream.Context(), "FilesList")
	if err != nil {
		return err
	}

	entries, err := s.list(group, req.MountID, clean(req.Path))
	if err != nil {
		return err
	}

	batch := max(s.ListBatch, 1)
	for len(entries) > 0 {
		n := min(batch, len(entries))
		if err := stream.Send(&sirius.FilesListResponse{Files: entries[:n]}); err != nil {
			return err
		}

		entries = entries[n:]
	}

	return nil
}

// FileContentsStream implements sirius.Server.
func (s *Server) FileContentsStream(req *sirius.FileContentsRequest, stream sirius.FileContentsServer) error {
	group, err := s.admit(stream.Context(), "FileContentsStream")
	if err != nil {
		return err
	}

	if req.ChunkSize <= 0 || req.ChunkSize > sirius.MaxChunkSize {
		return status.Errorf(codes.InvalidArgument, "chunk size %d out of range", req.ChunkSize)
	}

	data, err := s.read(group, req.MountID, clean(req.Path))
	if err != nil {
		return err
	}

	for len(data) > 0 {
		n := min(int(req.ChunkSize), len(data))
		if err := stream.Send(&sirius.FileContentsChunk{ChunkSize: req.ChunkSize, Bytes: data[:n]}); err != nil {
			return err
		}

		data = data[n:]
	}

	return nil
}

// FileUpload implements sirius.Server.
func (s *Server) FileUpload(stream sirius.FileUploadServer) error {
	group, err := s.admit(stream.Context(), "FileUpload")
	if err != nil {
		return err
	}

	md, _ := metadata.FromIncomingContext(stream.Context())
	mountID := first(md, sirius.MetadataMountID)
	dest := first(md, sirius.MetadataPath)

	if dest == "" {
		return status.Error(codes.InvalidArgument, "missing path metadata")
	}

	if err := s.checkMount(group, mountID); err != nil {
		return err
	}

	var (
		data  []byte
		sizes []int
	)

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return err
		}

		if int64(len(chunk.Bytes)) > chunk.ChunkSize || chunk.ChunkSize > sirius.MaxChunkSize {
			return status.Errorf(codes.InvalidArgument, "chunk of %d bytes exceeds chunk size %d",
				len(chunk.Bytes), chunk.ChunkSize)
		}

		data = append(data, chunk.Bytes...)
		sizes = append(sizes, len(chunk.Bytes))
	}

	p := clean(dest)

	s.mu.Lock()
	if s.dirs[mountID][p] {
		s.mu.Unlock()
		return status.Errorf(codes.FailedPrecondition, "%s is a directory", p)
	}

	s.putLocked(mountID, p, data)
	s.chunks[mountID+p] = sizes
	s.mu.Unlock()

	return stream.SendAndClose(&sirius.FileUploadResponse{Path: strings.TrimPrefix(p, "/"), Size: int64(len(data))})
}

// admit records the call, checks credentials and returns the active group.
func (s *Server) admit(ctx context.Context, method string) (string, error) {
	md, _ := metadata.FromIncomingContext(ctx)

	s.mu.Lock()
	s.calls++
	s.metadata[method] = md.Copy()
	injected := s.failures[method]
	delete(s.failures, method)
	s.mu.Unlock()

	if injected != nil {
		return "", injected
	}

	auth := first(md, sirius.MetadataAuthorization)
	if !strings.HasPrefix(auth, "bearer ") {
		return "", status.Error(codes.Unauthenticated, "missing bearer token")
	}

	if s.Token != "" && strings.TrimPrefix(auth, "bearer ") != s.Token {
		return "", status.Error(codes.Unauthenticated, "invalid token")
	}

	group := first(md, sirius.MetadataActiveGroup)
	if group == "" {
		return "", status.Error(codes.PermissionDenied, "missing active group")
	}

	return group, nil
}

func (s *Server) checkMount(group, mountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.mounts[group] {
		if m.ID == mountID {
			return nil
		}
	}

	return status.Errorf(codes.PermissionDenied, "mount %q not visible to group %q", mountID, group)
}

func (s *Server) list(group, mountID, dir string) ([]sirius.FileEntry, error) {
	if err := s.checkMount(group, mountID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirs[mountID][dir] {
		if _, isFile := s.files[mountID][dir]; isFile {
			return nil, status.Errorf(codes.FailedPrecondition, "%s is not a directory", dir)
		}

		return nil, status.Errorf(codes.NotFound, "%s not found", dir)
	}

	var out []sirius.FileEntry

	for p := range s.dirs[mountID] {
		if p != "/" && path.Dir(p) == dir {
			out = append(out, sirius.FileEntry{
				Path: strings.TrimPrefix(p, "/"), Name: path.Base(p), MountID: mountID, Type: sirius.FileTypeDirectory,
			})
		}
	}

	for p, data := range s.files[mountID] {
		if path.Dir(p) == dir {
			out = append(out, sirius.FileEntry{
				Path: strings.TrimPrefix(p, "/"), Name: path.Base(p), MountID: mountID,
				Size: int64(len(data)), Type: sirius.FileTypeFile,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out, nil
}

func (s *Server) read(group, mountID, p string) ([]byte, error) {
	if err := s.checkMount(group, mountID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dirs[mountID][p] {
		return nil, status.Errorf(codes.FailedPrecondition, "%s is not a file", p)
	}

	data, ok := s.files[mountID][p]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "%s not found", p)
	}

	return data, nil
}

func (s *Server) putLocked(mountID, p string, data []byte) {
	if s.files[mountID] == nil {
		s.files[mountID] = make(map[string][]byte)
	}

	s.mkdirLocked(mountID, path.Dir(p))
	s.files[mountID][p] = append([]byte(nil), data...)
}

func (s *Server) mkdirLocked(mountID, p string) {
	if s.dirs[mountID] == nil {
		s.dirs[mountID] = map[string]bool{"/": true}
	}

	for ; p != "/"; p = path.Dir(p) {
		s.dirs[mountID][p] = true
	}
}

func clean(p string) string {
	return path.Clean("/" + p)
}

func first(md metadata.MD, key string) string {
	if v := md.Get(key); len(v) > 0 {
		return v[0]
	}

	return ""
}

// Listen serves srv on an in-memory listener until t finishes and returns a
// dial option that connects to it.
func Listen(t testing.TB, srv sirius.Server) grpc.DialOption {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer(sirius.ServerCodec())
	sirius.RegisterServer(gs, srv)

	go func() { _ = gs.Serve(lis) }()

	t.Cleanup(gs.Stop)

	return grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
}

// NewSession returns a session connected to srv that presents token.
func NewSession(t testing.TB, srv sirius.Server, token string, observer sirius.Observer) *sirius.Session {
	t.Helper()

	sess, err := sirius.NewSession(sirius.Config{
		Endpoint:    "passthrough:///bufnet",
		Insecure:    true,
		Tokens:      oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
		Observer:    observer,
		DialOptions: []grpc.DialOption{Listen(t, srv)},
	})
	if err != nil {
		t.Fatalf("creating session: %v", err)
	}

	t.Cleanup(func() { _ = sess.Close() })

	return sess
}
