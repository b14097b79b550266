package sirius

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "sirius.services.Sirius"

// Full method names.
const (
	methodMounts       = "/" + serviceName + "/Mounts"
	methodFilesList    = "/" + serviceName + "/FilesList"
	methodFileContents = "/" + serviceName + "/FileContentsStream"
	methodFileUpload   = "/" + serviceName + "/FileUpload"
)

// Call metadata keys.
const (
	mdAuthorization = "authorization"
	mdActiveGroup   = "active-group"
	mdMountID       = "mount-id"
	mdPath          = "path"
	mdRequestID     = "x-request-id"
)

// Metadata keys exported for server implementations.
const (
	MetadataAuthorization = mdAuthorization
	MetadataActiveGroup   = mdActiveGroup
	MetadataMountID       = mdMountID
	MetadataPath          = mdPath
)

var (
	filesListStreamDesc = grpc.StreamDesc{
		StreamName:    "FilesList",
		ServerStreams: true,
	}
	fileContentsStreamDesc = grpc.StreamDesc{
		StreamName:    "FileContentsStream",
		ServerStreams: true,
	}
	fileUploadStreamDesc = grpc.StreamDesc{
		StreamName:    "FileUpload",
		ClientStreams: true,
	}
)

// Server is the server-side API of the Sirius service.
type Server interface {
	Mounts(ctx context.Context, req *MountsRequest) (*MountsResponse, error)
	FilesList(req *FilesListRequest, stream FilesListServer) error
	FileContentsStream(req *FileContentsRequest, stream FileContentsServer) error
	FileUpload(stream FileUploadServer) error
}

// FilesListServer is the send side of a FilesList stream.
type FilesListServer interface {
	Send(resp *FilesListResponse) error
	Context() context.Context
}

// FileContentsServer is the send side of a FileContentsStream stream.
type FileContentsServer interface {
	Send(chunk *FileContentsChunk) error
	Context() context.Context
}

// FileUploadServer is the receive side of a FileUpload stream.
type FileUploadServer interface {
	Recv() (*FileUploadChunk, error)
	SendAndClose(resp *FileUploadResponse) error
	Context() context.Context
}

// RegisterServer registers srv on s. The grpc.Server must be created with
// ServerCodec().
func RegisterServer(s grpc.ServiceRegistrar, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the Sirius service for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Mounts", Handler: mountsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "FilesList", Handler: filesListHandler, ServerStreams: true},
		{StreamName: "FileContentsStream", Handler: fileContentsHandler, ServerStreams: true},
		{StreamName: "FileUpload", Handler: fileUploadHandler, ClientStreams: true},
	},
	Metadata: "sirius/services/service.proto",
}

func mountsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(MountsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}

	if interceptor == nil {
		return srv.(Server).Mounts(ctx, in)
	}

	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodMounts}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Mounts(ctx, req.(*MountsRequest))
	}

	return interceptor(ctx, in, info, handler)
}

func filesListHandler(srv any, stream grpc.ServerStream) error {
	in := new(FilesListRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	return srv.(Server).FilesList(in, &filesListServer{stream})
}

func fileContentsHandler(srv any, stream grpc.ServerStream) error {
	in := new(FileContentsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}

	return srv.(Server).FileContentsStream(in, &fileContentsServer{stream})
}

func fileUploadHandler(srv any, stream grpc.ServerStream) error {
	return srv.(Server).FileUpload(&fileUploadServer{stream})
}

type filesListServer struct {
	grpc.ServerStream
}

func (s *filesListServer) Send(resp *FilesListResponse) error {
	return s.ServerStream.SendMsg(resp)
}

type fileContentsServer struct {
	grpc.ServerStream
}

func (s *fileContentsServer) Send(chunk *FileContentsChunk) error {
	return s.ServerStream.SendMsg(chunk)
}

type fileUploadServer struct {
	grpc.ServerStream
}

func (s *fileUploadServer) Recv() (*FileUploadChunk, error) {
	chunk := new(FileUploadChunk)
	if err := s.ServerStream.RecvMsg(chunk); err != nil {
		return nil, err
	}

	return chunk, nil
}

func (s *fileUploadServer) SendAndClose(resp *FileUploadResponse) error {
	return s.ServerStream.SendMsg(resp)
}
