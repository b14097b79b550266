package sirius

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
)

const opUpload = "upload"

// UploadAck describes a completed upload.
type UploadAck struct {
	Path      string // destination path as acknowledged by the server
	Size      int64  // size reported by the server
	BytesSent int64
	Chunks    int
}

// Upload streams r to destPath (relative to the mount root) in chunks of
// exactly chunkSize bytes; only the last chunk may be shorter. Nothing is
// retried: a failed chunk fails the upload.
func (s *Session) Upload(
	ctx context.Context, groupID, mountID string, r io.Reader, destPath string, chunkSize int64,
) (*UploadAck, error) {
	if err := validateChunkSize(chunkSize); err != nil {
		return nil, err
	}

	if err := validateTarget(groupID, mountID); err != nil {
		return nil, err
	}

	if destPath == "" {
		return nil, ErrMissingPath
	}

	ctx, cancel := s.callContext(ctx, groupID, mdMountID, mountID, mdPath, destPath)
	defer cancel()

	start := time.Now()

	stream, err := s.conn.NewStream(ctx, &fileUploadStreamDesc, methodFileUpload)
	if err != nil {
		return nil, s.fail(opUpload, methodFileUpload, start, err)
	}

	ack := &UploadAck{Path: destPath}

	for chunk, readErr := range readChunks(r, chunkSize) {
		if readErr != nil {
			s.observer.CallFinished(methodFileUpload, codes.Canceled, time.Since(start))

			return nil, fmt.Errorf("sirius: reading upload source: %w", readErr)
		}

		err := stream.SendMsg(&FileUploadChunk{ChunkSize: chunkSize, Bytes: chunk})
		if errors.Is(err, io.EOF) {
			// The server ended the call early; RecvMsg reports why.
			break
		}

		if err != nil {
			return nil, s.fail(opUpload, methodFileUpload, start, err)
		}

		ack.BytesSent += int64(len(chunk))
		ack.Chunks++
		s.observer.BytesTransferred(DirectionUpload, int64(len(chunk)))
	}

	if err := stream.CloseSend(); err != nil {
		return nil, s.fail(opUpload, methodFileUpload, start, err)
	}

	var resp FileUploadResponse
	if err := stream.RecvMsg(&resp); err != nil {
		return nil, s.fail(opUpload, methodFileUpload, start, err)
	}

	if resp.Path != "" {
		ack.Path = resp.Path
	}

	ack.Size = resp.Size
	if ack.Size != ack.BytesSent {
		return nil, s.malformed(methodFileUpload, start,
			"server acknowledged %d of %d bytes for %s", ack.Size, ack.BytesSent, destPath)
	}

	s.succeed(methodFileUpload, start)

	s.logger.Debug("upload complete",
		slog.String("mount_id", mountID),
		slog.String("path", ack.Path),
		slog.Int64("bytes", ack.BytesSent),
		slog.Int("chunks", ack.Chunks),
		slog.Duration("elapsed", time.Since(start)),
	)

	return ack, nil
}

// readChunks reads r in chunkSize increments. The sequence ends at the first
// zero-length read; a read error is yielded once as the final element. Each
// yielded slice is freshly allocated, since a sent message must not change
// after SendMsg returns.
func readChunks(r io.Reader, chunkSize int64) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			buf := make([]byte, chunkSize)

			n, err := io.ReadFull(r, buf)
			if n > 0 && !yield(buf[:n], nil) {
				return
			}

			switch {
			case err == nil:
				continue
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				return
			default:
				yield(nil, err)
				return
			}
		}
	}
}
