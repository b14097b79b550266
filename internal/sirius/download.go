package sirius

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
)

const opDownload = "download"

// Download streams the file at remotePath into w in chunks of at most
// chunkSize bytes and returns the number of bytes written. Chunks are written
// in arrival order. On error the bytes written so far stay in w.
// Downloading a directory fails with an error matching ErrNotAFile.
func (s *Session) Download(
	ctx context.Context, groupID, mountID, remotePath string, w io.Writer, chunkSize int64,
) (int64, error) {
	if err := validateChunkSize(chunkSize); err != nil {
		return 0, err
	}

	if err := validateTarget(groupID, mountID); err != nil {
		return 0, err
	}

	ctx, cancel := s.callContext(ctx, groupID)
	defer cancel()

	start := time.Now()

	stream, err := s.conn.NewStream(ctx, &fileContentsStreamDesc, methodFileContents)
	if err != nil {
		return 0, s.fail(opDownload, methodFileContents, start, err)
	}

	req := &FileContentsRequest{MountID: mountID, Path: remotePath, ChunkSize: chunkSize}

	// io.EOF from SendMsg means the server already ended the call; the real
	// status surfaces from RecvMsg below.
	if err := stream.SendMsg(req); err != nil && !errors.Is(err, io.EOF) {
		return 0, s.fail(opDownload, methodFileContents, start, err)
	}

	if err := stream.CloseSend(); err != nil {
		return 0, s.fail(opDownload, methodFileContents, start, err)
	}

	var total int64

	for {
		var chunk FileContentsChunk

		err := stream.RecvMsg(&chunk)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return total, notAFile(s.fail(opDownload, methodFileContents, start, err))
		}

		if int64(len(chunk.Bytes)) > chunkSize {
			return total, s.malformed(methodFileContents, start,
				"chunk of %d bytes exceeds requested chunk size %d", len(chunk.Bytes), chunkSize)
		}

		n, werr := w.Write(chunk.Bytes)
		total += int64(n)
		s.observer.BytesTransferred(DirectionDownload, int64(n))

		if werr == nil && n < len(chunk.Bytes) {
			werr = io.ErrShortWrite
		}

		if werr != nil {
			s.observer.CallFinished(methodFileContents, codes.Canceled, time.Since(start))

			return total, fmt.Errorf("sirius: writing downloaded chunk: %w", werr)
		}
	}

	s.succeed(methodFileContents, start)

	s.logger.Debug("download complete",
		slog.String("mount_id", mountID),
		slog.String("path", remotePath),
		slog.Int64("bytes", total),
		slog.Duration("elapsed", time.Since(start)),
	)

	return total, nil
}

// notAFile refines a FailedPrecondition on a contents stream: the service
// uses it to reject paths that name a directory.
func notAFile(err error) error {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == codes.FailedPrecondition {
		rpcErr.Err = ErrNotAFile
	}

	return err
}
