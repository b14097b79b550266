package sirius

import (
	"context"
	"errors"
	"io"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"google.golang.org/grpc/codes"
)

const (
	opList   = "list files"
	opMounts = "mounts"
)

// ListFiles returns a lazy sequence of the entries under dir ("" means the
// mount root). The call is opened on the first pull and entries are yielded
// as they arrive. A failure is yielded once as a terminal (FileEntry{}, err)
// element. The sequence is single-use; ranging over it again yields
// ErrListingConsumed. Breaking out of the loop cancels the call.
func (s *Session) ListFiles(ctx context.Context, groupID, mountID, dir string) iter.Seq2[FileEntry, error] {
	var used atomic.Bool

	return func(yield func(FileEntry, error) bool) {
		if used.Swap(true) {
			yield(FileEntry{}, ErrListingConsumed)
			return
		}

		if err := validateTarget(groupID, mountID); err != nil {
			yield(FileEntry{}, err)
			return
		}

		if dir == "" {
			dir = "/"
		}

		s.listFiles(ctx, groupID, mountID, dir, yield)
	}
}

func (s *Session) listFiles(
	ctx context.Context, groupID, mountID, dir string, yield func(FileEntry, error) bool,
) {
	ctx, cancel := s.callContext(ctx, groupID)
	defer cancel()

	start := time.Now()

	stream, err := s.conn.NewStream(ctx, &filesListStreamDesc, methodFilesList)
	if err != nil {
		yield(FileEntry{}, s.fail(opList, methodFilesList, start, err))
		return
	}

	if err := stream.SendMsg(&FilesListRequest{MountID: mountID, Path: dir}); err != nil && !errors.Is(err, io.EOF) {
		yield(FileEntry{}, s.fail(opList, methodFilesList, start, err))
		return
	}

	if err := stream.CloseSend(); err != nil {
		yield(FileEntry{}, s.fail(opList, methodFilesList, start, err))
		return
	}

	var count int

	for {
		var resp FilesListResponse

		err := stream.RecvMsg(&resp)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			yield(FileEntry{}, s.fail(opList, methodFilesList, start, err))
			return
		}

		for _, entry := range resp.Files {
			if entry.Name == "" {
				yield(FileEntry{}, s.malformed(methodFilesList, start, "entry %q has no name", entry.Path))
				return
			}

			if entry.MountID == "" {
				entry.MountID = mountID
			}

			count++

			if !yield(entry, nil) {
				s.observer.CallFinished(methodFilesList, codes.Canceled, time.Since(start))
				return
			}
		}
	}

	s.succeed(methodFilesList, start)

	s.logger.Debug("listing complete",
		slog.String("mount_id", mountID),
		slog.String("path", dir),
		slog.Int("entries", count),
	)
}

// Mounts returns every mount visible to groupID.
func (s *Session) Mounts(ctx context.Context, groupID string) ([]Mount, error) {
	if groupID == "" {
		return nil, ErrMissingGroup
	}

	ctx, cancel := s.callContext(ctx, groupID)
	defer cancel()

	start := time.Now()

	var resp MountsResponse
	if err := s.conn.Invoke(ctx, methodMounts, &MountsRequest{}, &resp); err != nil {
		return nil, s.fail(opMounts, methodMounts, start, err)
	}

	for i := range resp.Mounts {
		if resp.Mounts[i].ID == "" {
			return nil, s.malformed(methodMounts, start, "mount %d (%q) has no id", i, resp.Mounts[i].Name)
		}
	}

	s.succeed(methodMounts, start)

	return resp.Mounts, nil
}
