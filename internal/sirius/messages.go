package sirius

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxChunkSize is the largest chunk a download or upload may request.
const MaxChunkSize int64 = 1 << 20

// DefaultChunkSize is used by callers that have no configured chunk size.
const DefaultChunkSize = MaxChunkSize

// FileType classifies a listing entry.
type FileType int32

const (
	FileTypeUnknown FileType = iota
	FileTypeDirectory
	FileTypeFile
	FileTypeSequence
)

func (t FileType) String() string {
	switch t {
	case FileTypeDirectory:
		return "directory"
	case FileTypeFile:
		return "file"
	case FileTypeSequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// Mount is a storage location visible to a group.
type Mount struct {
	ID            string
	Name          string
	MountLocation string
	GroupID       string
}

// FileEntry is one remote object returned by a directory listing. Path is
// relative to the mount root.
type FileEntry struct {
	Path    string
	Name    string
	MountID string
	Size    int64
	Type    FileType
}

// MountsRequest asks for the mounts of the active group.
type MountsRequest struct{}

// MountsResponse carries every mount visible to the active group.
type MountsResponse struct {
	Mounts []Mount
}

// FilesListRequest asks for the entries of a directory.
type FilesListRequest struct {
	MountID string
	Path    string
}

// FilesListResponse carries one batch of directory entries.
type FilesListResponse struct {
	Files []FileEntry
}

// FileContentsRequest asks for the contents of a single file.
type FileContentsRequest struct {
	MountID   string
	Path      string
	ChunkSize int64
}

// FileContentsChunk is one slice of a downloaded file.
type FileContentsChunk struct {
	ChunkSize int64
	Bytes     []byte
}

// FileUploadChunk is one slice of an uploaded file.
type FileUploadChunk struct {
	ChunkSize int64
	Bytes     []byte
}

// FileUploadResponse acknowledges a completed upload.
type FileUploadResponse struct {
	Path string
	Size int64
}

// message is implemented by every type sent over the wire.
type message interface {
	appendWire(b []byte) []byte
	readWire(b []byte) error
}

func (m *Mount) appendWire(b []byte) []byte {
	b = appendString(b, 1, m.ID)
	b = appendString(b, 2, m.Name)
	b = appendString(b, 3, m.MountLocation)

	return appendString(b, 4, m.GroupID)
}

func (m *Mount) readWire(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, v, &m.ID)
		case 2:
			return consumeString(typ, v, &m.Name)
		case 3:
			return consumeString(typ, v, &m.MountLocation)
		case 4:
			return consumeString(typ, v, &m.GroupID)
		}

		return -1, nil
	})
}

func (f *FileEntry) appendWire(b []byte) []byte {
	b = appendString(b, 1, f.Path)
	b = appendString(b, 2, f.Name)
	b = appendString(b, 3, f.MountID)
	b = appendInt64(b, 4, f.Size)

	return appendInt64(b, 5, int64(f.Type))
}

func (f *FileEntry) readWire(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, v, &f.Path)
		case 2:
			return consumeString(typ, v, &f.Name)
		case 3:
			return consumeString(typ, v, &f.MountID)
		case 4:
			return consumeInt64(typ, v, &f.Size)
		case 5:
			var t int64
			n, err := consumeInt64(typ, v, &t)
			f.Type = FileType(t)

			return n, err
		}

		return -1, nil
	})
}

func (*MountsRequest) appendWire(b []byte) []byte { return b }

func (*MountsRequest) readWire(b []byte) error {
	return consumeFields(b, func(protowire.Number, protowire.Type, []byte) (int, error) {
		return -1, nil
	})
}

func (r *MountsResponse) appendWire(b []byte) []byte {
	for i := range r.Mounts {
		b = appendMessage(b, 1, &r.Mounts[i])
	}

	return b
}

func (r *MountsResponse) readWire(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num != 1 {
			return -1, nil
		}

		var m Mount
		n, err := consumeMessage(typ, v, &m)
		if n > 0 && err == nil {
			r.Mounts = append(r.Mounts, m)
		}

		return n, err
	})
}

func (r *FilesListRequest) appendWire(b []byte) []byte {
	b = appendString(b, 1, r.MountID)

	return appendString(b, 2, r.Path)
}

func (r *FilesListRequest) readWire(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, v, &r.MountID)
		case 2:
			return consumeString(typ, v, &r.Path)
		}

		return -1, nil
	})
}

func (r *FilesListResponse) appendWire(b []byte) []byte {
	for i := range r.Files {
		b = appendMessage(b, 1, &r.Files[i])
	}

	return b
}

func (r *FilesListResponse) readWire(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if num != 1 {
			return -1, nil
		}

		var f FileEntry
		n, err := consumeMessage(typ, v, &f)
		if n > 0 && err == nil {
			r.Files = append(r.Files, f)
		}

		return n, err
	})
}

func (r *FileContentsRequest) appendWire(b []byte) []byte {
	b = appendString(b, 1, r.MountID)
	b = appendString(b, 2, r.Path)

	return appendInt64(b, 3, r.ChunkSize)
}

func (r *FileContentsRequest) readWire(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, v, &r.MountID)
		case 2:
			return consumeString(typ, v, &r.Path)
		case 3:
			return consumeInt64(typ, v, &r.ChunkSize)
		}

		return -1, nil
	})
}

func (c *FileContentsChunk) appendWire(b []byte) []byte {
	b = appendInt64(b, 1, c.ChunkSize)

	return appendBytes(b, 2, c.Bytes)
}

func (c *FileContentsChunk) readWire(b []byte) error {
	return readChunkFields(b, &c.ChunkSize, &c.Bytes)
}

func (c *FileUploadChunk) appendWire(b []byte) []byte {
	b = appendInt64(b, 1, c.ChunkSize)

	return appendBytes(b, 2, c.Bytes)
}

func (c *FileUploadChunk) readWire(b []byte) error {
	return readChunkFields(b, &c.ChunkSize, &c.Bytes)
}

func (r *FileUploadResponse) appendWire(b []byte) []byte {
	b = appendString(b, 1, r.Path)

	return appendInt64(b, 2, r.Size)
}

func (r *FileUploadResponse) readWire(b []byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return consumeString(typ, v, &r.Path)
		case 2:
			return consumeInt64(typ, v, &r.Size)
		}

		return -1, nil
	})
}

func readChunkFields(b []byte, size *int64, data *[]byte) error {
	return consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt64(typ, v, size)
		case 2:
			return consumeBytes(typ, v, data)
		}

		return -1, nil
	})
}

// consumeFields walks the fields of an encoded message. fn returns the number
// of value bytes it consumed, or -1 to have the field skipped.
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return wireError(n)
		}

		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}

		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return wireError(m)
			}
		}

		b = b[m:]
	}

	return nil
}

func wireError(n int) error {
	return fmt.Errorf("%w: %w", ErrMalformedResponse, protowire.ParseError(n))
}

// Field readers return -1 on a wire-type mismatch so the field is skipped
// like an unknown field.

func consumeString(typ protowire.Type, b []byte, dst *string) (int, error) {
	if typ != protowire.BytesType {
		return -1, nil
	}

	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, wireError(n)
	}

	*dst = v

	return n, nil
}

func consumeInt64(typ protowire.Type, b []byte, dst *int64) (int, error) {
	if typ != protowire.VarintType {
		return -1, nil
	}

	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, wireError(n)
	}

	*dst = int64(v)

	return n, nil
}

// consumeBytes copies the value: gRPC recycles the receive buffer once
// Unmarshal returns.
func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return -1, nil
	}

	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, wireError(n)
	}

	*dst = append([]byte(nil), v...)

	return n, nil
}

func consumeMessage(typ protowire.Type, b []byte, m message) (int, error) {
	if typ != protowire.BytesType {
		return -1, nil
	}

	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, wireError(n)
	}

	if err := m.readWire(v); err != nil {
		return 0, err
	}

	return n, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}

	b = protowire.AppendTag(b, num, protowire.BytesType)

	return protowire.AppendString(b, s)
}

func appendInt64(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}

	b = protowire.AppendTag(b, num, protowire.VarintType)

	return protowire.AppendVarint(b, uint64(v))
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}

	b = protowire.AppendTag(b, num, protowire.BytesType)

	return protowire.AppendBytes(b, v)
}

func appendMessage(b []byte, num protowire.Number, m message) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)

	return protowire.AppendBytes(b, m.appendWire(nil))
}
