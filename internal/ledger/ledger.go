// Package ledger records completed uploads in a local SQLite database so a
// folder push can skip files that have not changed since they were last sent.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

const (
	sqlLookup = `SELECT size, mtime FROM uploads WHERE mount_id = ? AND remote_path = ?`

	sqlUpsert = `INSERT INTO uploads
		(mount_id, remote_path, local_path, size, mtime, chunk_size, uploaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(mount_id, remote_path) DO UPDATE SET
		 local_path = excluded.local_path,
		 size = excluded.size,
		 mtime = excluded.mtime,
		 chunk_size = excluded.chunk_size,
		 uploaded_at = excluded.uploaded_at`

	sqlDelete = `DELETE FROM uploads WHERE mount_id = ? AND remote_path = ?`

	sqlList = `SELECT mount_id, remote_path, local_path, size, mtime, chunk_size, uploaded_at
		FROM uploads WHERE mount_id = ? ORDER BY remote_path`
)

// Entry is one completed upload.
type Entry struct {
	MountID    string    `json:"mount_id"`
	RemotePath string    `json:"remote_path"`
	LocalPath  string    `json:"local_path"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mtime"`
	ChunkSize  int64     `json:"chunk_size"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Ledger is the upload database. It is safe for concurrent use; writes are
// serialized through a single connection.
type Ledger struct {
	db      *sql.DB
	path    string
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the ledger at path and applies migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("ledger: creating directory for %s: %w", path, err)
	}

	// DSN pragmas apply to every connection the pool opens.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)",
		path,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("ledger opened", slog.String("path", path))

	return &Ledger{db: db, path: path, logger: logger, nowFunc: time.Now}, nil
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

// Close releases the database.
func (l *Ledger) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("ledger: closing %s: %w", l.path, err)
	}

	return nil
}

// Unchanged reports whether remotePath on mountID was last uploaded from a
// file of exactly this size and modification time.
func (l *Ledger) Unchanged(ctx context.Context, mountID, remotePath string, size int64, mtime time.Time) (bool, error) {
	var (
		gotSize  int64
		gotMtime int64
	)

	err := l.db.QueryRowContext(ctx, sqlLookup, mountID, remotePath).Scan(&gotSize, &gotMtime)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("ledger: looking up %s: %w", remotePath, err)
	}

	return gotSize == size && gotMtime == mtime.UnixNano(), nil
}

// Record stores e, replacing any previous entry for the same remote path.
// A zero UploadedAt is set to the current time.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.MountID == "" || e.RemotePath == "" {
		return fmt.Errorf("ledger: entry needs a mount id and remote path")
	}

	if e.UploadedAt.IsZero() {
		e.UploadedAt = l.nowFunc()
	}

	_, err := l.db.ExecContext(ctx, sqlUpsert,
		e.MountID, e.RemotePath, e.LocalPath, e.Size,
		e.ModTime.UnixNano(), e.ChunkSize, e.UploadedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("ledger: recording %s: %w", e.RemotePath, err)
	}

	return nil
}

// Forget removes the entry for remotePath. Forgetting an unknown path is not
// an error.
func (l *Ledger) Forget(ctx context.Context, mountID, remotePath string) error {
	if _, err := l.db.ExecContext(ctx, sqlDelete, mountID, remotePath); err != nil {
		return fmt.Errorf("ledger: forgetting %s: %w", remotePath, err)
	}

	return nil
}

// List returns every entry for mountID ordered by remote path.
func (l *Ledger) List(ctx context.Context, mountID string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx, sqlList, mountID)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing %s: %w", mountID, err)
	}
	defer rows.Close()

	var out []Entry

	for rows.Next() {
		var (
			e          Entry
			mtime      int64
			uploadedAt int64
		)

		if err := rows.Scan(&e.MountID, &e.RemotePath, &e.LocalPath, &e.Size, &mtime, &e.ChunkSize, &uploadedAt); err != nil {
			return nil, fmt.Errorf("ledger: scanning row: %w", err)
		}

		e.ModTime = time.Unix(0, mtime)
		e.UploadedAt = time.Unix(0, uploadedAt)
		out = append(out, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterating rows: %w", err)
	}

	return out, nil
}
