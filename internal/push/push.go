// Package push copies local files and folders to a Sirius mount. The service
// has no directory upload, so a folder is pushed one file at a time through
// a bounded worker pool. An optional upload ledger lets repeated pushes skip
// files that have not changed.
package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"

	"github.com/athera-io/athera-sync/internal/ledger"
	"github.com/athera-io/athera-sync/internal/sirius"
)

const defaultParallel = 4

// Results reported to the Observer for each file.
const (
	ResultUploaded = "uploaded"
	ResultSkipped  = "skipped"
	ResultFailed   = "failed"
)

// ErrNotADirectory is returned when PushFolder or Watch is given a file.
var ErrNotADirectory = errors.New("push: not a directory")

// Uploader sends one file to the service. *sirius.Session implements it.
type Uploader interface {
	Upload(ctx context.Context, groupID, mountID string, r io.Reader, destPath string, chunkSize int64) (*sirius.UploadAck, error)
}

// Ledger remembers completed uploads. *ledger.Ledger implements it.
type Ledger interface {
	Unchanged(ctx context.Context, mountID, remotePath string, size int64, mtime time.Time) (bool, error)
	Record(ctx context.Context, e ledger.Entry) error
	Forget(ctx context.Context, mountID, remotePath string) error
}

// Observer is told the outcome of every file.
type Observer interface {
	FilePushed(result string)
}

// Config configures a Pusher. Uploader, GroupID and MountID are required.
type Config struct {
	Uploader  Uploader
	Ledger    Ledger // nil disables skipping
	Observer  Observer
	Logger    *slog.Logger
	GroupID   string
	MountID   string
	ChunkSize int64 // 0 selects sirius.DefaultChunkSize
	Parallel  int   // 0 selects 4
	// BandwidthLimit caps the combined upload rate in bytes per second.
	BandwidthLimit int64
	// Debounce is how long Watch waits after the last event on a path.
	Debounce time.Duration
	// Force uploads every file regardless of the ledger.
	Force bool
	// KeepGoing records per-file failures instead of stopping at the first.
	KeepGoing bool
}

// Pusher uploads files to one mount.
type Pusher struct {
	cfg     Config
	limiter *BandwidthLimiter
	logger  *slog.Logger

	newWatcher func() (FsWatcher, error)
	// watchReady runs once Watch has registered its watches.
	watchReady func()
}

// New validates cfg and returns a Pusher.
func New(cfg Config) (*Pusher, error) {
	if cfg.Uploader == nil {
		return nil, errors.New("push: no uploader configured")
	}

	if cfg.GroupID == "" {
		return nil, sirius.ErrMissingGroup
	}

	if cfg.MountID == "" {
		return nil, sirius.ErrMissingMount
	}

	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = sirius.DefaultChunkSize
	}

	if cfg.ChunkSize < 0 || cfg.ChunkSize > sirius.MaxChunkSize {
		return nil, fmt.Errorf("%w: %d", sirius.ErrInvalidChunkSize, cfg.ChunkSize)
	}

	if cfg.Parallel <= 0 {
		cfg.Parallel = defaultParallel
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Pusher{
		cfg:        cfg,
		limiter:    NewBandwidthLimiter(cfg.BandwidthLimit, logger),
		logger:     logger,
		newWatcher: newFsnotifyWatcher,
	}, nil
}

// FileError is a failure to push one file.
type FileError struct {
	LocalPath  string
	RemotePath string
	Err        error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("push: %s -> %s: %v", e.LocalPath, e.RemotePath, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// Report summarizes a push.
type Report struct {
	Uploaded int
	Skipped  int
	Failed   int
	Bytes    int64
	Errors   []*FileError
	Elapsed  time.Duration

	mu sync.Mutex
}

func (r *Report) add(result string, bytes int64, ferr *FileError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch result {
	case ResultUploaded:
		r.Uploaded++
		r.Bytes += bytes
	case ResultSkipped:
		r.Skipped++
	case ResultFailed:
		r.Failed++
		r.Errors = append(r.Errors, ferr)
	}
}

// job is one file to push.
type job struct {
	local  string
	remote string
	info   fs.FileInfo
}

// PushFolder uploads every regular file under localDir. Each destination is
// remotePrefix joined with the file's slash-separated relative path. An empty
// remotePrefix uses the folder's base name; "/" targets the mount root.
func (p *Pusher) PushFolder(ctx context.Context, localDir, remotePrefix string) (*Report, error) {
	start := time.Now()
	report := &Report{}

	root, prefix, err := p.folderTarget(localDir, remotePrefix)
	if err != nil {
		return report, err
	}

	jobs, err := p.scan(root, prefix)
	if err != nil {
		return report, err
	}

	p.logger.Info("pushing folder",
		slog.String("local", root),
		slog.String("remote", prefix),
		slog.Int("files", len(jobs)),
		slog.Int("workers", p.cfg.Parallel),
	)

	err = p.run(ctx, jobs, report)
	report.Elapsed = time.Since(start)

	p.logger.Info("push finished",
		slog.Int("uploaded", report.Uploaded),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
		slog.Int64("bytes", report.Bytes),
		slog.Duration("elapsed", report.Elapsed),
	)

	return report, err
}

// PushFile uploads a single file. An empty remotePath uses the file's base
// name; a remotePath ending in "/" appends it.
func (p *Pusher) PushFile(ctx context.Context, localPath, remotePath string) (*Report, error) {
	start := time.Now()
	report := &Report{}

	info, err := os.Stat(localPath)
	if err != nil {
		return report, fmt.Errorf("push: %w", err)
	}

	if info.IsDir() {
		return report, fmt.Errorf("push: %s is a directory", localPath)
	}

	base := filepath.Base(localPath)

	switch {
	case remotePath == "":
		remotePath = base
	case strings.HasSuffix(remotePath, "/"):
		remotePath += base
	}

	j := job{local: localPath, remote: remoteJoin("", remotePath), info: info}

	err = p.run(ctx, []job{j}, report)
	report.Elapsed = time.Since(start)

	return report, err
}

func (p *Pusher) folderTarget(localDir, remotePrefix string) (string, string, error) {
	root, err := filepath.Abs(localDir)
	if err != nil {
		return "", "", fmt.Errorf("push: resolving %s: %w", localDir, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return "", "", fmt.Errorf("push: %w", err)
	}

	if !info.IsDir() {
		return "", "", fmt.Errorf("%w: %s", ErrNotADirectory, localDir)
	}

	if remotePrefix == "" {
		remotePrefix = filepath.Base(root)
	}

	return root, remoteJoin(remotePrefix, ""), nil
}

// scan lists the regular files under root. Symlinks and other special files
// are skipped.
func (p *Pusher) scan(root, prefix string) ([]job, error) {
	var jobs []job

	err := filepath.WalkDir(root, func(fsPath string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("push: walking %s: %w", fsPath, walkErr)
		}

		if d.IsDir() || !d.Type().IsRegular() {
			if !d.IsDir() {
				p.logger.Debug("skipping non-regular file", slog.String("path", fsPath))
			}

			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("push: stat %s: %w", fsPath, err)
		}

		rel, err := filepath.Rel(root, fsPath)
		if err != nil {
			return fmt.Errorf("push: relative path of %s: %w", fsPath, err)
		}

		jobs = append(jobs, job{local: fsPath, remote: remoteJoin(prefix, rel), info: info})

		return nil
	})

	return jobs, err
}

// run pushes jobs through a bounded errgroup.
func (p *Pusher) run(ctx context.Context, jobs []job, report *Report) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Parallel)

	for _, j := range jobs {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			result, n, err := p.pushOne(gctx, j)
			if err == nil {
				report.add(result, n, nil)
				return nil
			}

			// Failures caused by a sibling's cancellation are not the file's fault.
			if gctx.Err() != nil && ctx.Err() == nil && !p.cfg.KeepGoing {
				return nil
			}

			ferr := &FileError{LocalPath: j.local, RemotePath: j.remote, Err: err}
			report.add(ResultFailed, 0, ferr)
			p.observe(ResultFailed)

			p.logger.Warn("push failed",
				slog.String("local", j.local),
				slog.String("remote", j.remote),
				slog.String("error", err.Error()),
			)

			if p.cfg.KeepGoing {
				return nil
			}

			return ferr
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

// pushOne uploads j unless the ledger shows it unchanged.
func (p *Pusher) pushOne(ctx context.Context, j job) (string, int64, error) {
	size := j.info.Size()
	mtime := j.info.ModTime()

	if p.cfg.Ledger != nil && !p.cfg.Force {
		same, err := p.cfg.Ledger.Unchanged(ctx, p.cfg.MountID, j.remote, size, mtime)
		if err != nil {
			p.logger.Warn("ledger lookup failed, uploading anyway",
				slog.String("remote", j.remote), slog.String("error", err.Error()))
		} else if same {
			p.logger.Debug("unchanged, skipping", slog.String("remote", j.remote))
			p.observe(ResultSkipped)

			return ResultSkipped, 0, nil
		}
	}

	f, err := os.Open(j.local)
	if err != nil {
		return ResultFailed, 0, err
	}
	defer f.Close()

	ack, err := p.cfg.Uploader.Upload(ctx, p.cfg.GroupID, p.cfg.MountID,
		p.limiter.WrapReader(ctx, f), j.remote, p.cfg.ChunkSize)
	if err != nil {
		return ResultFailed, 0, err
	}

	p.logger.Debug("pushed file",
		slog.String("local", j.local),
		slog.String("remote", ack.Path),
		slog.Int64("bytes", ack.BytesSent),
	)

	if p.cfg.Ledger != nil {
		err := p.cfg.Ledger.Record(ctx, ledger.Entry{
			MountID:    p.cfg.MountID,
			RemotePath: j.remote,
			LocalPath:  j.local,
			Size:       ack.BytesSent,
			ModTime:    mtime,
			ChunkSize:  p.cfg.ChunkSize,
		})
		if err != nil {
			p.logger.Warn("recording upload in ledger failed",
				slog.String("remote", j.remote), slog.String("error", err.Error()))
		}
	}

	p.observe(ResultUploaded)

	return ResultUploaded, ack.BytesSent, nil
}

func (p *Pusher) observe(result string) {
	if p.cfg.Observer != nil {
		p.cfg.Observer.FilePushed(result)
	}
}

// remoteJoin joins a remote prefix and a local relative path into an
// NFC-normalized slash path without leading or trailing slashes.
func remoteJoin(prefix, rel string) string {
	joined := path.Join("/", prefix, filepath.ToSlash(rel))
	return norm.NFC.String(strings.TrimPrefix(joined, "/"))
}
