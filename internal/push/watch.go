package push

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch error backoff.
const (
	watchErrInitBackoff = time.Second
	watchErrMaxBackoff  = time.Minute
	watchErrBackoffMult = 2
)

// FsWatcher is the subset of *fsnotify.Watcher that Watch uses.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	*fsnotify.Watcher
}

func (w fsnotifyWatcher) Events() <-chan fsnotify.Event { return w.Watcher.Events }
func (w fsnotifyWatcher) Errors() <-chan error          { return w.Watcher.Errors }

func newFsnotifyWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return fsnotifyWatcher{w}, nil
}

// Watch pushes localDir once, then keeps watching it and pushes files as
// they are created or written. Events on a path are coalesced until it has
// been quiet for the configured debounce. Removed files are forgotten by the
// ledger. Watch returns when ctx is canceled.
func (p *Pusher) Watch(ctx context.Context, localDir, remotePrefix string) error {
	root, prefix, err := p.folderTarget(localDir, remotePrefix)
	if err != nil {
		return err
	}

	watcher, err := p.newWatcher()
	if err != nil {
		return fmt.Errorf("push: creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watches go in before the initial push so nothing written during it is lost.
	if err := addTree(watcher, root); err != nil {
		return err
	}

	report, err := p.PushFolder(ctx, root, remotePrefix)
	if err != nil && !p.cfg.KeepGoing {
		return err
	}

	p.logger.Info("watching for changes",
		slog.String("local", root),
		slog.Int("initial_uploaded", report.Uploaded),
		slog.Duration("debounce", p.cfg.Debounce),
	)

	if p.watchReady != nil {
		p.watchReady()
	}

	w := &watchState{
		p:       p,
		root:    root,
		prefix:  prefix,
		watcher: watcher,
		pending: make(map[string]time.Time),
	}

	return w.loop(ctx)
}

type watchState struct {
	p       *Pusher
	root    string
	prefix  string
	watcher FsWatcher
	pending map[string]time.Time // local path -> last event
}

func (w *watchState) loop(ctx context.Context) error {
	logger := w.p.logger
	errBackoff := watchErrInitBackoff

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events():
			if !ok {
				return nil
			}

			if w.handle(ctx, ev) {
				if timer == nil {
					timer = time.NewTimer(w.p.cfg.Debounce)
				} else {
					timer.Reset(w.p.cfg.Debounce)
				}

				timerCh = timer.C
			}

			errBackoff = watchErrInitBackoff

		case <-timerCh:
			timerCh = nil
			if next := w.flush(ctx); next > 0 {
				timer.Reset(next)
				timerCh = timer.C
			}

		case watchErr, ok := <-w.watcher.Errors():
			if !ok {
				return nil
			}

			logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := timeSleep(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)
		}
	}
}

// handle records ev and reports whether something is now pending.
func (w *watchState) handle(ctx context.Context, ev fsnotify.Event) bool {
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		w.pending[ev.Name] = time.Now()
		return true

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		delete(w.pending, ev.Name)
		w.forget(ctx, ev.Name)
	}

	return false
}

// flush pushes every path that has been quiet for the debounce and returns
// how long until the next pending path is due, or 0 if none remain.
func (w *watchState) flush(ctx context.Context) time.Duration {
	var (
		due  []job
		next time.Duration
		now  = time.Now()
	)

	for local, last := range w.pending {
		if wait := w.p.cfg.Debounce - now.Sub(last); wait > 0 {
			if next == 0 || wait < next {
				next = wait
			}

			continue
		}

		delete(w.pending, local)
		due = append(due, w.jobsFor(local)...)
	}

	if len(due) > 0 {
		report := &Report{}
		if err := w.p.run(ctx, due, report); err != nil {
			w.p.logger.Warn("watch push failed", slog.String("error", err.Error()))
		}

		w.p.logger.Info("pushed changes",
			slog.Int("uploaded", report.Uploaded),
			slog.Int("skipped", report.Skipped),
			slog.Int("failed", report.Failed),
		)
	}

	return next
}

// jobsFor turns a changed path into upload jobs. A new directory is added to
// the watch and its current files are pushed.
func (w *watchState) jobsFor(local string) []job {
	info, err := os.Lstat(local)
	if err != nil {
		w.p.logger.Debug("changed path vanished", slog.String("path", local))
		return nil
	}

	if info.IsDir() {
		if err := addTree(w.watcher, local); err != nil {
			w.p.logger.Warn("adding watch failed", slog.String("path", local), slog.String("error", err.Error()))
		}

		jobs, err := w.p.scan(local, w.remoteFor(local))
		if err != nil {
			w.p.logger.Warn("scanning new directory failed", slog.String("path", local), slog.String("error", err.Error()))
		}

		return jobs
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	return []job{{local: local, remote: w.remoteFor(local), info: info}}
}

func (w *watchState) forget(ctx context.Context, local string) {
	if w.p.cfg.Ledger == nil {
		return
	}

	remote := w.remoteFor(local)
	if err := w.p.cfg.Ledger.Forget(ctx, w.p.cfg.MountID, remote); err != nil {
		w.p.logger.Warn("forgetting removed file failed", slog.String("remote", remote), slog.String("error", err.Error()))
	}
}

func (w *watchState) remoteFor(local string) string {
	rel, err := filepath.Rel(w.root, local)
	if err != nil {
		rel = filepath.Base(local)
	}

	return remoteJoin(w.prefix, rel)
}

// addTree watches dir and every directory below it.
func addTree(watcher FsWatcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return fmt.Errorf("push: walking %s: %w", p, err)
		}

		if !d.IsDir() {
			return nil
		}

		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("push: watching %s: %w", p, err)
		}

		return nil
	})
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
