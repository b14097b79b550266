package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/athera-io/athera-sync/internal/config"
	"github.com/athera-io/athera-sync/internal/ledger"
	"github.com/athera-io/athera-sync/internal/push"
)

func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <mount-id> <local-dir> [remote-prefix]",
		Short: "Upload a folder, skipping files already sent",
		Long: `Upload every file under a local folder, one file per call. Destinations are
the remote prefix (default: the folder's name; "/" for the mount root) joined
with each file's relative path.

Files whose size and modification time match the upload ledger are skipped
unless --force is given. With --watch the folder keeps being watched and new or
changed files are uploaded until interrupted. Only one watcher may run at a time.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: runPush,
	}

	cmd.Flags().String("chunk-size", "", "bytes per sent chunk (default from config)")
	cmd.Flags().Bool("force", false, "upload every file, ignoring the upload ledger")
	cmd.Flags().Bool("keep-going", false, "continue past failed files and report them at the end")
	cmd.Flags().Bool("watch", false, "keep watching the folder and upload changes")

	return cmd
}

func newUploadsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uploads <mount-id>",
		Short: "Show files recorded in the upload ledger for a mount",
		Args:  cobra.ExactArgs(1),
		RunE:  runUploads,
	}
}

func runPush(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)
	mountID, localDir := args[0], args[1]

	prefix := ""
	if len(args) > 2 {
		prefix = args[2]
	}

	chunkSize, err := chunkSizeFlag(cmd, cc)
	if err != nil {
		return err
	}

	force, _ := cmd.Flags().GetBool("force")
	keepGoing, _ := cmd.Flags().GetBool("keep-going")
	watch, _ := cmd.Flags().GetBool("watch")

	group, err := cc.groupID()
	if err != nil {
		return err
	}

	if watch {
		release, err := writePIDFile(config.DefaultPIDPath())
		if err != nil {
			return err
		}
		defer release()
	}

	session, err := cc.newSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	led, err := ledger.Open(ctx, cc.Cfg.LedgerPath, cc.Logger)
	if err != nil {
		return err
	}
	defer led.Close()

	pusher, err := push.New(push.Config{
		Uploader:       session,
		Ledger:         led,
		Observer:       cc.Metrics,
		Logger:         cc.Logger,
		GroupID:        group,
		MountID:        mountID,
		ChunkSize:      chunkSize,
		Parallel:       cc.Cfg.ParallelUploads,
		BandwidthLimit: cc.Cfg.BandwidthLimit,
		Debounce:       cc.Cfg.WatchDebounce,
		Force:          force,
		KeepGoing:      keepGoing,
	})
	if err != nil {
		return err
	}

	if watch {
		cc.Statusf("Watching %s (Ctrl-C to stop)\n", localDir)
		return pusher.Watch(ctx, localDir, prefix)
	}

	report, err := pusher.PushFolder(ctx, localDir, prefix)
	printPushReport(cc, report)

	if err != nil {
		return err
	}

	if report.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", report.Failed, report.Uploaded+report.Skipped+report.Failed)
	}

	return nil
}

type pushReportJSON struct {
	Uploaded int      `json:"uploaded"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Bytes    int64    `json:"bytes"`
	Seconds  float64  `json:"seconds"`
	Errors   []string `json:"errors,omitempty"`
}

func printPushReport(cc *CLIContext, report *push.Report) {
	if cc.Flags.JSON {
		out := pushReportJSON{
			Uploaded: report.Uploaded,
			Skipped:  report.Skipped,
			Failed:   report.Failed,
			Bytes:    report.Bytes,
			Seconds:  report.Elapsed.Seconds(),
		}

		for _, e := range report.Errors {
			out.Errors = append(out.Errors, e.Error())
		}

		if err := printJSON(cc.Out, out); err != nil {
			cc.Logger.Warn("writing report failed", slog.String("error", err.Error()))
		}

		return
	}

	for _, e := range report.Errors {
		fmt.Fprintf(os.Stderr, "  failed: %s: %v\n", e.LocalPath, e.Err)
	}

	cc.Statusf("Uploaded %d, skipped %d, failed %d (%s in %s, %s)\n",
		report.Uploaded, report.Skipped, report.Failed,
		formatSize(report.Bytes), report.Elapsed.Round(time.Millisecond), formatRate(report.Bytes, report.Elapsed))
}

func runUploads(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	led, err := ledger.Open(ctx, cc.Cfg.LedgerPath, cc.Logger)
	if err != nil {
		return err
	}
	defer led.Close()

	entries, err := led.List(ctx, args[0])
	if err != nil {
		return err
	}

	if cc.Flags.JSON {
		if entries == nil {
			entries = []ledger.Entry{}
		}

		return printJSON(cc.Out, entries)
	}

	if len(entries) == 0 {
		cc.Statusf("No uploads recorded for mount %s.\n", args[0])
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.RemotePath, formatSize(e.Size), formatTime(e.UploadedAt), e.LocalPath})
	}

	printTable(cc.Out, []string{"REMOTE PATH", "SIZE", "UPLOADED", "LOCAL PATH"}, rows)

	return nil
}
