package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/athera-io/athera-sync/internal/config"
	"github.com/athera-io/athera-sync/internal/push"
	"github.com/athera-io/athera-sync/internal/sirius"
)

func newRegionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regions",
		Short: "List known Sirius regions and their endpoints",
		Args:  cobra.NoArgs,
		RunE:  runRegions,
	}
}

func newMountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mounts",
		Short: "List storage mounts visible to the active group",
		Args:  cobra.NoArgs,
		RunE:  runMounts,
	}
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <mount-id> [path]",
		Short: "List a directory on a mount",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runLs,
	}
}

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <mount-id> <remote-path> [local-path]",
		Short: "Download a file",
		Long: `Download a file from a mount. The file is written to <local-path>.partial
and renamed once complete; a failed download leaves the partial file behind.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: runGet,
	}

	cmd.Flags().String("chunk-size", "", "maximum bytes per received chunk (default from config)")

	return cmd
}

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <mount-id> <local-path> [remote-path]",
		Short: "Upload a file",
		Long: `Upload a single file. The remote path defaults to the file's name at the
mount root; a remote path ending in "/" keeps the file's name inside it.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: runPut,
	}

	cmd.Flags().String("chunk-size", "", "bytes per sent chunk (default from config)")

	return cmd
}

// chunkSizeFlag returns --chunk-size when given, else the configured size.
func chunkSizeFlag(cmd *cobra.Command, cc *CLIContext) (int64, error) {
	if !cmd.Flags().Changed("chunk-size") {
		return cc.Cfg.ChunkSize, nil
	}

	raw, err := cmd.Flags().GetString("chunk-size")
	if err != nil {
		return 0, err
	}

	n, err := config.ParseSize(raw)
	if err != nil {
		return 0, fmt.Errorf("--chunk-size: %w", err)
	}

	if n <= 0 || n > sirius.MaxChunkSize {
		return 0, fmt.Errorf("--chunk-size: %w: %d", sirius.ErrInvalidChunkSize, n)
	}

	return n, nil
}

type regionJSON struct {
	Region   string `json:"region"`
	Endpoint string `json:"endpoint"`
	Active   bool   `json:"active"`
}

func runRegions(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	names := slices.Sorted(maps.Keys(cc.Cfg.Regions))

	out := make([]regionJSON, 0, len(names))
	for _, name := range names {
		out = append(out, regionJSON{
			Region:   name,
			Endpoint: cc.Cfg.Regions[name],
			Active:   cc.Cfg.Endpoint == "" && name == cc.Cfg.Region,
		})
	}

	if cc.Flags.JSON {
		return printJSON(cc.Out, out)
	}

	rows := make([][]string, 0, len(out))
	for _, r := range out {
		marker := ""
		if r.Active {
			marker = "*"
		}

		rows = append(rows, []string{marker, r.Region, r.Endpoint})
	}

	printTable(cc.Out, []string{"", "REGION", "ENDPOINT"}, rows)

	if cc.Cfg.Endpoint != "" {
		cc.Statusf("Endpoint override in effect: %s\n", cc.Cfg.Endpoint)
	}

	return nil
}

type mountJSON struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
	GroupID  string `json:"group_id"`
}

func runMounts(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)

	group, err := cc.groupID()
	if err != nil {
		return err
	}

	session, err := cc.newSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	mounts, err := session.Mounts(ctx, group)
	if err != nil {
		return fmt.Errorf("listing mounts: %w", err)
	}

	if cc.Flags.JSON {
		out := make([]mountJSON, 0, len(mounts))
		for _, m := range mounts {
			out = append(out, mountJSON{ID: m.ID, Name: m.Name, Location: m.MountLocation, GroupID: m.GroupID})
		}

		return printJSON(cc.Out, out)
	}

	rows := make([][]string, 0, len(mounts))
	for _, m := range mounts {
		rows = append(rows, []string{m.ID, m.Name, m.MountLocation})
	}

	printTable(cc.Out, []string{"ID", "NAME", "LOCATION"}, rows)

	return nil
}

// lsJSONEntry is one line of `ls --json` output. Entries are written as
// they arrive, one JSON object per line.
type lsJSONEntry struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

func runLs(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)
	mountID := args[0]

	dir := "/"
	if len(args) > 1 {
		dir = args[1]
	}

	group, err := cc.groupID()
	if err != nil {
		return err
	}

	session, err := cc.newSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	enc := json.NewEncoder(cc.Out)
	count := 0

	for entry, err := range session.ListFiles(ctx, group, mountID, dir) {
		if err != nil {
			return fmt.Errorf("listing %q: %w", dir, err)
		}

		count++

		if cc.Flags.JSON {
			if err := enc.Encode(lsJSONEntry{
				Path: entry.Path, Name: entry.Name, Type: entry.Type.String(), Size: entry.Size,
			}); err != nil {
				return err
			}

			continue
		}

		name := entry.Name
		size := formatSize(entry.Size)

		if entry.Type == sirius.FileTypeDirectory {
			name += "/"
			size = "-"
		}

		fmt.Fprintf(cc.Out, "%-10s %10s  %s\n", entry.Type, size, name)
	}

	cc.Logger.Debug("listing complete", slog.String("path", dir), slog.Int("entries", count))

	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)
	mountID, remotePath := args[0], args[1]

	chunkSize, err := chunkSizeFlag(cmd, cc)
	if err != nil {
		return err
	}

	localPath := path.Base(remotePath)
	if len(args) > 2 {
		localPath = args[2]
	}

	if fi, statErr := os.Stat(localPath); statErr == nil && fi.IsDir() {
		localPath = filepath.Join(localPath, path.Base(remotePath))
	}

	group, err := cc.groupID()
	if err != nil {
		return err
	}

	session, err := cc.newSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	partialPath := localPath + ".partial"

	f, err := os.Create(partialPath)
	if err != nil {
		return fmt.Errorf("creating partial file for download: %w", err)
	}

	start := time.Now()
	n, dlErr := session.Download(ctx, group, mountID, remotePath, f, chunkSize)
	closeErr := f.Close()

	if dlErr == nil {
		dlErr = closeErr
	}

	if dlErr != nil {
		cc.Statusf("Partial download left at %s (%s received)\n", partialPath, formatSize(n))
		return fmt.Errorf("downloading %q: %w", remotePath, dlErr)
	}

	if err := os.Rename(partialPath, localPath); err != nil {
		return fmt.Errorf("renaming download to %q: %w", localPath, err)
	}

	elapsed := time.Since(start)

	cc.Logger.Debug("download complete",
		slog.String("local_path", localPath),
		slog.Int64("bytes", n),
		slog.Duration("elapsed", elapsed),
	)
	cc.Statusf("Downloaded %s (%s, %s)\n", localPath, formatSize(n), formatRate(n, elapsed))

	return nil
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cc := mustCLIContext(ctx)
	mountID, localPath := args[0], args[1]

	remotePath := ""
	if len(args) > 2 {
		remotePath = args[2]
	}

	chunkSize, err := chunkSizeFlag(cmd, cc)
	if err != nil {
		return err
	}

	group, err := cc.groupID()
	if err != nil {
		return err
	}

	session, err := cc.newSession(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	pusher, err := push.New(push.Config{
		Uploader:       session,
		Observer:       cc.Metrics,
		Logger:         cc.Logger,
		GroupID:        group,
		MountID:        mountID,
		ChunkSize:      chunkSize,
		Parallel:       1,
		BandwidthLimit: cc.Cfg.BandwidthLimit,
	})
	if err != nil {
		return err
	}

	report, err := pusher.PushFile(ctx, localPath, remotePath)
	if err != nil {
		return fmt.Errorf("uploading %q: %w", localPath, err)
	}

	cc.Statusf("Uploaded %s (%s, %s)\n", localPath, formatSize(report.Bytes), formatRate(report.Bytes, report.Elapsed))

	return nil
}
