package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nishanth230499/s3-ui/internal/bootstrap"
	"github.com/nishanth230499/s3-ui/internal/observability"
	"github.com/nishanth230499/s3-ui/pkg/progress"
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "List archive jobs under a folder",
	Long: `List the progress records under a destination folder.

Records that are not terminal and older than the active window are shown as
Failed: their job stopped without writing a final state.

Example:
  s3zip progress --folder photos/
  s3zip progress --folder photos/ --json`,
	RunE: runProgress,
}

var (
	progressFolder string
	progressJSON   bool
)

func init() {
	rootCmd.AddCommand(progressCmd)
	progressCmd.Flags().StringVarP(&progressFolder, "folder", "f", "", "Destination folder (empty for bucket root)")
	progressCmd.Flags().BoolVar(&progressJSON, "json", false, "Print JSON instead of a table")
}

func runProgress(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx, nil)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	store, err := bootstrap.OpenProgressStore(ctx, cfg.Progress, cfg.Storage)
	if err != nil {
		observability.CLILogger.Error("Failed to open progress store", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open progress store", err)
	}
	defer func() { _ = store.Close() }()

	records, err := store.List(ctx, progressFolder)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to list progress", err)
	}
	return printProgress(cmd.OutOrStdout(), records, time.Now(), progressJSON)
}

func printProgress(w io.Writer, records []progress.Record, now time.Time, asJSON bool) error {
	for i := range records {
		records[i].Progress = records[i].EffectiveState(now)
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if records == nil {
			records = []progress.Record{}
		}
		return enc.Encode(records)
	}

	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No archive jobs found.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ARCHIVE\tPROGRESS\tCREATED\tUPDATED\tERROR")
	for _, r := range records {
		_, _ = fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\t%s\n", r.Folder, r.ZipFileName, r.Progress, r.CreatedAt, r.UpdatedAt, r.ZipError)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}
