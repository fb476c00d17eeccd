package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nishanth230499/s3-ui/internal/bootstrap"
	"github.com/nishanth230499/s3-ui/internal/observability"
	"github.com/nishanth230499/s3-ui/pkg/output"
	"github.com/nishanth230499/s3-ui/pkg/zipjob"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one archive job",
	Long: `Run one archive job in the foreground.

The job comes from a YAML or JSON file (--job) or from flags. Flags given
alongside --job override the file. Job events are written as JSONL to
stdout or --output.

Example:
  s3zip run --job job.yaml
  s3zip run --bucket media --folder photos/ --prefix photos/2024/ --name "summer.zip"
  s3zip run --job job.json --output events.jsonl`,
	RunE: runJob,
}

var (
	runJobPath  string
	runBucket   string
	runRegion   string
	runFolder   string
	runPrefixes []string
	runName     string
	runOutput   string
	runQuiet    bool
)

func init() {
	rootCmd.AddCommand(runCmd)
	addRunFlags(runCmd)
}

func addRunFlags(c *cobra.Command) {
	c.Flags().StringVarP(&runJobPath, "job", "j", "", "Path to job file (YAML or JSON)")
	c.Flags().StringVarP(&runBucket, "bucket", "b", "", "Bucket holding the sources and the archive")
	c.Flags().StringVar(&runRegion, "region", "", "Bucket region (default: storage config)")
	c.Flags().StringVarP(&runFolder, "folder", "f", "", "Destination folder, ending in '/' (empty for bucket root)")
	c.Flags().StringArrayVarP(&runPrefixes, "prefix", "p", nil, "Source key or prefix (repeatable)")
	c.Flags().StringVarP(&runName, "name", "n", "", "Archive file name, ending in .zip")
	c.Flags().StringVarP(&runOutput, "output", "o", "", "Event destination: stdout (default) or a file path")
	c.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress job events")
}

func runJob(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	req, err := buildRunRequest(cmd)
	if err != nil {
		observability.CLILogger.Error("Invalid job", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid job", err)
	}

	cfg, err := loadConfig(ctx, nil)
	if err != nil {
		observability.CLILogger.Error("Failed to load configuration", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if req.Region == "" {
		region, ok := cfg.Storage.RegionFor(req.Bucket)
		if !ok {
			return exitError(foundry.ExitInvalidArgument, "Bucket not configured", fmt.Errorf("bucket %q is not listed under storage.buckets", req.Bucket))
		}
		req.Region = region
	}

	store, err := bootstrap.OpenProgressStore(ctx, cfg.Progress, cfg.Storage)
	if err != nil {
		observability.CLILogger.Error("Failed to open progress store", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open progress store", err)
	}
	defer func() { _ = store.Close() }()

	jobID := uuid.New().String()
	var writer output.Writer = output.Discard
	if !runQuiet {
		w, cleanup, err := createWriter(runOutput, jobID, cfg.Storage.Provider)
		if err != nil {
			observability.CLILogger.Error("Failed to create writer", zap.Error(err))
			return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
		}
		defer cleanup()
		writer = w
	}

	logger := observability.CLILogger.With(zap.String("job_id", jobID))
	handler, err := zipjob.NewHandler(bootstrap.StorageFactory(cfg.Storage), store, bootstrap.RunnerConfig(cfg.Job), logger, zipjob.WithEvents(writer))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job setup", err)
	}

	observability.CLILogger.Info("Starting zip job",
		zap.String("job_id", jobID),
		zap.String("bucket", req.Bucket),
		zap.String("destination", req.DestinationKey()),
		zap.Int("prefixes", len(req.Prefixes)))

	resp, _ := handler.Handle(ctx, req)
	return runResult(ctx, jobID, resp)
}

// buildRunRequest merges the job file with flag overrides and validates
// the result.
func buildRunRequest(cmd *cobra.Command) (zipjob.Request, error) {
	var req zipjob.Request
	if runJobPath != "" {
		loaded, err := zipjob.LoadRequest(runJobPath)
		if err != nil {
			return zipjob.Request{}, err
		}
		req = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("bucket") {
		req.Bucket = runBucket
	}
	if flags.Changed("region") {
		req.Region = runRegion
	}
	if flags.Changed("folder") {
		req.Folder = runFolder
	}
	if flags.Changed("prefix") {
		req.Prefixes = runPrefixes
	}
	if flags.Changed("name") {
		req.ZipFileName = runName
	}

	if runJobPath == "" && req.Bucket == "" {
		return zipjob.Request{}, errors.New("either --job or --bucket is required")
	}
	if err := req.Validate(); err != nil {
		return zipjob.Request{}, err
	}
	return req, nil
}

func runResult(ctx context.Context, jobID string, resp zipjob.Response) error {
	switch resp.Outcome {
	case zipjob.OutcomeFinalized:
		observability.CLILogger.Info("Zip job completed", zap.String("job_id", jobID))
		return nil
	case zipjob.OutcomeRejected:
		observability.CLILogger.Warn("Zip job already in progress", zap.String("job_id", jobID))
		return exitError(foundry.ExitInvalidArgument, "Zip already in progress", errors.New(zipjob.BodyInProgress))
	}

	cause := errors.New(zipjob.MessageFailed)
	if body, ok := resp.Body.(zipjob.FailureBody); ok && body.Error != "" {
		cause = errors.New(body.Error)
	}
	if ctx.Err() != nil {
		return exitError(foundry.ExitSignalInt, "Zip job cancelled", cause)
	}
	observability.CLILogger.Error("Zip job failed", zap.String("job_id", jobID), zap.Error(cause))
	return exitError(foundry.ExitExternalServiceUnavailable, "Zip job failed", cause)
}

// createWriter opens the event destination.
// Returns the writer, a cleanup function, and any error.
func createWriter(dest, jobID, provider string) (output.Writer, func(), error) {
	if dest == "" || dest == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, jobID, provider)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	w := output.NewJSONLWriter(f, jobID, provider)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}
