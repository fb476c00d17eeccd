package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nishanth230499/s3-ui/internal/bootstrap"
	"github.com/nishanth230499/s3-ui/internal/observability"
	"github.com/nishanth230499/s3-ui/internal/server"
	"github.com/nishanth230499/s3-ui/internal/server/handlers"
	"github.com/nishanth230499/s3-ui/pkg/progress"
	"github.com/nishanth230499/s3-ui/pkg/zipjob"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the job submission API",
	Long: `Serve the HTTP API for submitting archive jobs and reading their progress.

Routes:
  POST /api/zip-files/{bucket}   submit a job (202, runs in the background)
  GET  /api/zip-progress?folder= list jobs under a folder
  GET  /health, /health/live, /health/ready, /health/startup
  GET  /version

On SIGINT/SIGTERM the server stops accepting requests and waits up to
server.shutdown_timeout for running jobs before cancelling them.`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default: server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default: server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	overrides := map[string]any{}
	srvOverrides := map[string]any{}
	if cmd.Flags().Changed("host") {
		srvOverrides["host"] = serveHost
	}
	if cmd.Flags().Changed("port") {
		srvOverrides["port"] = servePort
	}
	if len(srvOverrides) > 0 {
		overrides["server"] = srvOverrides
	}

	cfg, err := loadConfig(ctx, overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	logger, err := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := bootstrap.OpenProgressStore(ctx, cfg.Progress, cfg.Storage)
	if err != nil {
		logger.Error("progress store unavailable", zap.Error(err))
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to open progress store", err)
	}
	defer func() { _ = store.Close() }()

	jobs, err := zipjob.NewHandler(bootstrap.StorageFactory(cfg.Storage), store, bootstrap.RunnerConfig(cfg.Job), logger.Named("zipjob"))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid job setup", err)
	}

	health := handlers.InitHealthManager(versionInfo.Version)
	identity := GetAppIdentity()
	health.RegisterChecker("identity", identityHealthChecker{
		binaryName: identity.BinaryName,
		envPrefix:  identity.EnvPrefix,
		configName: identity.ConfigName,
	})
	health.RegisterChecker("progress_store", progressStoreChecker{store: store})

	// Jobs outlive the request that submitted them and are cancelled only
	// once the drain window has passed.
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()
	zh := handlers.NewZipHandler(jobCtx, jobs, store, cfg.Storage.RegionFor, logger.Named("http"))

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithLogger(logger.Named("http")),
		server.WithZipHandler(zh),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return exitError(foundry.ExitExternalServiceUnavailable, "Server failed", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete, cancelling running jobs", zap.Error(err))
		cancelJobs()
		_ = zh.Wait(context.Background())
	}
	return nil
}

type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(ctx context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("missing binary name")
	case c.envPrefix == "":
		return errors.New("missing env prefix")
	case c.configName == "":
		return errors.New("missing config name")
	}
	return nil
}

// progressStoreChecker reads a key that never exists; only a store error
// other than not-found counts as unhealthy.
type progressStoreChecker struct {
	store progress.Store
}

var healthProbeKey = progress.Key{Folder: ".s3zip-health/", ZipFileName: "probe.zip"}

func (c progressStoreChecker) CheckHealth(ctx context.Context) error {
	_, err := c.store.Get(ctx, healthProbeKey)
	if err == nil || errors.Is(err, progress.ErrNotFound) {
		return nil
	}
	return fmt.Errorf("progress store: %w", err)
}
