// Package cmd implements the s3zip command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nishanth230499/s3-ui/internal/config"
	"github.com/nishanth230499/s3-ui/internal/observability"
	"github.com/nishanth230499/s3-ui/internal/server/handlers"
)

// AppIdentity names the binary, its environment prefix, and its config
// file stem.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
}

var appIdentity = &AppIdentity{
	BinaryName: "s3zip",
	EnvPrefix:  config.EnvPrefix,
	ConfigName: config.ConfigName,
}

// GetAppIdentity returns the application identity.
func GetAppIdentity() *AppIdentity {
	return appIdentity
}

type buildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = buildInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// SetVersionInfo records build metadata injected via ldflags.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo = buildInfo{Version: version, Commit: commit, BuildDate: buildDate}
	handlers.SetVersionInfo(version, commit, buildDate)
}

var (
	cfgFile  string
	logLevel string
	verbose  bool
	envFile  string
)

var rootCmd = &cobra.Command{
	Use:   "s3zip",
	Short: "Bundle object-storage keys into zip archives",
	Long: `s3zip collects every object under a set of keys and prefixes in a bucket,
writes them into one deflate-compressed zip archive, and uploads the archive
back into the bucket. A progress record tracks each archive so only one job
per destination runs at a time.

Run a job directly with "s3zip run", or serve the HTTP submission API with
"s3zip serve".`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initCLI,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./s3zip.yaml or ~/.config/s3zip/s3zip.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose CLI logging")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before configuration")
}

func initCLI(cmd *cobra.Command, args []string) error {
	if err := loadDotenv(envFile); err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to load env file", err)
	}
	observability.InitCLILogger(appIdentity.BinaryName, verbose)
	return nil
}

// loadDotenv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

// loadConfig loads configuration with CLI flag overrides applied last.
func loadConfig(ctx context.Context, overrides map[string]any) (*config.Config, error) {
	if overrides == nil {
		overrides = map[string]any{}
	}
	if logLevel != "" {
		overrides["logging"] = map[string]any{"level": logLevel}
	}
	cfg, err := config.LoadFile(ctx, cfgFile, overrides)
	if err != nil {
		return nil, err
	}
	observability.CLILogger.Debug("Loaded configuration",
		zap.String("storage_provider", cfg.Storage.Provider),
		zap.String("progress_backend", cfg.Progress.Backend))
	return cfg, nil
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// cliError carries a process exit code.
type cliError struct {
	code    int
	message string
	err     error
}

func (e *cliError) Error() string {
	return fmt.Sprintf("%s: %v (exit code %d)", e.message, e.err, e.code)
}

func (e *cliError) Unwrap() error { return e.err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &cliError{code: code, message: message, err: err}
}

// ExitCode maps an Execute error to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}

// Main runs the CLI and exits the process.
func Main(ctx context.Context) {
	if err := Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(ExitCode(err))
	}
}
