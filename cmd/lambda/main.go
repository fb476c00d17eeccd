// Command lambda serves archive jobs as an AWS Lambda function.
//
// Each invocation carries one request payload and returns the
// {statusCode, body} response. Settings come from the environment only.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/nishanth230499/s3-ui/internal/bootstrap"
	"github.com/nishanth230499/s3-ui/internal/config"
	"github.com/nishanth230499/s3-ui/internal/observability"
	"github.com/nishanth230499/s3-ui/pkg/zipjob"
)

// env is read with the S3ZIP_ prefix. Fields with an explicit tag also
// fall back to the bare name, so AWS_REGION set by the runtime is picked up.
type env struct {
	LogLevel   string `envconfig:"LOG_LEVEL" default:"info"`
	LogProfile string `envconfig:"LOG_PROFILE" default:"structured"`

	Region        string `envconfig:"AWS_REGION" default:"us-east-1"`
	ProgressTable string `envconfig:"PROGRESS_TABLE" default:"ZipProgress"`
	Endpoint      string `envconfig:"ENDPOINT"`

	ScratchDir         string   `envconfig:"SCRATCH_DIR" default:"/tmp/s3zip"`
	ListConcurrency    int      `envconfig:"LIST_CONCURRENCY" default:"4"`
	ListRateLimit      float64  `envconfig:"LIST_RATE_LIMIT"`
	Exclude            []string `envconfig:"EXCLUDE"`
	ArchiveConcurrency int      `envconfig:"ARCHIVE_CONCURRENCY" default:"16"`
	ValidateSize       bool     `envconfig:"VALIDATE_SIZE" default:"true"`
	PartSize           int64    `envconfig:"PART_SIZE" default:"5242880"`
	UploadConcurrency  int      `envconfig:"UPLOAD_CONCURRENCY" default:"4"`
	StorageClass       string   `envconfig:"STORAGE_CLASS" default:"GLACIER_IR"`
	Tagging            string   `envconfig:"TAGGING" default:"zipBy=s3-ui"`
}

func loadEnv() (env, error) {
	var e env
	if err := envconfig.Process(config.EnvPrefix, &e); err != nil {
		return env{}, fmt.Errorf("read environment: %w", err)
	}
	return e, nil
}

func (e env) storage() config.StorageConfig {
	return config.StorageConfig{
		Provider: config.ProviderS3,
		Region:   e.Region,
		Endpoint: e.Endpoint,
	}
}

func (e env) progress() config.ProgressConfig {
	return config.ProgressConfig{
		Backend:  config.BackendDynamoDB,
		Table:    e.ProgressTable,
		Region:   e.Region,
		Endpoint: e.Endpoint,
	}
}

func (e env) job() config.JobConfig {
	return config.JobConfig{
		ScratchDir:         e.ScratchDir,
		ListConcurrency:    e.ListConcurrency,
		ListRateLimit:      e.ListRateLimit,
		Exclude:            e.Exclude,
		ArchiveConcurrency: e.ArchiveConcurrency,
		ValidateSize:       e.ValidateSize,
		PartSize:           e.PartSize,
		UploadConcurrency:  e.UploadConcurrency,
		StorageClass:       e.StorageClass,
		Tagging:            e.Tagging,
	}
}

// invoker clears the scratch root before every run. One execution
// environment handles one invocation at a time, so anything left there
// belongs to an earlier invocation that was killed mid-run.
type invoker struct {
	jobs       *zipjob.Handler
	scratchDir string
	logger     *zap.Logger
}

func (i *invoker) handle(ctx context.Context, req zipjob.Request) (zipjob.Response, error) {
	if err := zipjob.ClearScratch(i.scratchDir); err != nil {
		i.logger.Warn("scratch cleanup failed", zap.Error(err))
	}
	resp, err := i.jobs.Handle(ctx, req)
	i.logger.Info("zip request done",
		zap.String("bucket", req.Bucket),
		zap.String("destination", req.DestinationKey()),
		zap.String("outcome", string(resp.Outcome)),
		zap.Int("status", resp.StatusCode))
	return resp, err
}

func run(ctx context.Context) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(e.LogLevel, e.LogProfile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	store, err := bootstrap.OpenProgressStore(ctx, e.progress(), e.storage())
	if err != nil {
		return err
	}

	runnerCfg := bootstrap.RunnerConfig(e.job())
	jobs, err := zipjob.NewHandler(bootstrap.StorageFactory(e.storage()), store, runnerCfg, logger.Named("zipjob"))
	if err != nil {
		return err
	}

	inv := &invoker{jobs: jobs, scratchDir: runnerCfg.ScratchDir, logger: logger}
	lambda.Start(inv.handle)
	return nil
}

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
