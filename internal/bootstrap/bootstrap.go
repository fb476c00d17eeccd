// Package bootstrap turns loaded configuration into the storage, progress
// store, and runner settings shared by the CLI, the HTTP server, and the
// Lambda entry point.
package bootstrap

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/nishanth230499/s3-ui/internal/config"
	"github.com/nishanth230499/s3-ui/pkg/archiver"
	"github.com/nishanth230499/s3-ui/pkg/awscfg"
	"github.com/nishanth230499/s3-ui/pkg/lister"
	"github.com/nishanth230499/s3-ui/pkg/progress"
	"github.com/nishanth230499/s3-ui/pkg/provider/file"
	"github.com/nishanth230499/s3-ui/pkg/provider/s3"
	"github.com/nishanth230499/s3-ui/pkg/uploader"
	"github.com/nishanth230499/s3-ui/pkg/zipjob"
)

// StorageFactory returns a zipjob.StorageFactory for cfg. A request region
// wins over the configured one.
func StorageFactory(cfg config.StorageConfig) zipjob.StorageFactory {
	return func(ctx context.Context, region, bucket string) (zipjob.Storage, error) {
		switch cfg.Provider {
		case config.ProviderFile:
			p, err := file.New(file.Config{BaseDir: filepath.Join(cfg.BaseDir, bucket)})
			if err != nil {
				return nil, err
			}
			return p, nil
		case config.ProviderS3, "":
			if region == "" {
				region, _ = cfg.RegionFor(bucket)
			}
			p, err := s3.New(ctx, s3.Config{
				Bucket:         bucket,
				Region:         region,
				Endpoint:       cfg.Endpoint,
				Profile:        cfg.Profile,
				ForcePathStyle: cfg.ForcePathStyle,
			})
			if err != nil {
				return nil, err
			}
			return p, nil
		default:
			return nil, fmt.Errorf("unsupported storage provider %q", cfg.Provider)
		}
	}
}

// OpenProgressStore opens the configured progress backend.
func OpenProgressStore(ctx context.Context, cfg config.ProgressConfig, storage config.StorageConfig) (progress.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		path := cfg.Path
		if path == "" {
			path = config.DefaultProgressPath()
		}
		store, err := progress.OpenSQLite(ctx, progress.SQLiteConfig{Path: path})
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendDynamoDB, "":
		region := cfg.Region
		if region == "" {
			region = storage.Region
		}
		store, err := progress.OpenDynamo(ctx, progress.DynamoConfig{
			Table: cfg.Table,
			AWS: awscfg.Options{
				Region:   region,
				Endpoint: cfg.Endpoint,
				Profile:  storage.Profile,
			},
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported progress backend %q", cfg.Backend)
	}
}

// RunnerConfig maps job settings onto the pipeline stages. Zero values keep
// the stage defaults.
func RunnerConfig(cfg config.JobConfig) zipjob.Config {
	out := zipjob.DefaultConfig()
	if cfg.ScratchDir != "" {
		out.ScratchDir = cfg.ScratchDir
	}

	out.Lister = lister.DefaultConfig()
	if cfg.ListConcurrency > 0 {
		out.Lister.Concurrency = cfg.ListConcurrency
	}
	out.Lister.RateLimit = cfg.ListRateLimit
	out.Lister.Exclude = append([]string(nil), cfg.Exclude...)

	out.Archiver = archiver.DefaultConfig()
	if cfg.ArchiveConcurrency > 0 {
		out.Archiver.Concurrency = cfg.ArchiveConcurrency
	}
	out.Archiver.ValidateSize = cfg.ValidateSize

	out.Uploader = uploader.DefaultConfig()
	if cfg.PartSize > 0 {
		out.Uploader.PartSize = cfg.PartSize
	}
	if cfg.UploadConcurrency > 0 {
		out.Uploader.Concurrency = cfg.UploadConcurrency
	}
	if cfg.StorageClass != "" {
		out.Uploader.StorageClass = cfg.StorageClass
	}
	if cfg.Tagging != "" {
		out.Uploader.Tagging = cfg.Tagging
	}
	return out
}
