// Package uploader sends a local file to object storage as a multipart
// upload with a bounded window of concurrent parts.
package uploader

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nishanth230499/s3-ui/pkg/provider"
)

const (
	// MinPartSize is the smallest non-final part S3 accepts.
	MinPartSize = 5 * 1024 * 1024

	// MaxParts is the S3 part count limit per upload.
	MaxParts = 10000
)

// Config configures uploads.
type Config struct {
	// PartSize is the size of every part but the last.
	// Default and minimum: MinPartSize
	PartSize int64

	// Concurrency is the number of parts in flight.
	// Default: 4
	Concurrency int

	// StorageClass of the final object. Default: GLACIER_IR
	StorageClass string

	// Tagging of the final object, URL-encoded. Default: zipBy=s3-ui
	Tagging string

	ContentType string
}

// DefaultConfig returns the default uploader configuration.
func DefaultConfig() Config {
	return Config{
		PartSize:     MinPartSize,
		Concurrency:  4,
		StorageClass: "GLACIER_IR",
		Tagging:      "zipBy=s3-ui",
		ContentType:  "application/zip",
	}
}

// Summary reports a completed upload.
type Summary struct {
	Key      string
	Bytes    int64
	Parts    int
	Duration time.Duration
}

// Uploader drives provider.MultipartUploader.
type Uploader struct {
	client provider.MultipartUploader
	cfg    Config
	logger *zap.Logger
}

// New returns an Uploader. Zero-valued PartSize and Concurrency take
// defaults; a PartSize below MinPartSize is raised to it.
func New(client provider.MultipartUploader, cfg Config, logger *zap.Logger) *Uploader {
	def := DefaultConfig()
	if cfg.PartSize < MinPartSize {
		cfg.PartSize = def.PartSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Uploader{client: client, cfg: cfg, logger: logger}
}

// PartLayout returns the part size and count for a file of size bytes. The
// configured part size grows when it would need more than MaxParts parts.
// An empty file is one empty part.
func PartLayout(size, partSize int64) (int64, int) {
	if size <= 0 {
		return partSize, 1
	}
	if (size+partSize-1)/partSize > MaxParts {
		partSize = (size + MaxParts - 1) / MaxParts
	}
	return partSize, int((size + partSize - 1) / partSize)
}

// Upload sends localPath to key. The object appears at key only if every
// part and the completion succeed; on any failure the multipart upload is
// aborted and the first error returned.
func (u *Uploader) Upload(ctx context.Context, localPath, key string) (summary *Summary, err error) {
	start := time.Now()

	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	size := st.Size()
	partSize, partCount := PartLayout(size, u.cfg.PartSize)

	uploadID, err := u.client.CreateMultipartUpload(ctx, key, provider.UploadOptions{
		StorageClass: u.cfg.StorageClass,
		Tagging:      u.cfg.Tagging,
		ContentType:  u.cfg.ContentType,
	})
	if err != nil {
		return nil, fmt.Errorf("create multipart upload: %w", err)
	}

	completed := false
	defer func() {
		if completed {
			return
		}
		// The job context may already be cancelled; abort must still run.
		abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if abortErr := u.client.AbortMultipartUpload(abortCtx, key, uploadID); abortErr != nil {
			u.logger.Warn("abort multipart upload failed",
				zap.String("key", key),
				zap.String("upload_id", uploadID),
				zap.Error(abortErr),
			)
		}
	}()

	parts := make([]provider.CompletedPart, partCount)
	var sent atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Concurrency)
	for i := range partCount {
		offset := int64(i) * partSize
		length := min(partSize, size-offset)
		partNumber := int32(i + 1)

		g.Go(func() error {
			section := io.NewSectionReader(f, offset, length)
			etag, err := u.client.UploadPart(gctx, key, uploadID, partNumber, section, length)
			if err != nil {
				return fmt.Errorf("upload part %d: %w", partNumber, err)
			}
			parts[i] = provider.CompletedPart{PartNumber: partNumber, ETag: etag}
			sent.Add(length)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := u.client.CompleteMultipartUpload(ctx, key, uploadID, parts); err != nil {
		return nil, fmt.Errorf("complete multipart upload: %w", err)
	}
	completed = true

	summary = &Summary{Key: key, Bytes: sent.Load(), Parts: partCount, Duration: time.Since(start)}
	u.logger.Debug("upload complete",
		zap.String("key", key),
		zap.Int64("bytes", summary.Bytes),
		zap.Int("parts", summary.Parts),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}
