// Package archiver streams object bodies into a single zip file on local
// disk.
//
// Object streams are opened concurrently; entry writes are serialized
// because a zip stream has exactly one writer. No object body is buffered
// in memory beyond copy buffers.
package archiver

import (
	"archive/zip"
	"compress/flate"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nishanth230499/s3-ui/pkg/lister"
	"github.com/nishanth230499/s3-ui/pkg/provider"
)

// Config configures archive creation.
type Config struct {
	// Concurrency bounds how many object streams are open at once.
	// Default: 16
	Concurrency int

	// ValidateSize fails the archive when an object's size differs from
	// the listed size.
	ValidateSize bool

	// Level is the deflate level. Default: flate.BestCompression
	Level int
}

// DefaultConfig returns the default archiver configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:  16,
		ValidateSize: true,
		Level:        flate.BestCompression,
	}
}

// Summary reports what was written.
type Summary struct {
	Entries      int
	BytesIn      int64
	ArchiveBytes int64
	Duration     time.Duration
}

// Archiver writes candidates into a zip file.
type Archiver struct {
	getter provider.ObjectGetter
	cfg    Config
	logger *zap.Logger
}

// New returns an Archiver reading through getter.
func New(getter provider.ObjectGetter, cfg Config, logger *zap.Logger) *Archiver {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Level == 0 {
		cfg.Level = def.Level
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{getter: getter, cfg: cfg, logger: logger}
}

// Archive writes every candidate to a new zip file at outputPath.
//
// On success the file is a complete, finalized archive. On any failure the
// file is removed and the first error is returned; in-flight sibling
// streams are cancelled. An empty candidate set yields a valid empty
// archive.
func (a *Archiver) Archive(ctx context.Context, candidates map[string]lister.Candidate, outputPath string) (summary *Summary, err error) {
	start := time.Now()

	f, err := os.Create(outputPath)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(outputPath)
		}
	}()

	zw := zip.NewWriter(f)
	level := a.cfg.Level
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	ordered := make([]lister.Candidate, 0, len(candidates))
	for _, c := range candidates {
		ordered = append(ordered, c)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].EntryName < ordered[j].EntryName })

	var (
		mu      sync.Mutex
		bytesIn int64
		names   = make(map[string]struct{}, len(ordered))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)
	for _, c := range ordered {
		g.Go(func() error {
			body, length, err := a.getter.GetObject(gctx, c.SourceKey)
			if err != nil {
				return fmt.Errorf("open %s: %w", c.SourceKey, err)
			}
			defer func() { _ = body.Close() }()

			if a.cfg.ValidateSize && length >= 0 && length != c.Size {
				return &SizeMismatchError{Key: c.SourceKey, Expected: c.Size, Got: length}
			}

			mu.Lock()
			defer mu.Unlock()
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, dup := names[c.EntryName]; dup {
				return &DuplicateEntryError{EntryName: c.EntryName, Key: c.SourceKey}
			}
			names[c.EntryName] = struct{}{}

			n, err := a.writeEntry(zw, c, body)
			if err != nil {
				return err
			}
			if a.cfg.ValidateSize && n != c.Size {
				return &SizeMismatchError{Key: c.SourceKey, Expected: c.Size, Got: n}
			}
			bytesIn += n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("sync archive: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}

	summary = &Summary{
		Entries:      len(ordered),
		BytesIn:      bytesIn,
		ArchiveBytes: st.Size(),
		Duration:     time.Since(start),
	}
	a.logger.Debug("archive written",
		zap.String("path", outputPath),
		zap.Int("entries", summary.Entries),
		zap.Int64("bytes_in", summary.BytesIn),
		zap.Int64("archive_bytes", summary.ArchiveBytes),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// writeEntry must be called with the zip writer lock held.
func (a *Archiver) writeEntry(zw *zip.Writer, c lister.Candidate, body io.Reader) (int64, error) {
	hdr := &zip.FileHeader{
		Name:     c.EntryName,
		Method:   zip.Deflate,
		Modified: c.LastModified,
	}
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return 0, fmt.Errorf("create entry %s: %w", c.EntryName, err)
	}
	n, err := io.Copy(w, body)
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", c.SourceKey, err)
	}
	return n, nil
}

// SizeMismatchError indicates the object size changed between listing and
// retrieval.
type SizeMismatchError struct {
	Key      string
	Expected int64
	Got      int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("source size mismatch for %s: expected=%d got=%d", e.Key, e.Expected, e.Got)
}

// DuplicateEntryError indicates two candidates share an entry name.
type DuplicateEntryError struct {
	EntryName string
	Key       string
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("duplicate archive entry %q from %s", e.EntryName, e.Key)
}

// IsSizeMismatch reports whether err carries a SizeMismatchError.
func IsSizeMismatch(err error) bool {
	var sm *SizeMismatchError
	return errors.As(err, &sm)
}
