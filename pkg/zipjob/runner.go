package zipjob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nishanth230499/s3-ui/pkg/archiver"
	"github.com/nishanth230499/s3-ui/pkg/lister"
	"github.com/nishanth230499/s3-ui/pkg/output"
	"github.com/nishanth230499/s3-ui/pkg/progress"
	"github.com/nishanth230499/s3-ui/pkg/provider"
	"github.com/nishanth230499/s3-ui/pkg/uploader"
)

// Storage is everything a job needs from the bucket: listing, reads, and
// multipart writes.
type Storage interface {
	provider.Provider
	provider.ObjectGetter
	provider.MultipartUploader
}

// Config configures a Runner.
type Config struct {
	// ScratchDir is the root under which each job gets its own directory.
	ScratchDir string

	Lister   lister.Config
	Archiver archiver.Config
	Uploader uploader.Config
}

// DefaultConfig returns the default runner configuration.
func DefaultConfig() Config {
	return Config{
		ScratchDir: filepath.Join(os.TempDir(), "s3zip"),
		Lister:     lister.DefaultConfig(),
		Archiver:   archiver.DefaultConfig(),
		Uploader:   uploader.DefaultConfig(),
	}
}

// Option customizes a Runner.
type Option func(*Runner)

// WithEvents sends JSONL job events to w.
func WithEvents(w output.Writer) Option {
	return func(r *Runner) {
		if w != nil {
			r.events = w
		}
	}
}

// WithClock overrides the time source used for progress timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner executes archive jobs against one storage handle and one
// progress store.
type Runner struct {
	storage Storage
	store   progress.Store
	cfg     Config
	logger  *zap.Logger
	events  output.Writer
	now     func() time.Time
}

// NewRunner creates a runner. A nil logger disables logging.
func NewRunner(storage Storage, store progress.Store, cfg Config, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if storage == nil {
		return nil, errors.New("zipjob: storage is required")
	}
	if store == nil {
		return nil, errors.New("zipjob: progress store is required")
	}
	if cfg.ScratchDir == "" {
		return nil, errors.New("zipjob: scratch dir is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{
		storage: storage,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		events:  output.Discard,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// job is the working state of one run.
type job struct {
	req     Request
	tracker *progress.Tracker
	logger  *zap.Logger
	start   time.Time

	files        int
	bytes        int64
	archiveBytes int64
	parts        int
}

// Run executes req and returns the caller-visible response. Run never
// returns an error: every failure is folded into a 500 response.
func (r *Runner) Run(ctx context.Context, req Request) Response {
	j := &job{
		req:   req,
		start: r.now(),
		logger: r.logger.With(
			zap.String("bucket", req.Bucket),
			zap.String("destination_key", req.DestinationKey()),
		),
	}

	if err := req.Validate(); err != nil {
		return r.fail(ctx, j, &StageError{Stage: StageValidate, Err: err})
	}

	j.tracker = progress.NewTracker(r.store, req.ProgressKey(), j.logger, progress.WithClock(r.now))
	admitted, err := j.tracker.Admit(ctx)
	if err != nil {
		return r.fail(ctx, j, &StageError{Stage: StageAdmit, Err: err})
	}
	if !admitted {
		j.logger.Info("zip already in progress")
		r.summary(ctx, j, OutcomeRejected, nil)
		return rejectedResponse()
	}
	r.emit(ctx, j, progress.StateInitialized)

	// Scratch is cleared before the terminal progress write: once the record
	// is terminal another run may be admitted for the same key and directory.
	dir := r.jobDir(req.ProgressKey())
	err = resetDir(dir)
	if err != nil {
		err = &StageError{Stage: StageScratch, Err: err}
	} else {
		err = r.execute(ctx, j, dir)
	}
	if rmErr := os.RemoveAll(dir); rmErr != nil {
		j.logger.Warn("scratch cleanup failed", zap.String("dir", dir), zap.Error(rmErr))
	}
	if err != nil {
		return r.fail(ctx, j, err)
	}

	j.tracker.Record(ctx, progress.StateFinalized)
	r.emit(ctx, j, progress.StateFinalized)
	r.summary(ctx, j, OutcomeFinalized, nil)
	j.logger.Info("zip finalized",
		zap.Int("files", j.files),
		zap.Int64("archive_bytes", j.archiveBytes),
		zap.Duration("duration", r.now().Sub(j.start)),
	)
	return successResponse()
}

// execute runs list, archive, and upload. Every returned error is a
// *StageError.
func (r *Runner) execute(ctx context.Context, j *job, dir string) error {
	l, err := lister.New(r.storage, r.cfg.Lister, j.logger)
	if err != nil {
		return &StageError{Stage: StageList, Err: err}
	}
	candidates, listed, err := l.List(ctx, j.req.Prefixes, j.req.Folder)
	if err != nil {
		return &StageError{Stage: StageList, Err: err}
	}
	j.files, j.bytes = listed.Candidates, listed.BytesTotal
	j.tracker.Record(ctx, progress.StateListed)
	r.emit(ctx, j, progress.StateListed)

	archivePath := filepath.Join(dir, j.req.ZipFileName)
	archived, err := archiver.New(r.storage, r.cfg.Archiver, j.logger).Archive(ctx, candidates, archivePath)
	if err != nil {
		return &StageError{Stage: StageArchive, Err: err}
	}
	j.archiveBytes = archived.ArchiveBytes
	j.tracker.Record(ctx, progress.StateArchived)
	r.emit(ctx, j, progress.StateArchived)

	uploaded, err := uploader.New(r.storage, r.cfg.Uploader, j.logger).Upload(ctx, archivePath, j.req.DestinationKey())
	if err != nil {
		return &StageError{Stage: StageUpload, Err: err}
	}
	j.parts = uploaded.Parts
	j.tracker.Record(ctx, progress.StateUploaded)
	r.emit(ctx, j, progress.StateUploaded)
	return nil
}

// fail is the single failure path: log, record (when the record is ours),
// emit, and build the 500 response.
func (r *Runner) fail(ctx context.Context, j *job, err error) Response {
	ctx = context.WithoutCancel(ctx)
	stage := StageOf(err)
	code := ErrorCode(err)

	j.logger.Error("zip failed",
		zap.String("stage", string(stage)),
		zap.String("code", code),
		zap.Stringer("severity", Classify(err)),
		zap.Error(err),
	)

	if j.tracker != nil && ownsRecord(stage) {
		j.tracker.RecordFailure(ctx, err)
		r.emit(ctx, j, progress.StateFailed)
	}

	if werr := r.events.WriteError(ctx, &output.ErrorRecord{
		Code:    code,
		Message: err.Error(),
		Stage:   string(stage),
	}); werr != nil {
		j.logger.Warn("event write failed", zap.Error(werr))
	}
	r.summary(ctx, j, OutcomeFailed, err)
	return failureResponse(err)
}

func (r *Runner) emit(ctx context.Context, j *job, state progress.State) {
	rec := &output.ProgressRecord{
		Bucket:       j.req.Bucket,
		Folder:       j.req.Folder,
		ZipFileName:  j.req.ZipFileName,
		State:        string(state),
		Files:        j.files,
		Bytes:        j.bytes,
		ArchiveBytes: j.archiveBytes,
	}
	if err := r.events.WriteProgress(ctx, rec); err != nil {
		j.logger.Warn("event write failed", zap.Error(err))
	}
}

func (r *Runner) summary(ctx context.Context, j *job, outcome Outcome, cause error) {
	d := r.now().Sub(j.start)
	rec := &output.SummaryRecord{
		Bucket:         j.req.Bucket,
		DestinationKey: j.req.DestinationKey(),
		Outcome:        string(outcome),
		Files:          j.files,
		Bytes:          j.bytes,
		ArchiveBytes:   j.archiveBytes,
		Parts:          j.parts,
		Duration:       d,
		DurationHuman:  d.Round(time.Millisecond).String(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}
	if err := r.events.WriteSummary(ctx, rec); err != nil {
		j.logger.Warn("event write failed", zap.Error(err))
	}
}

var scratchNamespace = uuid.MustParse("5b3f3c8e-6a2d-4c1e-9a57-2f0d8b7e4a11")

// jobDir returns the scratch directory owned by key. Admission guarantees
// one active run per key, so the directory has a single owner.
func (r *Runner) jobDir(key progress.Key) string {
	return filepath.Join(r.cfg.ScratchDir, uuid.NewSHA1(scratchNamespace, []byte(key.String())).String())
}

// resetDir empties dir, creating it if needed.
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear scratch dir: %w", err)
	}
	// #nosec G301 -- scratch is private to the process user
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	return nil
}

// ClearScratch removes everything under root. Entry points that own the
// whole root (one job per execution environment) call it before each run.
func ClearScratch(root string) error {
	entries, err := os.ReadDir(root)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read scratch root: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(root, e.Name())); err != nil {
			return fmt.Errorf("clear scratch root: %w", err)
		}
	}
	return nil
}
