package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/nishanth230499/s3-ui/internal/errors"
	"github.com/nishanth230499/s3-ui/pkg/progress"
	"github.com/nishanth230499/s3-ui/pkg/zipjob"
)

// MessageSubmitted is returned once a job has been handed off.
const MessageSubmitted = "Zip request sent!"

// maxSubmitBody caps the submission body size.
const maxSubmitBody = 1 << 20

// JobHandler runs one archive job to completion.
type JobHandler interface {
	Handle(ctx context.Context, req zipjob.Request) (zipjob.Response, error)
}

// ProgressLister lists progress records under a folder.
type ProgressLister interface {
	List(ctx context.Context, folder string) ([]progress.Record, error)
}

// BucketResolver returns the region for bucket, or false when the bucket
// is not served.
type BucketResolver func(bucket string) (region string, ok bool)

// SubmitRequest is the body of POST /api/zip-files/{bucket}.
type SubmitRequest struct {
	Folder      string   `json:"folder"`
	Prefixes    []string `json:"prefixes"`
	ZipFileName string   `json:"zip_file_name"`
}

// SubmitResponse acknowledges a submission.
type SubmitResponse struct {
	Message string `json:"message"`
}

// ProgressItem is one row of GET /api/zip-progress.
type ProgressItem struct {
	Folder      string `json:"folder"`
	ZipFileName string `json:"zipFileName"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
	Progress    string `json:"progress"`
}

// ProgressResponse lists the jobs under a folder.
type ProgressResponse struct {
	ZipProgress []ProgressItem `json:"zip_progress"`
}

// ZipHandler accepts archive jobs and reports their progress. Jobs run in
// the background on the handler's base context; Wait drains them.
type ZipHandler struct {
	jobs     JobHandler
	progress ProgressLister
	resolve  BucketResolver
	logger   *zap.Logger
	now      func() time.Time

	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewZipHandler creates a handler. baseCtx scopes background jobs; it
// should outlive individual requests.
func NewZipHandler(baseCtx context.Context, jobs JobHandler, lister ProgressLister, resolve BucketResolver, logger *zap.Logger) *ZipHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolve == nil {
		resolve = func(string) (string, bool) { return "", true }
	}
	return &ZipHandler{
		jobs:     jobs,
		progress: lister,
		resolve:  resolve,
		logger:   logger,
		now:      time.Now,
		baseCtx:  baseCtx,
	}
}

// Submit handles POST /api/zip-files/{bucket}.
func (h *ZipHandler) Submit(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	region, ok := h.resolve(bucket)
	if !ok {
		respondWithError(w, r, apperrors.NotFound("bucket not configured").
			WithDetails(map[string]any{"bucket": bucket}))
		return
	}

	var body SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		respondWithError(w, r, apperrors.BadRequest("invalid request body", err))
		return
	}

	req := zipjob.Request{
		Region:      region,
		Bucket:      bucket,
		Folder:      body.Folder,
		Prefixes:    body.Prefixes,
		ZipFileName: body.ZipFileName,
	}
	if err := req.Validate(); err != nil {
		herr := apperrors.Validation(err.Error(), err)
		var ve *zipjob.ValidationError
		if errors.As(err, &ve) {
			herr = herr.WithDetails(map[string]any{"field": ve.Field})
		}
		respondWithError(w, r, herr)
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.run(req)
	}()

	h.logger.Info("zip job submitted",
		zap.String("bucket", req.Bucket),
		zap.String("destination", req.DestinationKey()),
		zap.Int("prefixes", len(req.Prefixes)),
	)
	apperrors.WriteJSON(w, http.StatusAccepted, SubmitResponse{Message: MessageSubmitted})
}

func (h *ZipHandler) run(req zipjob.Request) {
	resp, err := h.jobs.Handle(h.baseCtx, req)
	fields := []zap.Field{
		zap.String("bucket", req.Bucket),
		zap.String("destination", req.DestinationKey()),
		zap.String("outcome", string(resp.Outcome)),
		zap.Int("status_code", resp.StatusCode),
	}
	switch {
	case err != nil:
		h.logger.Error("zip job error", append(fields, zap.Error(err))...)
	case resp.Outcome == zipjob.OutcomeFailed:
		h.logger.Warn("zip job failed", fields...)
	default:
		h.logger.Info("zip job done", fields...)
	}
}

// Progress handles GET /api/zip-progress?folder=.
func (h *ZipHandler) Progress(w http.ResponseWriter, r *http.Request) {
	records, err := h.progress.List(r.Context(), r.URL.Query().Get("folder"))
	if err != nil {
		respondWithError(w, r, apperrors.ServiceUnavailable("progress store unavailable", err))
		return
	}

	now := h.now()
	items := make([]ProgressItem, 0, len(records))
	for _, rec := range records {
		items = append(items, ProgressItem{
			Folder:      rec.Folder,
			ZipFileName: rec.ZipFileName,
			CreatedAt:   rec.CreatedAt,
			UpdatedAt:   rec.UpdatedAt,
			Progress:    string(rec.EffectiveState(now)),
		})
	}
	apperrors.WriteJSON(w, http.StatusOK, ProgressResponse{ZipProgress: items})
}

// Wait blocks until every background job returns or ctx is done.
func (h *ZipHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
