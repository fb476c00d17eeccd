package zipjob

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/nishanth230499/s3-ui/pkg/progress"
)

// StorageFactory opens a storage handle for one request.
type StorageFactory func(ctx context.Context, region, bucket string) (Storage, error)

// Handler serves invocations. Each call gets its own storage handle built
// from the request's region; nothing is shared across calls except the
// progress store.
type Handler struct {
	factory StorageFactory
	store   progress.Store
	cfg     Config
	logger  *zap.Logger
	opts    []Option
}

// NewHandler creates a handler. opts apply to every Runner it builds.
func NewHandler(factory StorageFactory, store progress.Store, cfg Config, logger *zap.Logger, opts ...Option) (*Handler, error) {
	if factory == nil {
		return nil, errors.New("zipjob: storage factory is required")
	}
	if store == nil {
		return nil, errors.New("zipjob: progress store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{factory: factory, store: store, cfg: cfg, logger: logger, opts: opts}, nil
}

// Handle runs one job. The error return is always nil; it exists for
// invocation frameworks that expect it.
func (h *Handler) Handle(ctx context.Context, req Request) (Response, error) {
	if err := req.Validate(); err != nil {
		h.logger.Warn("invalid zip request", zap.Error(err))
		return failureResponse(&StageError{Stage: StageValidate, Err: err}), nil
	}

	storage, err := h.factory(ctx, req.Region, req.Bucket)
	if err != nil {
		h.logger.Error("storage setup failed",
			zap.String("bucket", req.Bucket),
			zap.String("region", req.Region),
			zap.Error(err),
		)
		return failureResponse(&StageError{Stage: StageConnect, Err: err}), nil
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			h.logger.Warn("storage close failed", zap.Error(cerr))
		}
	}()

	runner, err := NewRunner(storage, h.store, h.cfg, h.logger, h.opts...)
	if err != nil {
		return failureResponse(err), nil
	}
	return runner.Run(ctx, req), nil
}
