package progress

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Tracker binds a Store to one job key.
//
// Admission errors are returned to the caller. Every later write is best
// effort: failures are logged and never change the job outcome.
type Tracker struct {
	store  Store
	key    Key
	logger *zap.Logger
	now    func() time.Time
}

// TrackerOption customizes a Tracker.
type TrackerOption func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker returns a tracker for key. A nil logger disables logging.
func NewTracker(store Store, key Key, logger *zap.Logger, opts ...TrackerOption) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		store:  store,
		key:    key,
		logger: logger.With(zap.String("folder", key.StoredFolder()), zap.String("zip_file_name", key.ZipFileName)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Key returns the tracked key.
func (t *Tracker) Key() Key {
	return t.key
}

// Admit runs the atomic admission check.
func (t *Tracker) Admit(ctx context.Context) (bool, error) {
	return t.store.TryAdmit(ctx, t.key, t.now())
}

// Record writes a progress label.
func (t *Tracker) Record(ctx context.Context, state State) {
	if err := t.store.SetState(ctx, t.key, state, t.now()); err != nil {
		t.logger.Warn("progress update failed", zap.String("state", string(state)), zap.Error(err))
	}
}

// RecordFailure marks the record Failed with cause as detail.
func (t *Tracker) RecordFailure(ctx context.Context, cause error) {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	if err := t.store.SetFailure(ctx, t.key, StateFailed, detail, t.now()); err != nil {
		t.logger.Warn("progress failure update failed", zap.String("zip_error", detail), zap.Error(err))
	}
}
