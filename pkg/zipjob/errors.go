package zipjob

import (
	"context"
	"errors"
	"fmt"

	"github.com/nishanth230499/s3-ui/pkg/archiver"
	"github.com/nishanth230499/s3-ui/pkg/lister"
	"github.com/nishanth230499/s3-ui/pkg/output"
	"github.com/nishanth230499/s3-ui/pkg/provider"
)

// Stage names the job step an error came from.
type Stage string

const (
	StageValidate Stage = "validate"
	StageConnect  Stage = "connect"
	StageAdmit    Stage = "admit"
	StageScratch  Stage = "scratch"
	StageList     Stage = "list"
	StageArchive  Stage = "archive"
	StageUpload   Stage = "upload"
	StageProgress Stage = "progress"
)

// StageError ties a failure to the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Severity separates failures that end the job from those that are only
// logged.
type Severity int

const (
	SeverityAdvisory Severity = iota
	SeverityFatal
)

func (s Severity) String() string {
	if s == SeverityFatal {
		return "fatal"
	}
	return "advisory"
}

// Classify returns the severity of err. Progress writes after admission
// are advisory; everything else is fatal.
func Classify(err error) Severity {
	if err == nil {
		return SeverityAdvisory
	}
	if StageOf(err) == StageProgress {
		return SeverityAdvisory
	}
	return SeverityFatal
}

// StageOf returns the stage carried by err, or "" if none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// ownsRecord reports whether a failure at stage should be written to the
// progress record. Before admission succeeds the record belongs to
// whichever invocation holds it.
func ownsRecord(stage Stage) bool {
	switch stage {
	case StageValidate, StageConnect, StageAdmit:
		return false
	default:
		return true
	}
}

// ErrorCode maps err to an output error code.
func ErrorCode(err error) string {
	var (
		nameErr      *lister.EntryNameError
		collisionErr *lister.EntryCollisionError
		dupErr       *archiver.DuplicateEntryError
	)
	switch {
	case IsValidationError(err):
		return output.ErrCodeInvalidRequest
	case errors.As(err, &nameErr), errors.As(err, &collisionErr), errors.As(err, &dupErr):
		return output.ErrCodeEntryConflict
	case archiver.IsSizeMismatch(err):
		return output.ErrCodeSizeMismatch
	case provider.IsNotFound(err), provider.IsBucketNotFound(err), provider.IsUploadNotFound(err):
		return output.ErrCodeNotFound
	case provider.IsAccessDenied(err), provider.IsInvalidCredentials(err):
		return output.ErrCodeAccessDenied
	case provider.IsThrottled(err):
		return output.ErrCodeThrottled
	case provider.IsProviderUnavailable(err):
		return output.ErrCodeProviderUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return output.ErrCodeTimeout
	default:
		return output.ErrCodeInternal
	}
}
