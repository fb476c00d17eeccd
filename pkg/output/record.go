// Package output provides JSONL event output for zip jobs.
//
// Each line is a typed envelope carrying a progress transition, an error,
// or a final job summary. Lines are self-contained JSON objects that can be
// parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: s3zip.<type>.v<version>
const (
	// TypeProgress identifies job state transition records.
	TypeProgress = "s3zip.progress.v1"

	// TypeError identifies error records.
	TypeError = "s3zip.error.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "s3zip.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the record type (e.g., "s3zip.progress.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the correlation ID for this zip job.
	JobID string `json:"job_id"`

	// Provider identifies the storage provider (e.g., "s3", "file").
	Provider string `json:"provider"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// ProgressRecord is emitted on every job state transition.
type ProgressRecord struct {
	Bucket      string `json:"bucket"`
	Folder      string `json:"folder"`
	ZipFileName string `json:"zip_file_name"`

	// State is the job state just entered (e.g., "Listed").
	State string `json:"state"`

	// Files is the candidate count, populated from the Listed state on.
	Files int `json:"files,omitempty"`

	// Bytes is the total candidate size in bytes.
	Bytes int64 `json:"bytes,omitempty"`

	// ArchiveBytes is the size of the local archive once written.
	ArchiveBytes int64 `json:"archive_bytes,omitempty"`
}

// ErrorRecord is the data payload for errors.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Stage names the job stage that failed (admit, list, archive, upload, finalize).
	Stage string `json:"stage,omitempty"`

	// Key is the object key related to this error, if applicable.
	Key string `json:"key,omitempty"`

	// Prefix is the prefix being listed when the error occurred.
	Prefix string `json:"prefix,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeAccessDenied indicates permission failure.
	ErrCodeAccessDenied = "ACCESS_DENIED"

	// ErrCodeNotFound indicates the object or bucket was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeTimeout indicates an operation timed out or was canceled.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeProviderUnavailable indicates a transient provider outage.
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"

	// ErrCodeInvalidRequest indicates the request failed validation.
	ErrCodeInvalidRequest = "INVALID_REQUEST"

	// ErrCodeEntryConflict indicates two sources map to the same archive entry.
	ErrCodeEntryConflict = "ENTRY_CONFLICT"

	// ErrCodeSizeMismatch indicates a source changed size after listing.
	ErrCodeSizeMismatch = "SIZE_MISMATCH"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is emitted once when a job reaches a terminal outcome.
type SummaryRecord struct {
	Bucket         string `json:"bucket"`
	DestinationKey string `json:"destination_key"`

	// Outcome is one of "finalized", "failed", or "rejected".
	Outcome string `json:"outcome"`

	Files        int   `json:"files"`
	Bytes        int64 `json:"bytes"`
	ArchiveBytes int64 `json:"archive_bytes"`
	Parts        int   `json:"parts"`

	// Duration is the total job duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Error is the failure message for failed jobs.
	Error string `json:"error,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
