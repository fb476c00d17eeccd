// Package progress persists per-archive job records and implements the
// atomic admission check that keeps at most one active job per
// (folder, archive name) pair.
package progress

import (
	"fmt"
	"strings"
	"time"
)

// State is the progress label stored on a record.
type State string

const (
	StateInitialized State = "Initialized"
	StateListed      State = "Listed"
	StateArchived    State = "Archived"
	StateUploaded    State = "Uploaded"
	StateFinalized   State = "Finalized"
	StateFailed      State = "Failed"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateFailed
}

// ActiveWindow is how long a non-terminal record blocks a new job for the
// same key. It must be no shorter than the maximum job run time.
const ActiveWindow = 16 * time.Minute

// TimeLayout is the persisted timestamp shape. Fixed width UTC with
// millisecond precision, so string order equals time order.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

// StaleBefore returns the createdAt cutoff at or below which a record is
// no longer active at now.
func StaleBefore(now time.Time) string {
	return FormatTime(now.Add(-ActiveWindow))
}

// Key identifies one archive job record.
type Key struct {
	// Folder is the destination folder as requested ("x/y/", "" for root).
	Folder string

	ZipFileName string
}

// StoredFolder is the persisted partition value: Folder with a leading "/".
func (k Key) StoredFolder() string {
	return StoredFolder(k.Folder)
}

// StoredFolder maps a request folder to its persisted form.
func StoredFolder(folder string) string {
	return "/" + strings.TrimPrefix(folder, "/")
}

func (k Key) String() string {
	return k.StoredFolder() + k.ZipFileName
}

// Record is one persisted progress row.
type Record struct {
	Folder      string `dynamodbav:"folder" json:"folder"`
	ZipFileName string `dynamodbav:"zipFileName" json:"zipFileName"`
	CreatedAt   string `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt   string `dynamodbav:"updatedAt" json:"updatedAt"`
	Progress    State  `dynamodbav:"progress" json:"progress"`
	ZipError    string `dynamodbav:"zipError,omitempty" json:"zipError,omitempty"`
}

// Active reports whether the record still blocks a new job at now.
// Records with an unreadable createdAt are treated as stale.
func (r Record) Active(now time.Time) bool {
	if r.Progress.Terminal() {
		return false
	}
	created, err := ParseTime(r.CreatedAt)
	if err != nil {
		return false
	}
	return now.Sub(created) < ActiveWindow
}

// EffectiveState is the state to report to readers: a non-terminal record
// past the active window belongs to a job that died and reads as Failed.
func (r Record) EffectiveState(now time.Time) State {
	if r.Progress.Terminal() || r.Active(now) {
		return r.Progress
	}
	return StateFailed
}
