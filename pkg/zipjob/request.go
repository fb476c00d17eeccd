// Package zipjob runs one archive job: admission, listing, archiving,
// upload, and the progress bookkeeping around them.
package zipjob

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/nishanth230499/s3-ui/pkg/lister"
	"github.com/nishanth230499/s3-ui/pkg/progress"
)

// Request is the invocation payload.
type Request struct {
	Region      string   `json:"region" yaml:"region"`
	Bucket      string   `json:"bucket" yaml:"bucket"`
	Folder      string   `json:"folder" yaml:"folder"`
	Prefixes    []string `json:"prefixes" yaml:"prefixes"`
	ZipFileName string   `json:"zipFileName" yaml:"zipFileName"`
}

var zipStemPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9 ]*$`)

// ValidationError reports an invalid request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks the request before any store or storage access.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Bucket) == "" {
		return &ValidationError{Field: "bucket", Message: "required"}
	}
	if r.Folder != "" && !strings.HasSuffix(r.Folder, "/") {
		return &ValidationError{Field: "folder", Message: "must be empty or end in '/'"}
	}
	if len(r.Prefixes) == 0 {
		return &ValidationError{Field: "prefixes", Message: "at least one prefix is required"}
	}
	return ValidateZipFileName(r.ZipFileName)
}

// ValidateZipFileName checks an archive name: a ".zip" file whose stem is
// alphanumeric with optional inner spaces.
func ValidateZipFileName(name string) error {
	if name == "" {
		return &ValidationError{Field: "zipFileName", Message: "required"}
	}
	if strings.Contains(name, "/") {
		return &ValidationError{Field: "zipFileName", Message: "must not contain '/'"}
	}
	if !strings.HasSuffix(name, lister.ArchiveExt) {
		return &ValidationError{Field: "zipFileName", Message: "must end in " + lister.ArchiveExt}
	}
	if !zipStemPattern.MatchString(strings.TrimSuffix(name, lister.ArchiveExt)) {
		return &ValidationError{Field: "zipFileName", Message: "name must start with a letter or digit and contain only letters, digits and spaces"}
	}
	return nil
}

// DestinationKey is the object key the archive is uploaded to.
func (r Request) DestinationKey() string {
	return r.Folder + r.ZipFileName
}

// ProgressKey is the progress record key for this request.
func (r Request) ProgressKey() progress.Key {
	return progress.Key{Folder: r.Folder, ZipFileName: r.ZipFileName}
}

// Outcome is the terminal result of a run.
type Outcome string

const (
	OutcomeFinalized Outcome = "finalized"
	OutcomeFailed    Outcome = "failed"
	OutcomeRejected  Outcome = "rejected"
)

// Response bodies.
const (
	BodyZipped     = "Files zipped!"
	BodyInProgress = "Zip already in progress!"
	MessageFailed  = "Zip Failed!"
)

// Response is the invocation result.
type Response struct {
	StatusCode int     `json:"statusCode"`
	Body       any     `json:"body"`
	Outcome    Outcome `json:"-"`
}

// FailureBody is the body of a failed response.
type FailureBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func successResponse() Response {
	return Response{StatusCode: http.StatusOK, Body: BodyZipped, Outcome: OutcomeFinalized}
}

func rejectedResponse() Response {
	return Response{StatusCode: http.StatusOK, Body: BodyInProgress, Outcome: OutcomeRejected}
}

func failureResponse(err error) Response {
	return Response{
		StatusCode: http.StatusInternalServerError,
		Body:       FailureBody{Message: MessageFailed, Error: err.Error()},
		Outcome:    OutcomeFailed,
	}
}
