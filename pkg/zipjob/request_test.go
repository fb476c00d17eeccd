package zipjob

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nishanth230499/s3-ui/pkg/archiver"
	"github.com/nishanth230499/s3-ui/pkg/lister"
	"github.com/nishanth230499/s3-ui/pkg/output"
	"github.com/nishanth230499/s3-ui/pkg/provider"
)

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Request)
		field   string
		wantErr bool
	}{
		{"valid", func(*Request) {}, "", false},
		{"root folder", func(r *Request) { r.Folder = "" }, "", false},
		{"folder without slash", func(r *Request) { r.Folder = "albums/2024" }, "folder", true},
		{"inner spaces", func(r *Request) { r.ZipFileName = "Summer Trip 2024.zip" }, "", false},
		{"missing bucket", func(r *Request) { r.Bucket = " " }, "bucket", true},
		{"no prefixes", func(r *Request) { r.Prefixes = nil }, "prefixes", true},
		{"missing name", func(r *Request) { r.ZipFileName = "" }, "zipFileName", true},
		{"wrong extension", func(r *Request) { r.ZipFileName = "Summer.tar" }, "zipFileName", true},
		{"slash", func(r *Request) { r.ZipFileName = "a/Summer.zip" }, "zipFileName", true},
		{"leading space", func(r *Request) { r.ZipFileName = " Summer.zip" }, "zipFileName", true},
		{"punctuation", func(r *Request) { r.ZipFileName = "Summer-2024.zip" }, "zipFileName", true},
		{"bare extension", func(r *Request) { r.ZipFileName = ".zip" }, "zipFileName", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := albumRequest()
			tt.mutate(&req)
			err := req.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			if assert.True(t, errors.As(err, &ve)) {
				assert.Equal(t, tt.field, ve.Field)
			}
		})
	}
}

func TestRequest_Keys(t *testing.T) {
	req := albumRequest()
	assert.Equal(t, "albums/2024/Summer.zip", req.DestinationKey())
	assert.Equal(t, "/albums/2024/", req.ProgressKey().StoredFolder())

	req.Folder = ""
	assert.Equal(t, "Summer.zip", req.DestinationKey())
	assert.Equal(t, "/", req.ProgressKey().StoredFolder())
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"validation", &StageError{Stage: StageValidate, Err: &ValidationError{Field: "bucket"}}, output.ErrCodeInvalidRequest},
		{"collision", &StageError{Stage: StageList, Err: &lister.EntryCollisionError{EntryName: "a"}}, output.ErrCodeEntryConflict},
		{"shallow key", &lister.EntryNameError{Key: "x"}, output.ErrCodeEntryConflict},
		{"duplicate entry", fmt.Errorf("wrap: %w", &archiver.DuplicateEntryError{EntryName: "a"}), output.ErrCodeEntryConflict},
		{"size mismatch", &archiver.SizeMismatchError{Key: "k"}, output.ErrCodeSizeMismatch},
		{"not found", &provider.ProviderError{Err: provider.ErrNotFound}, output.ErrCodeNotFound},
		{"bucket not found", &lister.ListError{Prefix: "p", Err: &provider.ProviderError{Err: provider.ErrBucketNotFound}}, output.ErrCodeNotFound},
		{"access denied", provider.ErrAccessDenied, output.ErrCodeAccessDenied},
		{"credentials", provider.ErrInvalidCredentials, output.ErrCodeAccessDenied},
		{"throttled", provider.ErrThrottled, output.ErrCodeThrottled},
		{"unavailable", provider.ErrProviderUnavailable, output.ErrCodeProviderUnavailable},
		{"canceled", fmt.Errorf("get: %w", context.Canceled), output.ErrCodeTimeout},
		{"deadline", context.DeadlineExceeded, output.ErrCodeTimeout},
		{"other", errors.New("boom"), output.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, SeverityAdvisory, Classify(nil))
	assert.Equal(t, SeverityAdvisory, Classify(&StageError{Stage: StageProgress, Err: errors.New("x")}))
	assert.Equal(t, SeverityFatal, Classify(&StageError{Stage: StageAdmit, Err: errors.New("x")}))
	assert.Equal(t, SeverityFatal, Classify(errors.New("unstaged")))
	assert.Equal(t, "fatal", SeverityFatal.String())
}

func TestStageError(t *testing.T) {
	inner := provider.ErrThrottled
	err := fmt.Errorf("outer: %w", &StageError{Stage: StageUpload, Err: inner})

	assert.Equal(t, StageUpload, StageOf(err))
	assert.ErrorIs(t, err, provider.ErrThrottled)
	assert.Equal(t, Stage(""), StageOf(errors.New("plain")))
	assert.False(t, ownsRecord(StageAdmit))
	assert.True(t, ownsRecord(StageArchive))
}
