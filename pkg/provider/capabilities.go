package provider

import (
	"context"
	"io"
)

// Optional provider capability interfaces.
//
// The archive pipeline asserts these at wiring time; the core Provider
// interface stays listing-only.

// ObjectGetter can download objects as a stream. contentLength is -1 when
// the provider does not know the length up front.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)
}

// UploadOptions carries the object attributes fixed at multipart creation.
type UploadOptions struct {
	// StorageClass is the provider storage class (e.g. "GLACIER_IR").
	// Empty uses the bucket default.
	StorageClass string

	// Tagging is a URL-encoded tag set ("k1=v1&k2=v2").
	Tagging string

	ContentType string
}

// CompletedPart identifies an uploaded part for completion.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// MultipartUploader can write large objects in parts.
//
// The destination key holds no object until CompleteMultipartUpload
// succeeds; AbortMultipartUpload discards every uploaded part.
type MultipartUploader interface {
	CreateMultipartUpload(ctx context.Context, key string, opts UploadOptions) (uploadID string, err error)
	UploadPart(ctx context.Context, key, uploadID string, partNumber int32, body io.ReadSeeker, size int64) (etag string, err error)
	CompleteMultipartUpload(ctx context.Context, key, uploadID string, parts []CompletedPart) error
	AbortMultipartUpload(ctx context.Context, key, uploadID string) error
}
