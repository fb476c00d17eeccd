package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nishanth230499/s3-ui/internal/errors"
	"github.com/nishanth230499/s3-ui/pkg/progress"
	"github.com/nishanth230499/s3-ui/pkg/zipjob"
)

type recordingJobs struct {
	mu   sync.Mutex
	reqs []zipjob.Request
}

func (r *recordingJobs) Handle(_ context.Context, req zipjob.Request) (zipjob.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	return zipjob.Response{StatusCode: http.StatusOK, Body: zipjob.BodyZipped, Outcome: zipjob.OutcomeFinalized}, nil
}

type stubLister struct {
	records []progress.Record
	err     error
	folder  string
}

func (s *stubLister) List(_ context.Context, folder string) ([]progress.Record, error) {
	s.folder = folder
	return s.records, s.err
}

func newRouter(h *ZipHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/zip-files/{bucket}", h.Submit)
	r.Get("/api/zip-progress", h.Progress)
	return r
}

func regions(m map[string]string) BucketResolver {
	return func(bucket string) (string, bool) {
		region, ok := m[bucket]
		return region, ok
	}
}

func TestZipHandler_Submit(t *testing.T) {
	jobs := &recordingJobs{}
	h := NewZipHandler(context.Background(), jobs, &stubLister{}, regions(map[string]string{"media": "eu-west-1"}), nil)

	body := `{"folder":"photos/","prefixes":["photos/2024/","photos/raw.jpg"],"zip_file_name":"summer 2024.zip"}`
	req := httptest.NewRequest(http.MethodPost, "/api/zip-files/media", strings.NewReader(body))
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Zip request sent!", resp.Message)

	require.NoError(t, h.Wait(context.Background()))
	require.Len(t, jobs.reqs, 1)
	assert.Equal(t, zipjob.Request{
		Region:      "eu-west-1",
		Bucket:      "media",
		Folder:      "photos/",
		Prefixes:    []string{"photos/2024/", "photos/raw.jpg"},
		ZipFileName: "summer 2024.zip",
	}, jobs.reqs[0])
}

func TestZipHandler_SubmitRejects(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		body     string
		wantCode int
		wantErr  string
		field    string
	}{
		{"unknown bucket", "other", `{"folder":"","prefixes":["a"],"zip_file_name":"a.zip"}`, http.StatusNotFound, apperrors.CodeNotFound, ""},
		{"malformed json", "media", `{"folder":`, http.StatusBadRequest, apperrors.CodeBadRequest, ""},
		{"unknown field", "media", `{"folder":"","prefixes":["a"],"zipFileName":"a.zip"}`, http.StatusBadRequest, apperrors.CodeBadRequest, ""},
		{"no prefixes", "media", `{"folder":"","prefixes":[],"zip_file_name":"a.zip"}`, http.StatusBadRequest, apperrors.CodeValidation, "prefixes"},
		{"folder without slash", "media", `{"folder":"photos","prefixes":["a"],"zip_file_name":"a.zip"}`, http.StatusBadRequest, apperrors.CodeValidation, "folder"},
		{"bad name", "media", `{"folder":"","prefixes":["a"],"zip_file_name":"../x.zip"}`, http.StatusBadRequest, apperrors.CodeValidation, "zipFileName"},
		{"missing extension", "media", `{"folder":"","prefixes":["a"],"zip_file_name":"archive"}`, http.StatusBadRequest, apperrors.CodeValidation, "zipFileName"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := &recordingJobs{}
			h := NewZipHandler(context.Background(), jobs, &stubLister{}, regions(map[string]string{"media": ""}), nil)

			req := httptest.NewRequest(http.MethodPost, "/api/zip-files/"+tt.bucket, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			newRouter(h).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			var body apperrors.HTTPErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantErr, body.Error.Code)
			if tt.field != "" {
				assert.Equal(t, tt.field, body.Error.Details["field"])
			}

			require.NoError(t, h.Wait(context.Background()))
			assert.Empty(t, jobs.reqs)
		})
	}
}

func TestZipHandler_Progress(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &stubLister{records: []progress.Record{
		{Folder: "/photos/", ZipFileName: "a.zip", CreatedAt: progress.FormatTime(now.Add(-time.Minute)), UpdatedAt: progress.FormatTime(now), Progress: progress.StateListed},
		{Folder: "/photos/", ZipFileName: "b.zip", CreatedAt: progress.FormatTime(now.Add(-time.Hour)), UpdatedAt: progress.FormatTime(now.Add(-time.Hour)), Progress: progress.StateArchived},
		{Folder: "/photos/", ZipFileName: "c.zip", CreatedAt: progress.FormatTime(now.Add(-time.Hour)), UpdatedAt: progress.FormatTime(now.Add(-time.Hour)), Progress: progress.StateFinalized},
	}}
	h := NewZipHandler(context.Background(), &recordingJobs{}, lister, nil, nil)
	h.now = func() time.Time { return now }

	req := httptest.NewRequest(http.MethodGet, "/api/zip-progress?folder=photos/", nil)
	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "photos/", lister.folder)

	var resp ProgressResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.ZipProgress, 3)
	assert.Equal(t, "Listed", resp.ZipProgress[0].Progress)
	assert.Equal(t, "Failed", resp.ZipProgress[1].Progress, "stale non-terminal rows read as Failed")
	assert.Equal(t, "Finalized", resp.ZipProgress[2].Progress)
}

func TestZipHandler_ProgressEmpty(t *testing.T) {
	h := NewZipHandler(context.Background(), &recordingJobs{}, &stubLister{}, nil, nil)

	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/zip-progress", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"zip_progress":[]}`, rec.Body.String())
}

func TestZipHandler_ProgressStoreError(t *testing.T) {
	h := NewZipHandler(context.Background(), &recordingJobs{}, &stubLister{err: errors.New("throttled")}, nil, nil)

	rec := httptest.NewRecorder()
	newRouter(h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/zip-progress?folder=x/", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
