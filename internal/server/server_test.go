package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nishanth230499/s3-ui/internal/errors"
	"github.com/nishanth230499/s3-ui/internal/server/handlers"
	"github.com/nishanth230499/s3-ui/pkg/progress"
	"github.com/nishanth230499/s3-ui/pkg/zipjob"
)

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
}

func TestServer_Port(t *testing.T) {
	tests := []struct {
		name string
		port int
	}{
		{"default port", 8080},
		{"custom port", 9000},
		{"zero port", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New("127.0.0.1", tt.port)
			assert.Equal(t, tt.port, srv.Port())
		})
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodPost, "/version", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "METHOD_NOT_ALLOWED", body.Error.Code)
}

func TestServer_RoutesRegistered(t *testing.T) {
	handlers.InitHealthManager("test")

	srv := New("127.0.0.1", 0)

	endpoints := []struct {
		method string
		path   string
		want   int
	}{
		{"GET", "/health", http.StatusOK},
		{"GET", "/health/live", http.StatusOK},
		{"GET", "/health/ready", http.StatusOK},
		{"GET", "/health/startup", http.StatusOK},
		{"GET", "/version", http.StatusOK},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, req)
			assert.Equal(t, ep.want, rec.Code, "endpoint %s %s should return %d", ep.method, ep.path, ep.want)
		})
	}
}

func TestServer_ZipRoutesAbsentWithoutHandler(t *testing.T) {
	srv := New("127.0.0.1", 0)

	req := httptest.NewRequest(http.MethodPost, "/api/zip-files/media", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type blockingJobs struct {
	release chan struct{}
	mu      sync.Mutex
	done    int
}

func (b *blockingJobs) Handle(ctx context.Context, req zipjob.Request) (zipjob.Response, error) {
	<-b.release
	b.mu.Lock()
	b.done++
	b.mu.Unlock()
	return zipjob.Response{StatusCode: http.StatusOK, Body: zipjob.BodyZipped, Outcome: zipjob.OutcomeFinalized}, nil
}

type noRecords struct{}

func (noRecords) List(context.Context, string) ([]progress.Record, error) { return nil, nil }

func TestServer_ShutdownDrainsJobs(t *testing.T) {
	jobs := &blockingJobs{release: make(chan struct{})}
	zh := handlers.NewZipHandler(context.Background(), jobs, noRecords{}, nil, nil)
	srv := New("127.0.0.1", 0, WithZipHandler(zh))

	body := `{"folder":"photos/","prefixes":["photos/2024/"],"zip_file_name":"summer.zip"}`
	req := httptest.NewRequest(http.MethodPost, "/api/zip-files/media", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, srv.Shutdown(short), context.DeadlineExceeded)

	close(jobs.release)
	require.NoError(t, srv.Shutdown(context.Background()))

	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	assert.Equal(t, 1, jobs.done)
}
