package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) HTTPErrorResponse {
	t.Helper()
	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"http error", NotFound("bucket not configured"), http.StatusNotFound, CodeNotFound},
		{"wrapped http error", fmt.Errorf("submit: %w", Validation("invalid zip_file_name", nil)), http.StatusBadRequest, CodeValidation},
		{"plain error", stderrors.New("boom"), http.StatusInternalServerError, CodeInternal},
		{"unavailable", ServiceUnavailable("store down", stderrors.New("timeout")), http.StatusServiceUnavailable, CodeServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("X-Request-ID", "req-1")
			rec := httptest.NewRecorder()

			RespondWithError(rec, req, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			body := decode(t, rec)
			assert.Equal(t, tt.wantCode, body.Error.Code)
			assert.Equal(t, "req-1", body.Error.RequestID)
		})
	}
}

func TestRespondWithError_Details(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondWithError(rec, nil, BadRequest("invalid body", nil).WithDetails(map[string]any{"field": "prefixes"}))

	body := decode(t, rec)
	assert.Equal(t, "prefixes", body.Error.Details["field"])
	assert.Empty(t, body.Error.RequestID)
}

func TestHTTPError_Error(t *testing.T) {
	inner := stderrors.New("eof")
	err := BadRequest("invalid body", inner)

	assert.Equal(t, "invalid body: eof", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "not here", NotFound("not here").Error())
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusMethodNotAllowed, CodeMethodNotAllowed, "method not allowed", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, CodeMethodNotAllowed, body.Error.Code)
	assert.Nil(t, body.Error.Details)
}
