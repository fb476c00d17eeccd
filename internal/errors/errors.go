// Package errors defines the HTTP error envelope shared by the server and
// its middleware.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
)

// Error codes used in HTTP responses.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// HTTPErrorResponse is the JSON body of every error response.
type HTTPErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody carries the error fields.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// HTTPError is an error with an HTTP status and code attached.
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *HTTPError) Unwrap() error { return e.Err }

// WithDetails returns e with details attached.
func (e *HTTPError) WithDetails(details map[string]any) *HTTPError {
	e.Details = details
	return e
}

func BadRequest(message string, err error) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: message, Err: err}
}

func Validation(message string, err error) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Code: CodeValidation, Message: message, Err: err}
}

func NotFound(message string) *HTTPError {
	return &HTTPError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

func ServiceUnavailable(message string, err error) *HTTPError {
	return &HTTPError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message, Err: err}
}

func Internal(message string, err error) *HTTPError {
	return &HTTPError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: message, Err: err}
}

// RespondWithError writes err as an error envelope. An *HTTPError anywhere
// in the chain sets status and code; anything else is a 500.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	var he *HTTPError
	if !stderrors.As(err, &he) {
		he = Internal("internal server error", err)
	}
	body := ErrorBody{
		Code:    he.Code,
		Message: he.Message,
		Details: he.Details,
	}
	if r != nil {
		body.RequestID = r.Header.Get("X-Request-ID")
	}
	WriteJSON(w, he.Status, HTTPErrorResponse{Error: body})
}

// WriteError writes an envelope with the given status and code.
func WriteError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	WriteJSON(w, status, HTTPErrorResponse{Error: ErrorBody{Code: code, Message: message, Details: details}})
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
