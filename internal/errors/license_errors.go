package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// Domain-level errors (using errors package for sentinel errors)
var (
	// Identity gateway
	ErrGatewayNotConfigured = errors.New("identity gateway not configured")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrIdentityUnavailable  = errors.New("identity provider unavailable")
	ErrSessionNotFound      = errors.New("session not found")

	// License backend
	ErrBackendUnavailable = errors.New("license backend unavailable")
	ErrLicenseMissing     = errors.New("license key not found")

	// Action dispatcher
	ErrActionInFlight = errors.New("another action is already pending")
	ErrInvalidDays    = errors.New("days must be at least 1")
)

// BackendRejection reports a non-2xx reply from the license backend. The
// backend's message is surfaced to the operator verbatim.
type BackendRejection struct {
	StatusCode int
	Message    string
}

// Error implements the error interface
func (e *BackendRejection) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("backend request failed with status %d", e.StatusCode)
}

// NewBackendRejection creates a rejection from a backend status and message
func NewBackendRejection(statusCode int, message string) *BackendRejection {
	return &BackendRejection{
		StatusCode: statusCode,
		Message:    message,
	}
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// Additional fields for extensibility
	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON custom marshaler to include extensions
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{})

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status

	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	for k, v := range pd.Extensions {
		data[k] = v
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// MapDomainError maps domain errors to HTTP problem details
func MapDomainError(err error, traceID string) render.Renderer {
	instance := fmt.Sprintf("/api/licenses#trace-%s", traceID)

	// A backend rejection keeps its original status so the operator sees
	// exactly what the backend said.
	var rejection *BackendRejection
	if errors.As(err, &rejection) {
		status := rejection.StatusCode
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		return NewProblemDetails(
			status,
			TypeBackendRejected,
			"Backend Rejected Request",
			rejection.Message,
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "BACKEND_REJECTED").
			WithExtension("backend_status", rejection.StatusCode)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return NewProblemDetails(
			apiErr.StatusCode,
			TypeInternal,
			http.StatusText(apiErr.StatusCode),
			apiErr.Message,
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", apiErr.ErrorCode)
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return NewProblemDetails(
			http.StatusUnauthorized,
			TypeInvalidCredentials,
			"Invalid Credentials",
			"Invalid email or password.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INVALID_CREDENTIALS")

	case errors.Is(err, ErrGatewayNotConfigured):
		return NewProblemDetails(
			http.StatusInternalServerError,
			TypeNotConfigured,
			"Identity Gateway Not Configured",
			"The identity gateway is missing required configuration. Sign-in is unavailable.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "CONFIGURATION_ERROR")

	case errors.Is(err, ErrIdentityUnavailable):
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			TypeIdentityDown,
			"Identity Provider Unavailable",
			"Unable to reach the identity provider. Please try again later.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "IDENTITY_UNAVAILABLE")

	case errors.Is(err, ErrSessionNotFound):
		return NewProblemDetails(
			http.StatusUnauthorized,
			TypeUnauthorized,
			"Session Not Found",
			"Your session has expired or was signed out. Please sign in again.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "SESSION_NOT_FOUND")

	case errors.Is(err, ErrBackendUnavailable):
		return NewProblemDetails(
			http.StatusServiceUnavailable,
			TypeBackendDown,
			"License Backend Unavailable",
			"Unable to reach the license backend. Please try again later.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "BACKEND_UNAVAILABLE")

	case errors.Is(err, ErrLicenseMissing):
		return NewProblemDetails(
			http.StatusNotFound,
			TypeNotFound,
			"License Not Found",
			"No license with that key exists.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "LICENSE_NOT_FOUND")

	case errors.Is(err, ErrActionInFlight):
		return NewProblemDetails(
			http.StatusConflict,
			TypeActionInFlight,
			"Action Already Pending",
			"Another license action is still pending. Wait for it to finish and try again.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "ACTION_IN_FLIGHT")

	case errors.Is(err, ErrInvalidDays):
		return NewProblemDetails(
			http.StatusBadRequest,
			TypeValidation,
			"Invalid Duration",
			"The license duration must be at least one day.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INVALID_DAYS")

	default:
		// Generic error
		return NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "INTERNAL_ERROR")
	}
}
