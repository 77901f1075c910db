package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "keydash/internal/errors"
	"keydash/internal/shared/testutil"
)

func newTestValidationMiddleware(t *testing.T) *ValidationMiddleware {
	logger, _ := testutil.NewTestLogger(t)
	return NewValidationMiddleware(logger, apierrors.NewErrorHandler(logger, false))
}

func TestValidateRequestPassesValidJSON(t *testing.T) {
	vm := newTestValidationMiddleware(t)

	var bodySeen string
	handler := vm.ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		bodySeen = string(body)
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("POST", "/api/licenses", strings.NewReader(`{"days":30}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"days":30}`, bodySeen, "body must be restored for the handler")
}

func TestValidateRequestRejectsInvalidJSON(t *testing.T) {
	vm := newTestValidationMiddleware(t)

	handler := vm.ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run for invalid JSON")
	}))

	req := httptest.NewRequest("POST", "/api/licenses", strings.NewReader(`{"days":`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_JSON")
}

func TestValidateRequestRejectsOversizedBody(t *testing.T) {
	vm := newTestValidationMiddleware(t)
	vm.maxBodySize = 16

	handler := vm.ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run for oversized bodies")
	}))

	payload := bytes.Repeat([]byte("a"), 64)
	req := httptest.NewRequest("POST", "/api/licenses", bytes.NewReader(payload))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "PAYLOAD_TOO_LARGE")
}

func TestValidateRequestSkipsReadMethods(t *testing.T) {
	vm := newTestValidationMiddleware(t)

	handler := vm.ValidateRequest(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, method := range []string{"GET", "HEAD", "OPTIONS"} {
		req := httptest.NewRequest(method, "/api/licenses", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, "method %s should skip validation", method)
	}
}

func TestValidateStruct(t *testing.T) {
	vm := newTestValidationMiddleware(t)

	type createRequest struct {
		Days  int    `json:"days" validate:"required,min=1"`
		Email string `json:"email" validate:"omitempty,email"`
	}

	type actionRequest struct {
		ID string `json:"id" validate:"required,keyid"`
	}

	tests := []struct {
		name        string
		input       interface{}
		wantErr     bool
		wantMessage string
	}{
		{
			name:    "valid create request",
			input:   createRequest{Days: 30},
			wantErr: false,
		},
		{
			name:        "zero days",
			input:       createRequest{Days: 0},
			wantErr:     true,
			wantMessage: "days is required",
		},
		{
			name:        "negative days",
			input:       createRequest{Days: -5},
			wantErr:     true,
			wantMessage: "days must be at least 1",
		},
		{
			name:        "bad email",
			input:       createRequest{Days: 30, Email: "not-an-email"},
			wantErr:     true,
			wantMessage: "email must be a valid email address",
		},
		{
			name:    "valid key id",
			input:   actionRequest{ID: "KEY-ACTIVE-0001"},
			wantErr: false,
		},
		{
			name:        "key id with whitespace",
			input:       actionRequest{ID: "KEY 1"},
			wantErr:     true,
			wantMessage: "id must be a valid license key ID",
		},
		{
			name:        "missing key id",
			input:       actionRequest{},
			wantErr:     true,
			wantMessage: "id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := vm.ValidateStruct(tt.input)

			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)

			var apiErr *apierrors.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, "VALIDATION_FAILED", apiErr.ErrorCode)

			details, ok := apiErr.Details.(apierrors.ValidationErrors)
			require.True(t, ok, "details should carry field errors")
			require.NotEmpty(t, details.Errors)
			assert.Equal(t, tt.wantMessage, details.Errors[0].Message)
		})
	}
}

func TestIsValidKeyID(t *testing.T) {
	vm := newTestValidationMiddleware(t)

	type idHolder struct {
		ID string `json:"id" validate:"keyid"`
	}

	valid := []string{
		"KEY-ACTIVE-0001",
		"a",
		"0f8fad5b-d9cb-469f-a165-70867728950e",
		strings.Repeat("k", 128),
	}
	for _, id := range valid {
		assert.NoError(t, vm.ValidateStruct(idHolder{ID: id}), "id %q should validate", id)
	}

	invalid := []string{
		"key with space",
		"key\tid",
		"key\nid",
		strings.Repeat("k", 129),
	}
	for _, id := range invalid {
		assert.Error(t, vm.ValidateStruct(idHolder{ID: id}), "id %q should fail", id)
	}
}

func TestContentTypeValidator(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		contentType string
		wantStatus  int
	}{
		{
			name:        "json accepted",
			method:      "POST",
			contentType: "application/json",
			wantStatus:  http.StatusOK,
		},
		{
			name:        "json with charset accepted",
			method:      "POST",
			contentType: "application/json; charset=utf-8",
			wantStatus:  http.StatusOK,
		},
		{
			name:       "missing content type",
			method:     "POST",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:        "unsupported content type",
			method:      "POST",
			contentType: "text/plain",
			wantStatus:  http.StatusUnsupportedMediaType,
		},
		{
			name:       "get skips check",
			method:     "GET",
			wantStatus: http.StatusOK,
		},
		{
			name:       "delete skips check",
			method:     "DELETE",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := ContentTypeValidator("application/json")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/licenses", nil)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestQueryParamValidatorValidateInt(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	qv := NewQueryParamValidator(logger, apierrors.NewErrorHandler(logger, false))

	t.Run("default when absent", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/licenses/export", nil)
		rec := httptest.NewRecorder()

		value, ok := qv.ValidateInt(rec, req, "days", 1, 3650, 30)

		assert.True(t, ok)
		assert.Equal(t, 30, value)
	})

	t.Run("valid value", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/licenses/export?days=90", nil)
		rec := httptest.NewRecorder()

		value, ok := qv.ValidateInt(rec, req, "days", 1, 3650, 30)

		assert.True(t, ok)
		assert.Equal(t, 90, value)
	})

	t.Run("non-integer", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/licenses/export?days=soon", nil)
		rec := httptest.NewRecorder()

		_, ok := qv.ValidateInt(rec, req, "days", 1, 3650, 30)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("out of range", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/licenses/export?days=0", nil)
		rec := httptest.NewRecorder()

		_, ok := qv.ValidateInt(rec, req, "days", 1, 3650, 30)

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestQueryParamValidatorValidateEnum(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	qv := NewQueryParamValidator(logger, apierrors.NewErrorHandler(logger, false))

	allowed := []string{"xlsx", "csv"}

	t.Run("default when absent", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/licenses/export", nil)
		rec := httptest.NewRecorder()

		value, ok := qv.ValidateEnum(rec, req, "format", allowed, "xlsx")

		assert.True(t, ok)
		assert.Equal(t, "xlsx", value)
	})

	t.Run("allowed value", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/licenses/export?format=csv", nil)
		rec := httptest.NewRecorder()

		value, ok := qv.ValidateEnum(rec, req, "format", allowed, "xlsx")

		assert.True(t, ok)
		assert.Equal(t, "csv", value)
	})

	t.Run("rejected value", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/licenses/export?format=pdf", nil)
		rec := httptest.NewRecorder()

		_, ok := qv.ValidateEnum(rec, req, "format", allowed, "xlsx")

		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "format must be one of")
	})
}
