package errors

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keydash/internal/shared/testutil"
)

func TestNewErrorMiddleware(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	errorHandler := NewErrorHandler(logger, false)

	mw := NewErrorMiddleware(errorHandler, logger)

	assert.NotNil(t, mw)
	assert.Equal(t, errorHandler, mw.handler)
	assert.NotNil(t, mw.logger)
}

func TestErrorMiddleware_Handler(t *testing.T) {
	tests := []struct {
		name          string
		handler       http.HandlerFunc
		requestBody   string
		requestMethod string
		wantStatus    int
		wantLogLevel  slog.Level
	}{
		{
			name: "successful request",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			requestMethod: "GET",
			wantStatus:    http.StatusOK,
			wantLogLevel:  slog.LevelInfo,
		},
		{
			name: "client error request",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
			requestMethod: "POST",
			requestBody:   `{"days": 0}`,
			wantStatus:    http.StatusBadRequest,
			wantLogLevel:  slog.LevelWarn,
		},
		{
			name: "server error request",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			requestMethod: "POST",
			wantStatus:    http.StatusInternalServerError,
			wantLogLevel:  slog.LevelError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logHandler := testutil.NewTestLogger(t)
			errorHandler := NewErrorHandler(logger, false)
			mw := NewErrorMiddleware(errorHandler, logger)

			var body *strings.Reader
			if tt.requestBody != "" {
				body = strings.NewReader(tt.requestBody)
			} else {
				body = strings.NewReader("")
			}

			w := httptest.NewRecorder()
			r := httptest.NewRequest(tt.requestMethod, "/api/licenses", body)

			mw.Handler(tt.handler).ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)

			records := logHandler.GetRecordsByLevel(tt.wantLogLevel)
			require.NotEmpty(t, records)

			found := false
			for _, rec := range records {
				if rec.Message == "http request" {
					found = true
					assert.Equal(t, int64(tt.wantStatus), rec.Attrs["status"])
					assert.Equal(t, tt.requestMethod, rec.Attrs["method"])
				}
			}
			assert.True(t, found, "expected an http request log record")
		})
	}
}

func TestErrorMiddleware_HandlerRecoversPanic(t *testing.T) {
	logger, logHandler := testutil.NewTestLogger(t)
	errorHandler := NewErrorHandler(logger, false)
	mw := NewErrorMiddleware(errorHandler, logger)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/api/licenses", nil)

	mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	})).ServeHTTP(w, r)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.True(t, logHandler.ContainsMessage("panic recovered"))
}

func TestErrorMiddleware_LogsRequestBodyOnError(t *testing.T) {
	logger, logHandler := testutil.NewTestLogger(t)
	errorHandler := NewErrorHandler(logger, false)
	mw := NewErrorMiddleware(errorHandler, logger)

	body := strings.NewReader(`{"email":"ops@example.com","password":"hunter2"}`)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/api/auth/login", body)

	mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})).ServeHTTP(w, r)

	records := logHandler.GetRecordsByLevel(slog.LevelWarn)
	require.NotEmpty(t, records)

	var logged string
	for _, rec := range records {
		if v, ok := rec.Attrs["request_body"]; ok {
			logged, _ = v.(string)
		}
	}

	require.NotEmpty(t, logged, "expected request body in error log")
	assert.Contains(t, logged, "ops@example.com")
	assert.Contains(t, logged, "[REDACTED]")
	assert.NotContains(t, logged, "hunter2")
}

func TestSanitizeRequestBody(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantContain string
		wantAbsent  string
	}{
		{
			name:        "redacts password",
			body:        `{"email":"ops@example.com","password":"hunter2"}`,
			wantContain: "[REDACTED]",
			wantAbsent:  "hunter2",
		},
		{
			name:        "redacts api key",
			body:        `{"api_key":"sk-secret-value"}`,
			wantContain: "[REDACTED]",
			wantAbsent:  "sk-secret-value",
		},
		{
			name:        "redacts id token",
			body:        `{"idToken":"eyJhbGciOi"}`,
			wantContain: "[REDACTED]",
			wantAbsent:  "eyJhbGciOi",
		},
		{
			name:        "passes through non-json",
			body:        "plain text body",
			wantContain: "plain text body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeRequestBody(tt.body)

			assert.Contains(t, got, tt.wantContain)
			if tt.wantAbsent != "" {
				assert.NotContains(t, got, tt.wantAbsent)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	logger, logHandler := testutil.NewTestLogger(t)
	errorHandler := NewErrorHandler(logger, false)

	mw := RecoveryMiddleware(errorHandler)

	t.Run("recovers from panic", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/test", nil)

		mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})).ServeHTTP(w, r)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.True(t, logHandler.ContainsMessage("panic recovered"))
	})

	t.Run("passes through normal requests", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest("GET", "/test", nil)

		mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})).ServeHTTP(w, r)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}
