package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"keydash/internal/infrastructure"
	"keydash/internal/shared/testutil"
)

func newTestOTelMiddleware(t *testing.T) (*OTelMiddleware, *testutil.BufferedSlogHandler) {
	logger, logHandler := testutil.NewTestLogger(t)

	providers := &infrastructure.OTelProviders{
		Tracer: tracenoop.NewTracerProvider().Tracer("test"),
		Meter:  metricnoop.NewMeterProvider().Meter("test"),
		Logger: logger,
	}

	m, err := NewOTelMiddleware(providers)
	require.NoError(t, err)
	return m, logHandler
}

func TestNewOTelMiddleware(t *testing.T) {
	m, _ := newTestOTelMiddleware(t)

	assert.NotNil(t, m.BusinessMetrics())
	assert.NotNil(t, m.BusinessMetrics().HTTPActiveRequests)
}

func TestOTelMiddlewareHandler(t *testing.T) {
	m, logHandler := newTestOTelMiddleware(t)

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest("GET", "/api/licenses", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, logHandler.ContainsMessage("HTTP request completed"))
	assert.True(t, logHandler.ContainsAttr("status_code", int64(http.StatusNoContent)))
	assert.True(t, logHandler.ContainsAttr("path", "/api/licenses"))
}

func TestOTelMiddlewareHandlerRecordsErrorStatus(t *testing.T) {
	m, logHandler := newTestOTelMiddleware(t)

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/licenses", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.True(t, logHandler.ContainsAttr("status_code", int64(http.StatusBadGateway)))
}

func TestResponseWriterCapturesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: 200}

	rw.WriteHeader(http.StatusCreated)
	n, err := rw.Write([]byte(`{"id":"KEY-1"}`))

	require.NoError(t, err)
	assert.Equal(t, 14, n)
	assert.Equal(t, http.StatusCreated, rw.statusCode)
	assert.Equal(t, int64(14), rw.bytesWritten)
}

func TestGetRoutePattern(t *testing.T) {
	t.Run("with chi route context", func(t *testing.T) {
		var pattern string

		r := chi.NewRouter()
		r.Get("/api/licenses/{id}", func(w http.ResponseWriter, r *http.Request) {
			pattern = getRoutePattern(r)
			w.WriteHeader(http.StatusOK)
		})

		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/licenses/KEY-1", nil))

		assert.Equal(t, "/api/licenses/{id}", pattern)
	})

	t.Run("without route context", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/plain", nil)
		assert.Equal(t, "/plain", getRoutePattern(req))
	})
}

func TestTraceMiddleware(t *testing.T) {
	called := false
	handler := TraceMiddleware("license.list")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/licenses", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebSocketTraceMiddleware(t *testing.T) {
	logger, logHandler := testutil.NewTestLogger(t)

	handler := WebSocketTraceMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	}))

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://localhost:8080")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSwitchingProtocols, rec.Code)
	assert.True(t, logHandler.ContainsMessage("WebSocket upgrade attempt"))
	assert.True(t, logHandler.ContainsAttr("origin", "http://localhost:8080"))
}

func TestBusinessMetricsMiddleware(t *testing.T) {
	meter := metricnoop.NewMeterProvider().Meter("test")
	metrics, err := infrastructure.CreateBusinessMetrics(meter)
	require.NoError(t, err)

	var got *infrastructure.BusinessMetrics
	handler := BusinessMetricsMiddleware(metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetBusinessMetricsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/licenses", nil))

	assert.Same(t, metrics, got)
}

func TestGetBusinessMetricsFromContextWithoutValue(t *testing.T) {
	assert.Nil(t, GetBusinessMetricsFromContext(context.Background()))
}

func TestRecordLoginMetrics(t *testing.T) {
	meter := metricnoop.NewMeterProvider().Meter("test")
	metrics, err := infrastructure.CreateBusinessMetrics(meter)
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), businessMetricsKey, metrics)

	assert.NotPanics(t, func() {
		RecordLoginMetrics(ctx, true)
		RecordLoginMetrics(ctx, false)
	})

	// Without metrics in context the call is a no-op.
	assert.NotPanics(t, func() {
		RecordLoginMetrics(context.Background(), true)
	})
}

func TestRecordSystemError(t *testing.T) {
	meter := metricnoop.NewMeterProvider().Meter("test")
	metrics, err := infrastructure.CreateBusinessMetrics(meter)
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), businessMetricsKey, metrics)

	assert.NotPanics(t, func() {
		RecordSystemError(ctx, "backend_rejection", "license_client")
		RecordSystemError(context.Background(), "backend_rejection", "license_client")
	})
}

func TestGetRealIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "x-forwarded-for",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7"},
			want:    "203.0.113.7",
		},
		{
			name:    "x-real-ip",
			headers: map[string]string{"X-Real-IP": "203.0.113.9"},
			want:    "203.0.113.9",
		},
		{
			name:    "forwarded-for wins over real-ip",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "203.0.113.9"},
			want:    "203.0.113.7",
		},
		{
			name: "falls back to remote addr",
			want: "192.0.2.1:1234",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/licenses", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}

			assert.Equal(t, tt.want, GetRealIP(req))
		})
	}
}
