package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"keydash/internal/config"
	apierrors "keydash/internal/errors"
	"keydash/internal/identity"
)

// MockAuthService implements services.AuthService for testing.
type MockAuthService struct {
	mock.Mock
}

func (m *MockAuthService) SignIn(ctx context.Context, email, password string) (*identity.Session, string, error) {
	args := m.Called(ctx, email, password)
	var sess *identity.Session
	if args.Get(0) != nil {
		sess = args.Get(0).(*identity.Session)
	}
	return sess, args.String(1), args.Error(2)
}

func (m *MockAuthService) SignOut(ctx context.Context, cookieValue string) error {
	args := m.Called(ctx, cookieValue)
	return args.Error(0)
}

func (m *MockAuthService) Resolve(ctx context.Context, cookieValue string) (*identity.Session, error) {
	args := m.Called(ctx, cookieValue)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*identity.Session), args.Error(1)
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		TTL:        12 * time.Hour,
		CookieName: "keydash_session",
	}
}

func newAuthRouter(svc *MockAuthService) chi.Router {
	logger := discardLogger()
	h := NewAuthHandler(svc, testSessionConfig(), apierrors.NewErrorHandler(logger, false), logger)

	r := chi.NewRouter()
	r.Mount("/api/auth", h.Routes())
	return r
}

func adminSession() *identity.Session {
	return &identity.Session{
		ID:        "sess-1",
		UserID:    "user-1",
		Email:     "admin@example.com",
		ExpiresAt: time.Now().Add(12 * time.Hour),
	}
}

func findCookie(t *testing.T, res *http.Response, name string) *http.Cookie {
	t.Helper()
	for _, c := range res.Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

func TestLoginSetsSessionCookie(t *testing.T) {
	svc := new(MockAuthService)
	svc.On("SignIn", mock.Anything, "admin@example.com", "hunter2").
		Return(adminSession(), "sealed-opaque-value", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"admin@example.com","password":"hunter2"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	newAuthRouter(svc).ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	cookie := findCookie(t, res, "keydash_session")
	assert.Equal(t, "sealed-opaque-value", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, int((12 * time.Hour).Seconds()), cookie.MaxAge)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)

	body := decodeBody(t, res)
	assert.Equal(t, "user-1", body["user_id"])
	assert.Equal(t, "admin@example.com", body["email"])

	svc.AssertExpectations(t)
}

func TestLoginValidatesForm(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "missing email", payload: `{"password":"hunter2"}`},
		{name: "missing password", payload: `{"email":"admin@example.com"}`},
		{name: "blank email", payload: `{"email":"   ","password":"hunter2"}`},
		{name: "empty body", payload: `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockAuthService)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tt.payload))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			newAuthRouter(svc).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()
			require.Equal(t, http.StatusBadRequest, res.StatusCode)

			body := decodeBody(t, res)
			assert.Equal(t, "/errors/validation", body["type"])
			svc.AssertNotCalled(t, "SignIn", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestLoginRequiresJSONContentType(t *testing.T) {
	svc := new(MockAuthService)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"admin@example.com","password":"hunter2"}`))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	newAuthRouter(svc).ServeHTTP(w, req)

	res := w.Result()
	res.Body.Close()
	require.Equal(t, http.StatusUnsupportedMediaType, res.StatusCode)
	svc.AssertNotCalled(t, "SignIn", mock.Anything, mock.Anything, mock.Anything)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := new(MockAuthService)
	svc.On("SignIn", mock.Anything, "admin@example.com", "wrong").
		Return(nil, "", apierrors.ErrInvalidCredentials)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"admin@example.com","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	newAuthRouter(svc).ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	body := decodeBody(t, res)
	assert.Equal(t, "/errors/auth/invalid-credentials", body["type"])
	assert.Empty(t, res.Cookies(), "a rejected sign-in must not set a cookie")
}

func TestLoginWhenIdentityProviderIsDown(t *testing.T) {
	svc := new(MockAuthService)
	svc.On("SignIn", mock.Anything, "admin@example.com", "hunter2").
		Return(nil, "", apierrors.ErrIdentityUnavailable)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"admin@example.com","password":"hunter2"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	newAuthRouter(svc).ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, res.StatusCode)

	body := decodeBody(t, res)
	assert.Equal(t, "/errors/auth/identity-unavailable", body["type"])
}

func TestLoginWhenGatewayNotConfigured(t *testing.T) {
	svc := new(MockAuthService)
	svc.On("SignIn", mock.Anything, "admin@example.com", "hunter2").
		Return(nil, "", apierrors.ErrGatewayNotConfigured)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
		strings.NewReader(`{"email":"admin@example.com","password":"hunter2"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	newAuthRouter(svc).ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusInternalServerError, res.StatusCode)

	body := decodeBody(t, res)
	assert.Equal(t, "/errors/auth/not-configured", body["type"])
}

func TestLogoutEndsSessionAndClearsCookie(t *testing.T) {
	svc := new(MockAuthService)
	svc.On("SignOut", mock.Anything, "sealed-opaque-value").Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "keydash_session", Value: "sealed-opaque-value"})
	w := httptest.NewRecorder()
	newAuthRouter(svc).ServeHTTP(w, req)

	res := w.Result()
	res.Body.Close()
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	cookie := findCookie(t, res, "keydash_session")
	assert.Empty(t, cookie.Value)
	assert.Negative(t, cookie.MaxAge)

	svc.AssertExpectations(t)
}

func TestLogoutWithoutCookieStillSucceeds(t *testing.T) {
	svc := new(MockAuthService)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	w := httptest.NewRecorder()
	newAuthRouter(svc).ServeHTTP(w, req)

	res := w.Result()
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	svc.AssertNotCalled(t, "SignOut", mock.Anything, mock.Anything)
}

func TestLogoutToleratesSignOutFailure(t *testing.T) {
	svc := new(MockAuthService)
	svc.On("SignOut", mock.Anything, "garbage").Return(apierrors.ErrSessionNotFound)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "keydash_session", Value: "garbage"})
	w := httptest.NewRecorder()
	newAuthRouter(svc).ServeHTTP(w, req)

	res := w.Result()
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	cookie := findCookie(t, res, "keydash_session")
	assert.Negative(t, cookie.MaxAge)
}

func TestSessionReportsSignedInAdmin(t *testing.T) {
	svc := new(MockAuthService)
	svc.On("Resolve", mock.Anything, "sealed-opaque-value").Return(adminSession(), nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: "keydash_session", Value: "sealed-opaque-value"})
	w := httptest.NewRecorder()
	newAuthRouter(svc).ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	body := decodeBody(t, res)
	assert.Equal(t, "user-1", body["user_id"])
	assert.Equal(t, "admin@example.com", body["email"])
	assert.NotEmpty(t, body["expires_at"])
}

func TestSessionWithoutCookieIsUnauthorized(t *testing.T) {
	svc := new(MockAuthService)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	w := httptest.NewRecorder()
	newAuthRouter(svc).ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	body := decodeBody(t, res)
	assert.Equal(t, "/errors/unauthorized", body["type"])
	svc.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
}

func TestSessionExpiredIsUnauthorized(t *testing.T) {
	svc := new(MockAuthService)
	svc.On("Resolve", mock.Anything, "stale").Return(nil, apierrors.ErrSessionNotFound)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: "keydash_session", Value: "stale"})
	w := httptest.NewRecorder()
	newAuthRouter(svc).ServeHTTP(w, req)

	res := w.Result()
	defer res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	body := decodeBody(t, res)
	assert.Equal(t, "/errors/unauthorized", body["type"])
	assert.Contains(t, body["detail"], "expired or was signed out")
}
