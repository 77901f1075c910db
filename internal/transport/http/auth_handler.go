package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"keydash/internal/config"
	apierrors "keydash/internal/errors"
	"keydash/internal/middleware"
	"keydash/internal/services"
)

// AuthHandler handles sign-in, sign-out, and session introspection. The
// session itself lives server-side; the browser only ever holds the
// sealed cookie.
type AuthHandler struct {
	service      services.AuthService
	cookies      config.SessionConfig
	errs         *apierrors.ErrorHandler
	logger       *slog.Logger
	loginLimiter func(http.Handler) http.Handler
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(service services.AuthService, cookies config.SessionConfig, errs *apierrors.ErrorHandler, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookies: cookies,
		errs:    errs,
		logger:  logger.With(slog.String("handler", "auth")),
	}
}

// LoginRequest is the sign-in payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Bind implements render.Binder. Both fields are required; the identity
// gateway decides whether they are correct.
func (l *LoginRequest) Bind(r *http.Request) error {
	l.Email = strings.TrimSpace(l.Email)
	if l.Email == "" {
		return errors.New("email is required")
	}
	if l.Password == "" {
		return errors.New("password is required")
	}
	return nil
}

// SessionResponse describes the signed-in admin to the browser.
type SessionResponse struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SetLoginLimiter installs throttling middleware on the login route only.
// Session checks and logout stay unthrottled.
func (h *AuthHandler) SetLoginLimiter(mw func(http.Handler) http.Handler) {
	h.loginLimiter = mw
}

// Routes returns the auth endpoints.
func (h *AuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Timeout(30*time.Second, h.logger))

	jsonOnly := middleware.ContentTypeValidator("application/json")
	if h.loginLimiter != nil {
		r.With(h.loginLimiter, jsonOnly).Post("/login", h.Login)
	} else {
		r.With(jsonOnly).Post("/login", h.Login)
	}
	r.Post("/logout", h.Logout)
	r.Get("/session", h.Session)

	return r
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	reqID := middleware.GetReqID(ctx)
	tracer := otel.Tracer("auth-handler")

	ctx, span := tracer.Start(ctx, "auth_handler.login",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", "/api/auth/login"),
			attribute.String("request_id", reqID),
		),
	)
	defer span.End()

	var req LoginRequest
	if err := render.Bind(r, &req); err != nil {
		span.RecordError(err)
		h.errs.HandleError(w, r.WithContext(ctx), apierrors.ErrValidation("credentials", err.Error()))
		return
	}

	sess, cookieValue, err := h.service.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		span.RecordError(err)
		middleware.RecordLoginMetrics(ctx, false)
		h.logger.WarnContext(ctx, "sign-in rejected",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()))
		h.errs.HandleError(w, r.WithContext(ctx), err)
		return
	}

	middleware.RecordLoginMetrics(ctx, true)
	http.SetCookie(w, h.sessionCookie(cookieValue, h.cookies.TTL))

	h.logger.InfoContext(ctx, "admin signed in",
		slog.String("request_id", reqID),
		slog.String("user_id", sess.UserID))

	render.JSON(w, r, SessionResponse{
		UserID:    sess.UserID,
		Email:     sess.Email,
		ExpiresAt: sess.ExpiresAt,
	})
}

// Logout handles POST /api/auth/logout. Signing out twice, or with a
// mangled cookie, still clears the cookie and returns 204.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if cookie, err := r.Cookie(h.cookies.CookieName); err == nil {
		if err := h.service.SignOut(ctx, cookie.Value); err != nil {
			h.logger.WarnContext(ctx, "sign-out failed",
				slog.String("request_id", middleware.GetReqID(ctx)),
				slog.String("error", err.Error()))
		}
	}

	http.SetCookie(w, h.expiredCookie())
	render.NoContent(w, r)
}

// Session handles GET /api/auth/session. It reports who is signed in,
// or a 401 problem when the cookie is absent, mangled, or expired.
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cookie, err := r.Cookie(h.cookies.CookieName)
	if err != nil {
		h.errs.HandleError(w, r, apierrors.ErrSessionNotFound)
		return
	}

	sess, err := h.service.Resolve(ctx, cookie.Value)
	if err != nil {
		h.errs.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, SessionResponse{
		UserID:    sess.UserID,
		Email:     sess.Email,
		ExpiresAt: sess.ExpiresAt,
	})
}

func (h *AuthHandler) sessionCookie(value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     h.cookies.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.cookies.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (h *AuthHandler) expiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     h.cookies.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookies.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
