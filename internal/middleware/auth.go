package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apierrors "keydash/internal/errors"
	"keydash/internal/infrastructure"
)

// DefaultSessionCookie is the cookie the dashboard stores its session ID in.
const DefaultSessionCookie = "keydash_session"

// SessionGuard authenticates dashboard requests by resolving the session
// cookie against the identity session store. Unauthenticated API calls get
// an RFC 7807 response; browser navigation is redirected to the login page.
type SessionGuard struct {
	resolver        SessionResolver
	logger          *slog.Logger
	cookieName      string
	excludePaths    []string
	excludePrefixes []string
	enabled         bool
	redirectOnFail  bool
	loginPageURL    string
	metrics         *GuardMetrics
}

// GuardMetrics holds OpenTelemetry instruments for the session guard.
type GuardMetrics struct {
	RequestsTotal   metric.Int64Counter
	ResolveAttempts metric.Int64Counter
	ResolveSuccess  metric.Int64Counter
	ResolveFailures metric.Int64Counter
	ResolveDuration metric.Float64Histogram
	PathExclusions  metric.Int64Counter
	RedirectsTotal  metric.Int64Counter
}

// NewGuardMetrics creates the session guard instruments on the given meter.
func NewGuardMetrics(meter metric.Meter) (*GuardMetrics, error) {
	requestsTotal, err := meter.Int64Counter(
		"session_guard_requests_total",
		metric.WithDescription("Requests seen by the session guard"),
	)
	if err != nil {
		return nil, err
	}

	resolveAttempts, err := meter.Int64Counter(
		"session_resolve_attempts_total",
		metric.WithDescription("Session cookie resolution attempts"),
	)
	if err != nil {
		return nil, err
	}

	resolveSuccess, err := meter.Int64Counter(
		"session_resolve_success_total",
		metric.WithDescription("Successful session resolutions"),
	)
	if err != nil {
		return nil, err
	}

	resolveFailures, err := meter.Int64Counter(
		"session_resolve_failures_total",
		metric.WithDescription("Failed session resolutions"),
	)
	if err != nil {
		return nil, err
	}

	resolveDuration, err := meter.Float64Histogram(
		"session_resolve_duration_seconds",
		metric.WithDescription("Session resolution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	pathExclusions, err := meter.Int64Counter(
		"session_guard_exclusions_total",
		metric.WithDescription("Requests skipped by path exclusion"),
	)
	if err != nil {
		return nil, err
	}

	redirectsTotal, err := meter.Int64Counter(
		"session_guard_redirects_total",
		metric.WithDescription("Browser requests redirected to the login page"),
	)
	if err != nil {
		return nil, err
	}

	return &GuardMetrics{
		RequestsTotal:   requestsTotal,
		ResolveAttempts: resolveAttempts,
		ResolveSuccess:  resolveSuccess,
		ResolveFailures: resolveFailures,
		ResolveDuration: resolveDuration,
		PathExclusions:  pathExclusions,
		RedirectsTotal:  redirectsTotal,
	}, nil
}

// NewSessionGuard creates a session guard with the default exclusion list.
// The login page, auth endpoints, health probes, and static assets stay
// reachable without a session.
func NewSessionGuard(resolver SessionResolver, logger *slog.Logger) *SessionGuard {
	return &SessionGuard{
		resolver:       resolver,
		logger:         logger.With(slog.String("component", "session_guard")),
		cookieName:     DefaultSessionCookie,
		enabled:        true,
		redirectOnFail: true,
		loginPageURL:   "/",
		excludePaths: []string{
			"/",
			"/api/auth/login",
			"/api/auth/logout",
			"/api/auth/session",
			"/api/health",
			"/api/health/ready",
			"/api/health/live",
			"/api/version",
			"/metrics",
			"/favicon.ico",
			"/robots.txt",
			"/manifest.json",
		},
		excludePrefixes: []string{
			"/static/",
			"/assets/",
		},
	}
}

// Handler returns the middleware handler function.
func (sg *SessionGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tracer := otel.Tracer("keydash")

		ctx, span := tracer.Start(ctx, "session_guard.authenticate",
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
				attribute.String("component", "session_guard"),
			),
		)
		defer span.End()
		r = r.WithContext(ctx)

		traceID := infrastructure.TraceIDFromContext(ctx)
		if traceID == "" {
			traceID = GetReqID(ctx)
		}

		if sg.metrics != nil {
			sg.metrics.RequestsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("path", r.URL.Path),
				attribute.String("method", r.Method),
			))
		}

		if !sg.enabled {
			sg.logger.DebugContext(ctx, "session guard disabled",
				slog.String("path", r.URL.Path),
				slog.String("trace_id", traceID))
			next.ServeHTTP(w, r)
			return
		}

		if sg.shouldExcludePath(r.URL.Path) {
			span.SetAttributes(
				attribute.String("session.check", "excluded"),
				attribute.String("exclusion_reason", "path_excluded"),
			)

			if sg.metrics != nil {
				sg.metrics.PathExclusions.Add(ctx, 1, metric.WithAttributes(
					attribute.String("path", r.URL.Path),
				))
			}

			next.ServeHTTP(w, r)
			return
		}

		cookie, err := r.Cookie(sg.cookieName)
		if err != nil || cookie.Value == "" {
			span.SetAttributes(attribute.String("session.check", "no_cookie"))
			sg.handleUnauthenticated(w, r, traceID, "missing_session")
			return
		}

		start := time.Now()
		principal, err := sg.resolver.Resolve(ctx, cookie.Value)
		resolveDuration := time.Since(start)

		if sg.metrics != nil {
			sg.metrics.ResolveAttempts.Add(ctx, 1)
			sg.metrics.ResolveDuration.Record(ctx, resolveDuration.Seconds())

			if err == nil {
				sg.metrics.ResolveSuccess.Add(ctx, 1)
			} else {
				sg.metrics.ResolveFailures.Add(ctx, 1)
			}
		}

		span.SetAttributes(
			attribute.String("session.check", "performed"),
			attribute.Bool("session.valid", err == nil),
			attribute.Float64("session.resolve_ms", float64(resolveDuration.Milliseconds())),
		)

		if err != nil {
			if errors.Is(err, apierrors.ErrSessionNotFound) {
				sg.logger.InfoContext(ctx, "session expired or unknown",
					slog.String("path", r.URL.Path),
					slog.String("trace_id", traceID))
				sg.handleUnauthenticated(w, r, traceID, "session_expired")
				return
			}

			span.RecordError(err)
			sg.logger.ErrorContext(ctx, "session resolution error",
				slog.String("error", err.Error()),
				slog.String("path", r.URL.Path),
				slog.String("trace_id", traceID))
			handleError(w, r, err, sg.logger)
			return
		}

		span.SetAttributes(attribute.String("session.user_id", principal.UserID))

		ctx = WithPrincipal(ctx, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// shouldExcludePath checks whether the path skips session enforcement.
func (sg *SessionGuard) shouldExcludePath(path string) bool {
	for _, excluded := range sg.excludePaths {
		if path == excluded {
			return true
		}
	}

	for _, prefix := range sg.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}

// handleUnauthenticated rejects or redirects a request without a usable
// session.
func (sg *SessionGuard) handleUnauthenticated(w http.ResponseWriter, r *http.Request, traceID, reason string) {
	ctx := r.Context()

	if isAPIRequest(r) {
		sg.logger.InfoContext(ctx, "rejecting unauthenticated API request",
			slog.String("path", r.URL.Path),
			slog.String("reason", reason),
			slog.String("trace_id", traceID))

		problem := apierrors.NewProblemDetails(
			http.StatusUnauthorized,
			apierrors.TypeUnauthorized,
			"Authentication Required",
			"Sign in to access this resource.",
			fmt.Sprintf("%s#%s", r.URL.Path, traceID),
		).WithExtension("trace_id", traceID).
			WithExtension("error_code", "SESSION_NOT_FOUND").
			WithExtension("login_url", sg.loginPageURL)

		render.Render(w, r, problem)
		return
	}

	if sg.redirectOnFail {
		sg.logger.InfoContext(ctx, "redirecting unauthenticated request to login",
			slog.String("path", r.URL.Path),
			slog.String("reason", reason),
			slog.String("trace_id", traceID))

		if sg.metrics != nil {
			sg.metrics.RedirectsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("reason", reason),
			))
		}

		sg.redirectToLoginPage(w, r, reason)
		return
	}

	http.Error(w, "Authentication required. Sign in to continue.", http.StatusUnauthorized)
}

// redirectToLoginPage sends the browser to the login page, preserving the
// requested path so the shell can return after sign-in.
func (sg *SessionGuard) redirectToLoginPage(w http.ResponseWriter, r *http.Request, reason string) {
	redirectURL := sg.loginPageURL
	if reason != "" {
		if strings.Contains(redirectURL, "?") {
			redirectURL += fmt.Sprintf("&reason=%s", reason)
		} else {
			redirectURL += fmt.Sprintf("?reason=%s", reason)
		}
	}

	if r.URL.Path != "/" && r.URL.Path != sg.loginPageURL {
		returnURL := r.URL.Path
		if r.URL.RawQuery != "" {
			returnURL += "?" + r.URL.RawQuery
		}
		if strings.Contains(redirectURL, "?") {
			redirectURL += fmt.Sprintf("&return=%s", returnURL)
		} else {
			redirectURL += fmt.Sprintf("?return=%s", returnURL)
		}
	}

	http.Redirect(w, r, redirectURL, http.StatusTemporaryRedirect)
}

// isAPIRequest checks whether the request expects a JSON response. WebSocket
// upgrades count as API traffic so a failed handshake gets a problem
// response instead of a redirect.
func isAPIRequest(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return true
	}

	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") {
		return true
	}

	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		return true
	}

	return strings.HasPrefix(r.URL.Path, "/api/")
}

// Configuration methods for guard customization.

// SetEnabled enables or disables session enforcement.
func (sg *SessionGuard) SetEnabled(enabled bool) {
	sg.enabled = enabled
}

// SetRedirectOnFail sets whether browser requests are redirected to the
// login page when unauthenticated.
func (sg *SessionGuard) SetRedirectOnFail(redirect bool) {
	sg.redirectOnFail = redirect
}

// SetLoginPageURL sets the login page target for redirects.
func (sg *SessionGuard) SetLoginPageURL(url string) {
	sg.loginPageURL = url
}

// SetCookieName overrides the session cookie name.
func (sg *SessionGuard) SetCookieName(name string) {
	sg.cookieName = name
}

// AddExcludePath adds a path that skips session enforcement.
func (sg *SessionGuard) AddExcludePath(path string) {
	sg.excludePaths = append(sg.excludePaths, path)
}

// AddExcludePrefix adds a path prefix that skips session enforcement.
func (sg *SessionGuard) AddExcludePrefix(prefix string) {
	sg.excludePrefixes = append(sg.excludePrefixes, prefix)
}

// SetMetrics sets the OpenTelemetry instruments for the guard.
func (sg *SessionGuard) SetMetrics(metrics *GuardMetrics) {
	sg.metrics = metrics
}
