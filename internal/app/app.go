package app

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keydash/internal/audit"
	"keydash/internal/config"
	apierrors "keydash/internal/errors"
	"keydash/internal/identity"
	"keydash/internal/infrastructure"
	"keydash/internal/licensing"
	customMiddleware "keydash/internal/middleware"
	"keydash/internal/services"
	handlers "keydash/internal/transport/http"
	ws "keydash/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

const (
	AppName = "keydash"
	VERSION = "1.2.0"
)

// Application is the composition root. It owns everything with a
// lifecycle: configuration, logging, telemetry, the session store, the
// websocket hub, the services, and the HTTP server itself.
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Router        *chi.Mux
	Server        *http.Server
	Sessions      *identity.Store
	Hub           *ws.Hub
	Services      *ServiceContainer

	frontendFS       fs.FS
	otelMiddleware   *customMiddleware.OTelMiddleware
	systemMetrics    *infrastructure.SystemMetrics
	unsubscribeStore func()
}

// ServiceContainer holds the initialized services handed to the HTTP
// layer.
type ServiceContainer struct {
	Auth      services.AuthService
	Dashboard services.DashboardService
	Health    *services.HealthService
}

// NewApplication wires the dashboard together. frontendFS holds the web
// shell (index.html plus a static/ tree), normally the embedded copy from
// cmd/keydash. A configuration problem, including an unconfigured
// identity gateway or license backend, fails construction; there is no
// degraded mode.
func NewApplication(frontendFS fs.FS) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Initializing application",
		slog.String("name", AppName),
		slog.String("version", VERSION))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		frontendFS:    frontendFS,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.setupRouter(); err != nil {
		return nil, fmt.Errorf("failed to set up router: %w", err)
	}

	app.createServer()

	return app, nil
}

// initializeServices builds the dependency graph bottom-up: external
// clients, stores, the hub, then the services that tie them together.
func (a *Application) initializeServices() error {
	gateway, err := identity.NewClient(a.Config.Identity, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize identity gateway: %w", err)
	}

	sealer, err := identity.NewSealer(a.Config.Session.Secret)
	if err != nil {
		return fmt.Errorf("failed to initialize session sealer: %w", err)
	}

	sessions := identity.NewStore(a.Config.Session.TTL, a.Config.Session.SweepInterval, a.Logger)
	a.Sessions = sessions

	backend, err := licensing.NewClient(a.Config.Backend, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize license backend client: %w", err)
	}

	var trail audit.Recorder = audit.NopRecorder{}
	var sheetsTrail *audit.SheetsRecorder
	if a.Config.Audit.Enabled() {
		sheetsTrail, err = audit.NewSheetsRecorder(context.Background(), a.Config.Audit, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize audit recorder: %w", err)
		}
		trail = sheetsTrail
		a.Logger.Info("Audit trail enabled",
			slog.String("spreadsheet_id", a.Config.Audit.SpreadsheetID))
	}

	hub := ws.NewHub(a.Config.WebSocket, a.Logger)
	a.Hub = hub

	// The middleware owns the metric instruments; everything else that
	// records business events shares them.
	otelMW, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry middleware: %w", err)
	}
	a.otelMiddleware = otelMW
	metrics := otelMW.BusinessMetrics()

	sysMetrics, err := infrastructure.NewSystemMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to initialize system metrics: %w", err)
	}
	a.systemMetrics = sysMetrics

	sessions.SetMetrics(metrics)
	hub.SetMetrics(metrics)
	if sheetsTrail != nil {
		sheetsTrail.SetMetrics(metrics)
	}

	authService := services.NewAuthService(gateway, sessions, sealer, a.Logger)
	dashboardService := services.NewDashboardService(backend, hub, trail, metrics, a.Logger)
	healthService := services.NewHealthService(VERSION, gateway, backend, sessions, hub, a.Logger)

	// A session that signs out or expires takes its dashboard state and
	// its sockets with it.
	a.unsubscribeStore = sessions.Subscribe(func(ev identity.Event) {
		switch ev.Type {
		case identity.EventSignedOut, identity.EventExpired:
			dashboardService.Release(ev.Session.ID)
			hub.EvictSession(ev.Session.ID, string(ev.Type))
		}
	})

	a.Services = &ServiceContainer{
		Auth:      authService,
		Dashboard: dashboardService,
		Health:    healthService,
	}

	return nil
}

// cookieSessions adapts the auth service to the session guard's resolver
// interface: sealed cookie value in, principal out.
type cookieSessions struct {
	auth services.AuthService
}

func (c cookieSessions) Resolve(ctx context.Context, cookieValue string) (customMiddleware.Principal, error) {
	sess, err := c.auth.Resolve(ctx, cookieValue)
	if err != nil {
		return customMiddleware.Principal{}, err
	}
	return customMiddleware.Principal{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Email:     sess.Email,
	}, nil
}

// setupRouter configures the HTTP router with all routes.
func (a *Application) setupRouter() error {
	r := chi.NewRouter()

	// Minimal middleware shared by every route, including the WebSocket
	// upgrade and static assets. The full chain applies to the group
	// below.
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	guard := customMiddleware.NewSessionGuard(cookieSessions{auth: a.Services.Auth}, a.Logger)
	guard.SetCookieName(a.Config.Session.CookieName)

	guardMetrics, err := customMiddleware.NewGuardMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("failed to create session guard metrics: %w", err)
	}
	guard.SetMetrics(guardMetrics)

	shell, err := handlers.NewShellHandler(a.frontendFS, VERSION, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to load web shell: %w", err)
	}

	// The WebSocket route skips the response-wrapping middleware chain;
	// hijacked connections and wrapped writers do not mix.
	wsHandler := handlers.NewWSHandler(a.Hub, a.Config.WebSocket, a.Logger)
	r.Route("/ws", func(r chi.Router) {
		r.Use(customMiddleware.WebSocketTraceMiddleware(a.Logger))
		r.Use(guard.Handler)
		r.Get("/", wsHandler.ServeHTTP)
	})

	r.Route("/static", func(r chi.Router) {
		r.Use(middleware.Compress(5))
		r.Handle("/*", shell.Assets())
	})

	r.Group(func(r chi.Router) {
		r.Use(a.otelMiddleware.Handler)
		r.Use(customMiddleware.BusinessMetricsMiddleware(a.otelMiddleware.BusinessMetrics()))
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.DefaultSecureHeaders().Handler)

		if a.Config.Security.EnableCORS {
			r.Use(customMiddleware.CORS(customMiddleware.CORSConfig{
				AllowedOrigins:   a.Config.Security.AllowedOrigins,
				AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
				AllowCredentials: true,
				Logger:           a.Logger,
			}))
		}

		if a.Config.Security.RateLimit.Enabled {
			limiter := customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger)
			r.Use(limiter.Handler)
		}

		r.Use(guard.Handler)

		a.setupAPIRoutes(r)

		r.Get("/", shell.ServeShell)
	})

	if a.OTelProviders != nil && a.OTelProviders.PrometheusHTTP != nil {
		metricsHandler := http.Handler(a.OTelProviders.PrometheusHTTP)
		if key := a.Config.Security.MetricsAPIKey; key != "" {
			scrapeKeys := map[string]string{key: "prometheus"}
			metricsHandler = customMiddleware.APIKeyAuth(a.Logger, scrapeKeys)(metricsHandler)
		}
		r.Handle("/metrics", metricsHandler)
	}

	a.Router = r
	return nil
}

// setupAPIRoutes mounts the JSON API under /api.
func (a *Application) setupAPIRoutes(r chi.Router) {
	errorHandler := apierrors.NewErrorHandler(a.Logger, a.Config.Logging.Development)

	authHandler := handlers.NewAuthHandler(a.Services.Auth, a.Config.Session, errorHandler, a.Logger)
	if a.Config.Security.LoginRateLimit.Enabled {
		loginLimiter := customMiddleware.NewRateLimiter(
			a.Config.Security.LoginRateLimit.RPS,
			a.Config.Security.LoginRateLimit.Burst,
			a.Logger)
		authHandler.SetLoginLimiter(loginLimiter.Handler)
	}

	licenseHandler := handlers.NewLicenseHandler(a.Services.Dashboard, errorHandler, a.Logger)
	healthHandler := handlers.NewHealthHandler(a.Services.Health, a.Logger)

	validation := customMiddleware.NewValidationMiddleware(a.Logger, errorHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(validation.ValidateRequest)

		r.Mount("/auth", authHandler.Routes())
		r.Mount("/licenses", licenseHandler.Routes())
		r.Mount("/health", healthHandler.Routes())
	})
}

// createServer creates the HTTP server from the configured timeouts.
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start launches the hub and the HTTP server. A listener failure cancels
// the given context so Run can unwind.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("version", VERSION),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	a.Hub.Start()
	go a.systemMetrics.Start(ctx, 15*time.Second, a.Logger)

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.performStartupReadinessCheck(ctx)

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)))

	return nil
}

// performStartupReadinessCheck probes the identity provider and the
// license backend once so a misconfigured deployment shows up in the logs
// immediately instead of on the first admin request. Failures are logged,
// not fatal; the dashboard keeps serving its health endpoints either way.
func (a *Application) performStartupReadinessCheck(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	status := a.Services.Health.ReadinessCheck(checkCtx)
	if status.Status == services.StatusReady {
		a.Logger.InfoContext(ctx, "Startup readiness check passed")
		return
	}

	for name, svc := range status.Services {
		if svc.Status != services.StatusReady {
			a.Logger.WarnContext(ctx, "Dependency not ready at startup",
				slog.String("dependency", name),
				slog.String("message", svc.Message))
		}
	}
}

// Stop gracefully stops the application.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if a.unsubscribeStore != nil {
		a.unsubscribeStore()
	}
	a.Hub.Stop()
	a.Sessions.Close()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry",
				slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return nil
}

// Run runs the application until interrupted or until the server fails.
// One trace ID spans the whole lifecycle so startup and shutdown log
// lines correlate.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(infrastructure.EnsureTraceID(context.Background()))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case sig := <-sigChan:
		a.Logger.InfoContext(ctx, "Received shutdown signal",
			slog.String("signal", sig.String()))
	case <-ctx.Done():
		a.Logger.Info("Server stopped unexpectedly")
	}

	// Shutdown proceeds under the cancelled context's values, not its
	// deadline.
	return a.Stop(context.WithoutCancel(ctx))
}
