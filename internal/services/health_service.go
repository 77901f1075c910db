package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	apierrors "keydash/internal/errors"
	"keydash/internal/identity"
	"keydash/internal/licensing"
)

// Readiness states reported per probed service.
const (
	StatusReady    = "ready"
	StatusNotReady = "not_ready"
)

// readinessProbeToken is the deliberately invalid token sent to the
// identity provider's lookup endpoint. A rejected token still proves the
// provider answered.
const readinessProbeToken = "keydash-readiness-probe"

// HealthService provides health check functionality
type HealthService struct {
	version      string
	gateway      identity.Gateway
	backend      licensing.Backend
	sessions     *identity.Store
	hub          Broadcaster
	probeTimeout time.Duration
	startTime    time.Time
	logger       *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Version   string                   `json:"version"`
	Runtime   map[string]interface{}   `json:"runtime,omitempty"`
	Services  map[string]ServiceHealth `json:"services,omitempty"`
}

// ServiceHealth represents individual probed service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// NewHealthService creates a new health service with injected dependencies
func NewHealthService(version string, gateway identity.Gateway, backend licensing.Backend, sessions *identity.Store, hub Broadcaster, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealthService{
		version:      version,
		gateway:      gateway,
		backend:      backend,
		sessions:     sessions,
		hub:          hub,
		probeTimeout: 5 * time.Second,
		startTime:    time.Now(),
		logger:       logger.With(slog.String("service", "health")),
	}
}

// HealthCheck returns liveness: the process is up and answering.
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime_seconds": time.Since(hs.startTime).Seconds(),
			"go_version":     runtime.Version(),
			"goroutines":     runtime.NumGoroutine(),
		},
	}
	if hs.sessions != nil {
		status.Runtime["active_sessions"] = hs.sessions.Count()
	}
	if hs.hub != nil {
		status.Runtime["websocket_clients"] = hs.hub.ClientCount()
	}
	return status
}

// ReadinessCheck probes the identity provider and the license backend
// concurrently and reports ready only when both answered.
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    StatusReady,
		Timestamp: time.Now(),
		Version:   hs.version,
		Services:  make(map[string]ServiceHealth),
	}

	var identityHealth, backendHealth ServiceHealth
	var g errgroup.Group
	g.Go(func() error {
		identityHealth = hs.checkIdentityHealth(ctx)
		if identityHealth.Status != StatusReady {
			return fmt.Errorf("identity: %s", identityHealth.Message)
		}
		return nil
	})
	g.Go(func() error {
		backendHealth = hs.checkBackendHealth(ctx)
		if backendHealth.Status != StatusReady {
			return fmt.Errorf("backend: %s", backendHealth.Message)
		}
		return nil
	})
	err := g.Wait()

	status.Services["identity"] = identityHealth
	status.Services["backend"] = backendHealth

	if err != nil {
		status.Status = StatusNotReady
		hs.logger.WarnContext(ctx, "readiness probe failed",
			slog.String("error", err.Error()))
	}
	return status
}

// checkIdentityHealth probes the identity provider's lookup endpoint.
func (hs *HealthService) checkIdentityHealth(ctx context.Context) ServiceHealth {
	if hs.gateway == nil {
		return ServiceHealth{Status: StatusNotReady, Message: "identity gateway not initialized"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, hs.probeTimeout)
	defer cancel()

	start := time.Now()
	_, err := hs.gateway.Lookup(probeCtx, readinessProbeToken)
	latency := time.Since(start)

	// The probe token is never a valid session, so ErrSessionNotFound is
	// the expected answer from a reachable provider.
	if err == nil || errors.Is(err, apierrors.ErrSessionNotFound) {
		return ServiceHealth{
			Status:  StatusReady,
			Message: "identity provider reachable",
			Latency: latency.String(),
		}
	}
	return ServiceHealth{
		Status:  StatusNotReady,
		Message: err.Error(),
		Latency: latency.String(),
	}
}

// checkBackendHealth probes the license backend's list endpoint.
func (hs *HealthService) checkBackendHealth(ctx context.Context) ServiceHealth {
	if hs.backend == nil {
		return ServiceHealth{Status: StatusNotReady, Message: "license backend not initialized"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, hs.probeTimeout)
	defer cancel()

	start := time.Now()
	records, err := hs.backend.List(probeCtx)
	latency := time.Since(start)

	if err != nil {
		return ServiceHealth{
			Status:  StatusNotReady,
			Message: err.Error(),
			Latency: latency.String(),
		}
	}
	return ServiceHealth{
		Status:  StatusReady,
		Message: fmt.Sprintf("license backend reachable (%d records)", len(records)),
		Latency: latency.String(),
	}
}
