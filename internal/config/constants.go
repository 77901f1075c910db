package config

import "time"

// Application constants - hardcoded values for the keydash system
const (
	// Application Info
	AppName    = "keydash"
	AppVersion = "1.2.0"

	// UserAgent identifies outbound calls to the identity service and the
	// license backend.
	UserAgent = "keydash/" + AppVersion

	// Backend contract. Paths are relative to the configured backend base
	// URL; APIKeyHeader rides on every mutating call.
	APIKeyHeader           = "X-API-KEY"
	BackendListPath        = "/licenses"
	BackendCreatePath      = "/create"
	BackendDeletePath      = "/delete"
	BackendResetHwidPath   = "/reset-hwid"
	BackendToggleStatePath = "/toggle-status"

	// Identity contract, relative to the configured identity base URL.
	IdentitySignInPath = "/v1/accounts:signInWithPassword"
	IdentityLookupPath = "/v1/accounts:lookup"

	// Network Timeouts
	DefaultHTTPTimeout  = 30 * time.Second
	IdentityTimeout     = 15 * time.Second
	WebSocketPingPeriod = 30 * time.Second
	WebSocketPongWait   = 60 * time.Second

	// API Endpoints (internal)
	APIBasePath     = "/api"
	AuthEndpoint    = "/api/auth"
	LicenseEndpoint = "/api/licenses"
	HealthEndpoint  = "/api/health"
	MetricsEndpoint = "/metrics"

	// WebSocket Endpoints
	WebSocketEndpoint = "/ws"
)
