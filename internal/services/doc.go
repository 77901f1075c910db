// Package services implements the business logic layer of the keydash
// application. It provides a clean separation between HTTP handlers and
// the external collaborators, ensuring that business rules are
// centralized and testable.
//
// # Architecture
//
// Services follow these architectural principles:
//
//	1. Interface-driven design for testability
//	2. Context propagation for cancellation and tracing
//	3. Dependency injection for loose coupling
//	4. Domain-focused methods that encapsulate business rules
//
// # Available Services
//
// The package provides these core services:
//
//	- AuthService: signs administrators in against the identity gateway
//	  and manages their server-side sessions and sealed cookies
//	- DashboardService: owns one dashboard (view model plus action
//	  dispatcher) per admin session and orchestrates list refreshes,
//	  license actions, websocket broadcasts, and the audit trail
//	- HealthService: answers liveness directly and probes the identity
//	  provider and license backend concurrently for readiness
//
// # Error Handling
//
// Services return domain-specific errors that handlers transform into
// RFC 7807 problem responses:
//
//	- ErrInvalidCredentials / ErrIdentityUnavailable from sign-in
//	- ErrSessionNotFound from cookie resolution
//	- ErrActionInFlight when the action slot is occupied
//	- BackendRejection carrying the backend's message verbatim
//
// # Testing
//
// Services are tested by mocking dependencies:
//
//	hub := new(MockBroadcaster)
//	hub.On("BroadcastLicensesChanged", "create", mock.Anything).Return()
//	service := NewDashboardService(backend, hub, nil, nil, logger)
package services
