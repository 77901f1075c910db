// Package app provides application initialization and lifecycle management
// for the keydash license dashboard. It handles the orchestration of all
// major components including configuration loading, service initialization,
// and graceful shutdown procedures.
//
// # Architecture
//
// The app package follows a dependency injection pattern where all
// components are wired together at startup. The identity gateway, the
// license backend client, the session store, and the websocket hub are
// constructed here and handed to the services; nothing resolves its own
// dependencies.
//
// # Initialization Flow
//
// The typical initialization sequence:
//
//	1. Load configuration from environment and files
//	2. Initialize logging and observability
//	3. Create the identity gateway, backend client, session store, and hub
//	4. Initialize services with their dependencies
//	5. Set up HTTP handlers and middleware
//	6. Configure the HTTP server
//
// Construction is strict: a missing identity or backend endpoint fails
// NewApplication instead of booting a dashboard that cannot sign anyone
// in. There is no degraded mode.
//
// # Usage
//
// The main entry point is typically:
//
//	application, err := app.NewApplication(webFS)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := application.Run(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Graceful Shutdown
//
// The package handles SIGINT and SIGTERM signals to ensure:
//
//	- Active requests are completed
//	- WebSocket connections are closed cleanly
//	- The session sweeper is stopped
//	- Final telemetry is flushed
//
// # Error Handling
//
// All initialization errors are returned to the caller for proper
// handling. The app does not call os.Exit() directly, allowing the main
// function to control the exit process.
package app
