// Package config provides centralized configuration management for the
// keydash dashboard. It handles loading configuration from multiple sources,
// validation, and provides a type-safe API for accessing configuration
// values throughout the application.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables (highest priority)
//	2. An optional YAML configuration file
//	3. Default values (lowest priority)
//
// # Environment Variables
//
// All environment variables follow the pattern KEYDASH_* for namespacing:
//
//	KEYDASH_SERVER_PORT=8080
//	KEYDASH_IDENTITY_BASE_URL=https://identity.example.com
//	KEYDASH_IDENTITY_API_KEY=...
//	KEYDASH_BACKEND_BASE_URL=https://licenses.example.com/api
//	KEYDASH_BACKEND_API_KEY=...
//	KEYDASH_SESSION_SECRET=...
//	KEYDASH_LOGGING_LEVEL=info
//
// The configuration file location can be pinned with KEYDASH_CONFIG;
// otherwise config.yaml and configs/config.yaml are probed.
//
// # Validation
//
// All configuration is validated at load time. The identity and backend
// endpoints and the session secret are mandatory: a dashboard without them
// cannot do anything useful, so a missing value is a fatal configuration
// error at startup rather than a broken login screen later.
//
// # Usage
//
// Load configuration at application startup:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
