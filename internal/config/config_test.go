package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnvVars = []string{
	"KEYDASH_CONFIG",
	"KEYDASH_SERVER_PORT", "KEYDASH_SERVER_READ_TIMEOUT", "KEYDASH_SERVER_WRITE_TIMEOUT",
	"KEYDASH_IDENTITY_BASE_URL", "KEYDASH_IDENTITY_API_KEY",
	"KEYDASH_BACKEND_BASE_URL", "KEYDASH_BACKEND_API_KEY",
	"KEYDASH_SESSION_SECRET", "KEYDASH_SESSION_TTL",
	"KEYDASH_SECURITY_ALLOWED_ORIGINS",
	"KEYDASH_LOGGING_LEVEL", "KEYDASH_LOGGING_FORMAT", "KEYDASH_LOGGING_OUTPUT",
	"KEYDASH_AUDIT_SPREADSHEET_ID", "KEYDASH_AUDIT_CREDENTIALS_FILE",
}

// setRequiredEnv sets the minimum environment for a valid configuration.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("KEYDASH_IDENTITY_BASE_URL", "https://identity.example.com")
	t.Setenv("KEYDASH_IDENTITY_API_KEY", "identity-key")
	t.Setenv("KEYDASH_BACKEND_BASE_URL", "https://licenses.example.com/api")
	t.Setenv("KEYDASH_BACKEND_API_KEY", "backend-key")
	t.Setenv("KEYDASH_SESSION_SECRET", "0123456789abcdef0123456789abcdef")
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, envVar := range configEnvVars {
		t.Setenv(envVar, "")
		os.Unsetenv(envVar)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setupEnv    func(t *testing.T)
		wantErr     string
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults with required endpoints",
			setupEnv: func(t *testing.T) {
				setRequiredEnv(t)
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
				assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
				assert.Equal(t, 15*time.Second, cfg.Identity.Timeout)
				assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
				assert.Equal(t, 12*time.Hour, cfg.Session.TTL)
				assert.Equal(t, "keydash_session", cfg.Session.CookieName)
				assert.Equal(t, "json", cfg.Logging.Format)
				assert.False(t, cfg.Audit.Enabled())
			},
		},
		{
			name: "environment overrides defaults",
			setupEnv: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("KEYDASH_SERVER_PORT", "9090")
				t.Setenv("KEYDASH_LOGGING_LEVEL", "debug")
				t.Setenv("KEYDASH_SESSION_TTL", "1h")
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, "debug", cfg.Logging.Level)
				assert.Equal(t, time.Hour, cfg.Session.TTL)
			},
		},
		{
			name: "missing identity configuration is fatal",
			setupEnv: func(t *testing.T) {
				t.Setenv("KEYDASH_BACKEND_BASE_URL", "https://licenses.example.com")
				t.Setenv("KEYDASH_BACKEND_API_KEY", "backend-key")
				t.Setenv("KEYDASH_SESSION_SECRET", "0123456789abcdef0123456789abcdef")
			},
			wantErr: "identity base url is required",
		},
		{
			name: "missing backend api key is fatal",
			setupEnv: func(t *testing.T) {
				setRequiredEnv(t)
				os.Unsetenv("KEYDASH_BACKEND_API_KEY")
			},
			wantErr: "backend api key is required",
		},
		{
			name: "relative backend url rejected",
			setupEnv: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("KEYDASH_BACKEND_BASE_URL", "licenses.example.com/api")
			},
			wantErr: "not an absolute url",
		},
		{
			name: "short session secret rejected",
			setupEnv: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("KEYDASH_SESSION_SECRET", "tooshort")
			},
			wantErr: "session secret must be at least 16 characters",
		},
		{
			name: "invalid port rejected",
			setupEnv: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("KEYDASH_SERVER_PORT", "70000")
			},
			wantErr: "invalid server port",
		},
		{
			name: "audit without credentials rejected",
			setupEnv: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("KEYDASH_AUDIT_SPREADSHEET_ID", "sheet-123")
			},
			wantErr: "audit spreadsheet configured without credentials file",
		},
		{
			name: "unsupported log output rejected",
			setupEnv: func(t *testing.T) {
				setRequiredEnv(t)
				t.Setenv("KEYDASH_LOGGING_OUTPUT", "syslog")
			},
			wantErr: "unsupported log output",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			tt.setupEnv(t)

			cfg, err := Load()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, cfg)
			if tt.validateCfg != nil {
				tt.validateCfg(t, cfg)
			}
		})
	}
}

func TestLoadConfigFile(t *testing.T) {
	clearConfigEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9191
identity:
  base_url: https://identity.example.com
  api_key: file-identity-key
backend:
  base_url: https://licenses.example.com/api
  api_key: file-backend-key
session:
  secret: 0123456789abcdef0123456789abcdef
logging:
  level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("KEYDASH_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "file-identity-key", cfg.Identity.APIKey)
	assert.Equal(t, "warn", cfg.Logging.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Backend.Timeout)
}

func TestLoadFileThenEnvPrecedence(t *testing.T) {
	clearConfigEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9191
identity:
  base_url: https://identity.example.com
  api_key: file-identity-key
backend:
  base_url: https://licenses.example.com/api
  api_key: file-backend-key
session:
  secret: 0123456789abcdef0123456789abcdef
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("KEYDASH_CONFIG", path)
	t.Setenv("KEYDASH_SERVER_PORT", "7070")
	t.Setenv("KEYDASH_IDENTITY_API_KEY", "env-identity-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port, "env overrides file")
	assert.Equal(t, "env-identity-key", cfg.Identity.APIKey)
	assert.Equal(t, "file-backend-key", cfg.Backend.APIKey, "file survives where env is silent")
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Empty(t, cfg.Identity.BaseURL, "no identity endpoint is baked in")
	assert.Empty(t, cfg.Backend.APIKey, "no backend credential is baked in")
	assert.Equal(t, "AuditLog", cfg.Audit.SheetName)
	assert.True(t, cfg.Security.RateLimit.Enabled)
	assert.Equal(t, 1024, cfg.WebSocket.ReadBufferSize)

	// Defaults alone must not validate: external endpoints are mandatory.
	assert.Error(t, cfg.validate())
}

func TestAuditConfigEnabled(t *testing.T) {
	assert.False(t, AuditConfig{}.Enabled())
	assert.True(t, AuditConfig{SpreadsheetID: "sheet-1"}.Enabled())
}
