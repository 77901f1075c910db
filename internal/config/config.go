package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Identity  IdentityConfig  `yaml:"identity" envconfig:"IDENTITY"`
	Backend   BackendConfig   `yaml:"backend" envconfig:"BACKEND"`
	Session   SessionConfig   `yaml:"session" envconfig:"SESSION"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Audit     AuditConfig     `yaml:"audit" envconfig:"AUDIT"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// IdentityConfig points the dashboard at the external identity service that
// authenticates administrators. Both fields are mandatory; the application
// refuses to start without them rather than booting into a broken login.
type IdentityConfig struct {
	BaseURL string        `yaml:"base_url" envconfig:"BASE_URL"`
	APIKey  string        `yaml:"api_key" envconfig:"API_KEY"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// BackendConfig points the dashboard at the license backend that owns all
// key state. The API key is attached server-side to mutating calls and never
// reaches the browser.
type BackendConfig struct {
	BaseURL string        `yaml:"base_url" envconfig:"BASE_URL"`
	APIKey  string        `yaml:"api_key" envconfig:"API_KEY"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

// SessionConfig controls the admin session store and its sealed cookie.
type SessionConfig struct {
	Secret        string        `yaml:"secret" envconfig:"SECRET"`
	TTL           time.Duration `yaml:"ttl" envconfig:"TTL"`
	CookieName    string        `yaml:"cookie_name" envconfig:"COOKIE_NAME"`
	CookieSecure  bool          `yaml:"cookie_secure" envconfig:"COOKIE_SECURE"`
	SweepInterval time.Duration `yaml:"sweep_interval" envconfig:"SWEEP_INTERVAL"`
}

// SecurityConfig contains security-related configuration. MetricsAPIKey is
// optional; when set, /metrics requires it via X-API-Key or ?api_key.
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	MetricsAPIKey  string          `yaml:"metrics_api_key" envconfig:"METRICS_API_KEY"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	LoginRateLimit RateLimitConfig `yaml:"login_rate_limit" envconfig:"LOGIN_RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Format      string `yaml:"format" envconfig:"FORMAT"`
	Output      string `yaml:"output" envconfig:"OUTPUT"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// AuditConfig configures the optional Google Sheets audit trail of admin
// actions. Leaving SpreadsheetID empty disables it.
type AuditConfig struct {
	SpreadsheetID   string `yaml:"spreadsheet_id" envconfig:"SPREADSHEET_ID"`
	SheetName       string `yaml:"sheet_name" envconfig:"SHEET_NAME"`
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
}

// Enabled reports whether audit recording is configured.
func (a AuditConfig) Enabled() bool {
	return a.SpreadsheetID != ""
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// Load loads configuration in three layers: defaults, then an optional YAML
// file, then KEYDASH_* environment variables. Environment wins over file,
// file wins over defaults. The result is validated before use.
func Load() (*Config, error) {
	cfg := Default()

	if configFile := getConfigFilePath(); configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := envconfig.Process("KEYDASH", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays configuration from a YAML file onto cfg
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if err := validateEndpoint("identity", c.Identity.BaseURL, c.Identity.APIKey); err != nil {
		return err
	}

	if err := validateEndpoint("backend", c.Backend.BaseURL, c.Backend.APIKey); err != nil {
		return err
	}

	if len(c.Session.Secret) < 16 {
		return fmt.Errorf("session secret must be at least 16 characters")
	}

	if c.Session.TTL <= 0 {
		return fmt.Errorf("session ttl must be positive")
	}

	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	if c.Audit.Enabled() && c.Audit.CredentialsFile == "" {
		return fmt.Errorf("audit spreadsheet configured without credentials file")
	}

	switch c.Logging.Format {
	case "json", "text":
	case "":
		c.Logging.Format = "json"
	default:
		return fmt.Errorf("unsupported log format: %s", c.Logging.Format)
	}

	switch c.Logging.Output {
	case "console", "file", "both":
	case "":
		c.Logging.Output = "console"
	default:
		return fmt.Errorf("unsupported log output: %s", c.Logging.Output)
	}

	if c.Logging.Output != "console" && c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/keydash.log"
	}

	return nil
}

// validateEndpoint enforces the presence and shape of an external service
// configuration. A missing value here is a fatal configuration error, the
// terminal state distinct from a failed login.
func validateEndpoint(name, baseURL, apiKey string) error {
	if baseURL == "" {
		return fmt.Errorf("%s base url is required", name)
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s base url is not an absolute url: %q", name, baseURL)
	}
	if apiKey == "" {
		return fmt.Errorf("%s api key is required", name)
	}
	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if path := os.Getenv("KEYDASH_CONFIG"); path != "" {
		return path
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
		},
		Identity: IdentityConfig{
			Timeout: 15 * time.Second,
		},
		Backend: BackendConfig{
			Timeout: 30 * time.Second,
		},
		Session: SessionConfig{
			TTL:           12 * time.Hour,
			CookieName:    "keydash_session",
			SweepInterval: time.Minute,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
			LoginRateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     1,
				Burst:   5,
			},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Output:      "console",
			FilePath:    "logs/keydash.log",
			Development: false,
		},
		Audit: AuditConfig{
			SheetName: "AuditLog",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
	}
}
