package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Transport selection values for TRANSPORT.
const (
	TransportAuto         = "auto"
	TransportWebSocket    = "websocket"
	TransportXHRStreaming = "xhr-streaming"
)

// realtimePath is the endpoint on the API origin that serves the
// realtime transport.
const realtimePath = "/ws"

// Config holds all environment-based configuration for the client.
type Config struct {
	// Single origin for the REST API and the realtime endpoint.
	APIURL string `env:"HELLOTODAY_API_URL" envDefault:"http://localhost:8080"`

	// Show a notice when the server announces a new day.
	Notifications bool `env:"HELLOTODAY_NOTIFICATIONS" envDefault:"false"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	// Client-side throttle for message submission. A rate of 0 disables it.
	SubmitRate  float64 `env:"SUBMIT_RATE" envDefault:"1"`
	SubmitBurst int     `env:"SUBMIT_BURST" envDefault:"3"`

	// Local cache database. Defaults to ~/.hellotoday/state.db.
	StatePath string `env:"STATE_PATH"`

	// Local listener for /metrics, /healthz and /mcp. Empty disables it.
	DiagnosticsAddr string `env:"DIAGNOSTICS_ADDR"`

	// Bearer token required on /mcp. Empty leaves it open.
	DiagnosticsToken string `env:"DIAGNOSTICS_TOKEN"`

	// Directory watched for drafted messages. Empty disables it.
	OutboxDir string `env:"OUTBOX_DIR"`

	Transport string `env:"TRANSPORT" envDefault:"auto"`
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StatePath == "" {
		p, err := DefaultStatePath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = p
	}

	if cfg.OutboxDir != "" {
		absDir, err := filepath.Abs(cfg.OutboxDir)
		if err != nil {
			return nil, fmt.Errorf("resolving outbox dir to absolute path: %w", err)
		}

		cfg.OutboxDir = absDir
	}

	return cfg, nil
}

func (c *Config) validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("HELLOTODAY_API_URL is not a valid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("HELLOTODAY_API_URL must use http or https, got %q", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("HELLOTODAY_API_URL must include a host")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.SubmitRate < 0 {
		return fmt.Errorf("SUBMIT_RATE must not be negative")
	}

	if c.SubmitRate > 0 && c.SubmitBurst < 1 {
		return fmt.Errorf("SUBMIT_BURST must be at least 1 when SUBMIT_RATE is set")
	}

	switch c.Transport {
	case TransportAuto, TransportWebSocket, TransportXHRStreaming:
	default:
		return fmt.Errorf("TRANSPORT must be one of %s, %s, %s", TransportAuto, TransportWebSocket, TransportXHRStreaming)
	}

	return nil
}

// RealtimeURL returns the realtime endpoint on the configured origin.
func (c *Config) RealtimeURL() string {
	return c.APIURL + realtimePath
}

// DefaultStatePath returns ~/.hellotoday/state.db.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".hellotoday", "state.db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
