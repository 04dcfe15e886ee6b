package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all CoverDesk configuration, read from environment variables.
type Config struct {
	Mode string `env:"COVERDESK_MODE" envDefault:"api"`

	// Server
	Host string `env:"APP_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"APP_PORT" envDefault:"8080"`

	// Database
	DatabaseURL string `env:"DATABASE_URL" envDefault:"postgres://localhost:5432/coverdesk?sslmode=disable"`

	// Redis
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Migrations
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Sessions
	SessionSecret string        `env:"COVERDESK_SESSION_SECRET"`
	SessionMaxAge time.Duration `env:"COVERDESK_SESSION_MAX_AGE" envDefault:"24h"`

	// Widget tokens
	WidgetTokenSecret string        `env:"COVERDESK_WIDGET_TOKEN_SECRET"`
	WidgetTokenTTL    time.Duration `env:"COVERDESK_WIDGET_TOKEN_TTL" envDefault:"12h"`

	// Credential encryption (hex-encoded 32-byte AES key).
	EncryptionKey string `env:"COVERDESK_ENCRYPTION_KEY"`

	// Background engines
	AutomationPollInterval time.Duration `env:"AUTOMATION_POLL_INTERVAL" envDefault:"10m"`
	CampaignPollInterval   time.Duration `env:"CAMPAIGN_POLL_INTERVAL" envDefault:"30s"`
	SchedulePollInterval   time.Duration `env:"SCHEDULE_POLL_INTERVAL" envDefault:"1m"`

	// WhatsApp Graph API
	GraphAPIBaseURL string        `env:"GRAPH_API_BASE_URL" envDefault:"https://graph.facebook.com/v19.0"`
	GraphAPITimeout time.Duration `env:"GRAPH_API_TIMEOUT" envDefault:"10s"`

	// Trial length for new tenants.
	TrialDuration time.Duration `env:"COVERDESK_TRIAL_DURATION" envDefault:"720h"`

	// Dev mode
	DevMode bool `env:"DEV_MODE" envDefault:"false"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
