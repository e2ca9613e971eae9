// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"congregation-admin-go/internal/accounts"
	"congregation-admin-go/internal/store"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// insecureSessionSecret is the published default. Only the memory driver accepts it.
const insecureSessionSecret = "change-me-in-production"

type Config struct {
	Port        string `env:"PORT" env-default:"8080"`
	StoreDriver string `env:"STORE_DRIVER" env-default:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`

	Redis    RedisConfig
	Identity IdentityConfig
	Log      LogConfig
	Sweep    SweepConfig
	Push     PushConfig
	Admin    AdminConfig

	SessionSecret string `env:"SESSION_SECRET" env-default:"change-me-in-production"`
	SessionSecure bool   `env:"SESSION_SECURE" env-default:"false"`

	// CORSAllowedOrigins lists the browser origins allowed to send credentialed
	// requests. Empty means same-origin only.
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" env-separator:","`
	// CronSecret signs requests to /cron/purge-expired. Empty disables the check.
	CronSecret string `env:"CRON_SECRET"`

	RestoreRemovesBinItem bool `env:"RESTORE_REMOVES_BIN_ITEM" env-default:"true"`
}

type RedisConfig struct {
	// Addr is optional; without it the live event stream and sweep lock are off.
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}

type IdentityConfig struct {
	// APIURL "memory" selects the in-process provider for local development.
	APIURL    string        `env:"IDENTITY_API_URL" env-default:"https://api.clerk.com/v1"`
	SecretKey string        `env:"IDENTITY_SECRET_KEY"`
	Timeout   time.Duration `env:"IDENTITY_TIMEOUT" env-default:"15s"`
}

// InMemory reports whether the in-process identity provider is selected.
func (c IdentityConfig) InMemory() bool {
	return c.APIURL == DriverMemory
}

type LogConfig struct {
	Format string `env:"LOG_FORMAT" env-default:"text"`
	Level  string `env:"LOG_LEVEL" env-default:"info"`
}

type SweepConfig struct {
	Enabled  bool          `env:"SWEEP_ENABLED" env-default:"true"`
	Interval time.Duration `env:"SWEEP_INTERVAL" env-default:"1h"`
	Policy   string        `env:"SWEEP_POLICY" env-default:"continue"`
}

type PushConfig struct {
	VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY"`
	Subscriber      string `env:"VAPID_SUBSCRIBER" env-default:"mailto:admin@example.com"`
}

type AdminConfig struct {
	DefaultUsername string `env:"DEFAULT_ADMIN_USERNAME" env-default:"admin"`
	DefaultPassword string `env:"DEFAULT_ADMIN_PASSWORD"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using the environment")
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SweepPolicy returns the parsed sweep policy. Validate has already checked it.
func (c *Config) SweepPolicy() store.SweepPolicy {
	p, _ := store.ParseSweepPolicy(c.Sweep.Policy)
	return p
}

func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	if _, err := store.ParseSweepPolicy(c.Sweep.Policy); err != nil {
		errs = append(errs, fmt.Errorf("SWEEP_POLICY: %w", err))
	}
	if c.Sweep.Enabled && c.Sweep.Interval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if !c.Identity.InMemory() && c.Identity.SecretKey == "" {
		errs = append(errs, errors.New("IDENTITY_SECRET_KEY is required"))
	}
	if c.StoreDriver != DriverMemory && (c.SessionSecret == "" || c.SessionSecret == insecureSessionSecret) {
		errs = append(errs, errors.New("SESSION_SECRET must be set to a private value"))
	}
	if c.Admin.DefaultPassword != "" && len(c.Admin.DefaultPassword) < accounts.MinPasswordLength {
		errs = append(errs, fmt.Errorf("DEFAULT_ADMIN_PASSWORD must be at least %d characters", accounts.MinPasswordLength))
	}
	for _, origin := range c.CORSAllowedOrigins {
		if strings.Contains(origin, "*") {
			errs = append(errs, fmt.Errorf("CORS_ALLOWED_ORIGINS: wildcard origin %q is not allowed with credentials", origin))
		}
	}

	return errors.Join(errs...)
}

// Warnings lists settings that are accepted but unsafe outside local development.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.CronSecret == "" {
		warnings = append(warnings, "CRON_SECRET is empty, /cron/purge-expired accepts unsigned requests")
	}
	if c.SessionSecret == insecureSessionSecret {
		warnings = append(warnings, "SESSION_SECRET uses the default value")
	}
	if !c.SessionSecure {
		warnings = append(warnings, "SESSION_SECURE is false, session cookies are sent over plain HTTP")
	}
	return warnings
}
