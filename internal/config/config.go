package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DevJWTSecret signs tokens in development when AUTH_JWT_SECRET is unset.
// Anyone knowing it can mint tokens, so Load callers warn when it is in use.
const DevJWTSecret = "dev-secret"

// Config aggregates runtime configuration for the service.
type Config struct {
	App       AppConfig       `envPrefix:"APP_"`
	Postgres  PostgresConfig  `envPrefix:"POSTGRES_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Logger    LoggerConfig    `envPrefix:"LOG_"`
	Auth      AuthConfig      `envPrefix:"AUTH_"`
	Admission AdmissionConfig `envPrefix:"ADMISSION_"`
	Inspector InspectorConfig `envPrefix:"INSPECTOR_"`
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name           string        `env:"NAME" envDefault:"gatekeeper"`
	Env            string        `env:"ENV" envDefault:"development"`
	Host           string        `env:"HOST" envDefault:"0.0.0.0"`
	Port           string        `env:"PORT" envDefault:"8080"`
	Version        string        `env:"VERSION" envDefault:"dev"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
	BodyLimitBytes int           `env:"BODY_LIMIT_BYTES" envDefault:"1048576"`
}

// PostgresConfig holds DB connection values. An empty DSN selects the in-memory user store.
type PostgresConfig struct {
	DSN             string        `env:"DSN"`
	MaxConns        int32         `env:"MAX_CONNS" envDefault:"10"`
	MinConns        int32         `env:"MIN_CONNS" envDefault:"2"`
	RunMigrations   bool          `env:"RUN_MIGRATIONS" envDefault:"true"`
	MigrationsDir   string        `env:"MIGRATIONS_DIR" envDefault:"migrations"`
	ConnMaxIdleTime time.Duration `env:"CONN_MAX_IDLE" envDefault:"30s"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFE" envDefault:"5m"`
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"127.0.0.1:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string `env:"LEVEL" envDefault:"info"`
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret        string        `env:"JWT_SECRET"`
	Issuer           string        `env:"ISSUER" envDefault:"gatekeeper"`
	TokenTTL         time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	BcryptCost       int           `env:"BCRYPT_COST" envDefault:"12"`
	HashConcurrency  int64         `env:"HASH_CONCURRENCY" envDefault:"8"`
	StoreTimeout     time.Duration `env:"STORE_TIMEOUT" envDefault:"3s"`
	CookieName       string        `env:"COOKIE_NAME" envDefault:"token"`
	AllowAdminSignup bool          `env:"ALLOW_ADMIN_SIGNUP" envDefault:"false"`
	// DevSecret is set when Validate fell back to the development secret.
	DevSecret bool `env:"-"`
}

// AdmissionConfig sets the sliding window policy per identity class.
type AdmissionConfig struct {
	Backend     string        `env:"BACKEND" envDefault:"memory"`
	Window      time.Duration `env:"WINDOW" envDefault:"60s"`
	GuestLimit  int           `env:"GUEST_LIMIT" envDefault:"5"`
	UserLimit   int           `env:"USER_LIMIT" envDefault:"10"`
	AdminLimit  int           `env:"ADMIN_LIMIT" envDefault:"20"`
	RedisPrefix string        `env:"REDIS_PREFIX" envDefault:"gatekeeper:admission"`
}

// InspectorConfig tunes the traffic inspector consulted before the admission counter.
type InspectorConfig struct {
	Enabled         bool          `env:"ENABLED" envDefault:"true"`
	PerIPRate       float64       `env:"PER_IP_RPS" envDefault:"20"`
	PerIPBurst      int           `env:"PER_IP_BURST" envDefault:"40"`
	IdleTTL         time.Duration `env:"IDLE_TTL" envDefault:"15m"`
	CleanupEvery    time.Duration `env:"CLEANUP_EVERY" envDefault:"2m"`
	AllowedAgents   []string      `env:"ALLOWED_AGENTS" envSeparator:","`
	TrustForwardFor bool          `env:"TRUST_X_FORWARDED_FOR" envDefault:"false"`
}

// Load reads configuration from the environment, after an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Sanitize applies guardrails to values loaded from env.
func (c *Config) Sanitize() {
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Auth.BcryptCost <= 0 {
		c.Auth.BcryptCost = 12
	}
	if c.Auth.HashConcurrency <= 0 {
		c.Auth.HashConcurrency = 1
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "token"
	}
	if c.Admission.Window <= 0 {
		c.Admission.Window = time.Minute
	}
	c.Admission.Backend = strings.ToLower(strings.TrimSpace(c.Admission.Backend))
	if c.Admission.Backend == "" {
		c.Admission.Backend = "memory"
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		if !c.App.IsDevelopment() {
			return fmt.Errorf("AUTH_JWT_SECRET is required outside development")
		}
		c.Auth.JWTSecret = DevJWTSecret
		c.Auth.DevSecret = true
	}
	switch c.Admission.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown ADMISSION_BACKEND %q", c.Admission.Backend)
	}
	for name, limit := range map[string]int{
		"ADMISSION_GUEST_LIMIT": c.Admission.GuestLimit,
		"ADMISSION_USER_LIMIT":  c.Admission.UserLimit,
		"ADMISSION_ADMIN_LIMIT": c.Admission.AdminLimit,
	} {
		if limit <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// IsDevelopment reports whether the service runs in a development environment.
func (a AppConfig) IsDevelopment() bool {
	switch strings.ToLower(a.Env) {
	case "development", "dev", "local", "test":
		return true
	default:
		return false
	}
}
