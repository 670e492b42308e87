// Package config loads the service configuration.
//
// Configuration comes from a single YAML file, named by the --config flag or
// the TOKENAUTH_CONFIG environment variable, layered over built-in defaults.
// A small set of TOKENAUTH_* variables override file values so deployments can
// inject secrets without writing them to disk.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/authz-engine/tokenauth/internal/audit"
	"github.com/authz-engine/tokenauth/internal/auth/jwt"
	"github.com/authz-engine/tokenauth/internal/logging"
	"github.com/authz-engine/tokenauth/internal/ratelimit"
)

// Environment variables recognised by Load
const (
	EnvConfigPath  = "TOKENAUTH_CONFIG"
	EnvJWTSecret   = "TOKENAUTH_JWT_SECRET"
	EnvDatabaseURL = "TOKENAUTH_DATABASE_URL"
	EnvRedisAddr   = "TOKENAUTH_REDIS_ADDR"
	EnvServerAddr  = "TOKENAUTH_SERVER_ADDR"
	EnvLogLevel    = "TOKENAUTH_LOG_LEVEL"
)

const redacted = "[REDACTED]"

// Config is the complete service configuration. It is treated as immutable
// once loaded.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	JWT      JWTConfig      `yaml:"jwt"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Login    LoginConfig    `yaml:"login"`
	Log      logging.Config `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Audit    audit.Config   `yaml:"audit"`
}

// ServerConfig configures the HTTP API and ops listeners.
type ServerConfig struct {
	// Addr is the listen address of the public API.
	Addr string `yaml:"addr"`

	// OpsAddr serves health and metrics endpoints.
	OpsAddr string `yaml:"ops_addr"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GRPCConfig configures the optional gRPC listener.
type GRPCConfig struct {
	// Addr enables the gRPC server when set.
	Addr string `yaml:"addr"`

	EnableReflection bool `yaml:"enable_reflection"`
}

// JWTConfig configures token signing.
type JWTConfig struct {
	// Secret is the HS512 signing key. Required.
	Secret string `yaml:"secret"`

	// Lifetime is how long issued tokens stay valid.
	Lifetime time.Duration `yaml:"lifetime"`
}

// DatabaseConfig configures the PostgreSQL user directory.
type DatabaseConfig struct {
	// URL selects PostgreSQL. When empty an in-memory directory is used.
	URL string `yaml:"url"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`

	// AutoMigrate applies pending migrations at startup.
	AutoMigrate bool `yaml:"auto_migrate"`
}

// RedisConfig configures login throttling storage.
type RedisConfig struct {
	// Addr enables login throttling when set.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LoginConfig configures login and registration.
type LoginConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Window      time.Duration `yaml:"window"`

	// FailOpen admits logins when Redis is unavailable.
	FailOpen bool `yaml:"fail_open"`

	// DefaultRoles are assigned to newly registered users.
	DefaultRoles []string `yaml:"default_roles"`

	// BcryptCost is the work factor for new password hashes.
	BcryptCost int `yaml:"bcrypt_cost"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// Default returns the default configuration. The JWT secret has no default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			OpsAddr:         ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		JWT: JWTConfig{
			Lifetime: jwt.DefaultLifetime,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Login: LoginConfig{
			MaxAttempts:  5,
			Window:       time.Minute,
			FailOpen:     true,
			DefaultRoles: []string{"USER"},
			BcryptCost:   10,
		},
		Log: logging.DefaultConfig(),
		Metrics: MetricsConfig{
			Namespace: "tokenauth",
		},
		Audit: audit.DefaultConfig(),
	}
}

// Load reads the configuration file at path (or $TOKENAUTH_CONFIG when path
// is empty), applies environment overrides and validates the result. With no
// file at all the defaults plus environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvJWTSecret); ok {
		c.JWT.Secret = v
	}
	if v, ok := lookup(EnvDatabaseURL); ok {
		c.Database.URL = v
	}
	if v, ok := lookup(EnvRedisAddr); ok {
		c.Redis.Addr = v
	}
	if v, ok := lookup(EnvServerAddr); ok {
		c.Server.Addr = v
	}
	if v, ok := lookup(EnvLogLevel); ok {
		c.Log.Level = strings.ToLower(v)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.Secret == "" {
		errs = append(errs, fmt.Errorf("jwt.secret is required (or set %s)", EnvJWTSecret))
	}
	if c.JWT.Lifetime <= 0 {
		errs = append(errs, fmt.Errorf("jwt.lifetime must be positive"))
	}

	if c.Server.Addr == "" {
		errs = append(errs, fmt.Errorf("server.addr is required"))
	}
	if c.Server.OpsAddr != "" && c.Server.OpsAddr == c.Server.Addr {
		errs = append(errs, fmt.Errorf("server.ops_addr must differ from server.addr"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must be positive"))
	}

	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errs = append(errs, fmt.Errorf("database.url is invalid"))
		}
	}
	if c.Database.MaxOpenConns < 0 {
		errs = append(errs, fmt.Errorf("database.max_open_conns must not be negative"))
	}

	if c.Login.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("login.max_attempts must be positive"))
	}
	if c.Login.Window <= 0 {
		errs = append(errs, fmt.Errorf("login.window must be positive"))
	}
	for _, role := range c.Login.DefaultRoles {
		if strings.TrimSpace(role) == "" {
			errs = append(errs, fmt.Errorf("login.default_roles must not contain empty names"))
			break
		}
	}
	if c.Login.BcryptCost != 0 && (c.Login.BcryptCost < 4 || c.Login.BcryptCost > 31) {
		errs = append(errs, fmt.Errorf("login.bcrypt_cost must be between 4 and 31"))
	}

	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	if err := c.Audit.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audit: %w", err))
	}

	return errors.Join(errs...)
}

// RateLimit returns the login throttling configuration
func (c *Config) RateLimit() *ratelimit.Config {
	return &ratelimit.Config{
		MaxAttempts: c.Login.MaxAttempts,
		Window:      c.Login.Window,
		KeyPrefix:   ratelimit.DefaultConfig().KeyPrefix,
		FailOpen:    c.Login.FailOpen,
	}
}

// String renders the configuration as YAML with secrets redacted
func (c *Config) String() string {
	safe := *c
	safe.Login.DefaultRoles = append([]string(nil), c.Login.DefaultRoles...)

	if safe.JWT.Secret != "" {
		safe.JWT.Secret = redacted
	}
	if safe.Redis.Password != "" {
		safe.Redis.Password = redacted
	}
	safe.Database.URL = redactURL(safe.Database.URL)

	out, err := yaml.Marshal(&safe)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}

// redactURL hides the password in a connection URL. Unparseable URLs are
// hidden entirely since they may still carry credentials.
func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}
	return u.Redacted()
}
