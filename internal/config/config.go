package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Validation ValidationConfig `yaml:"validation"`
	Cache      CacheConfig      `yaml:"cache"`
	Policy     PolicyConfig     `yaml:"policy"`
	Database   DatabaseConfig   `yaml:"database"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Security   SecurityConfig   `yaml:"security"`
	TLS        TLSConfig        `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
}

// ValidationConfig controls the pipeline budgets.
type ValidationConfig struct {
	Budget         time.Duration `yaml:"budget"`
	AnalyzerBudget time.Duration `yaml:"analyzer_budget"`
	MaxCodeBytes   int           `yaml:"max_code_bytes"`
}

// CacheConfig selects the artifact store backend.
type CacheConfig struct {
	Backend string `yaml:"backend"` // "memory" (default) or "postgres"
}

// PolicyConfig points at the optional policy file. Empty means the built-in
// default policy.
type PolicyConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AuditBuffer     int           `yaml:"audit_buffer"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Endpoint string  `yaml:"endpoint"`
	Sample   float64 `yaml:"sample_rate"`
}

type SecurityConfig struct {
	APIKeyHeader   string   `yaml:"api_key_header"`
	AllowedKeys    []string `yaml:"allowed_keys"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  2 << 20, // 2MB: 1MB of code plus request framing
		},
		Validation: ValidationConfig{
			Budget:         time.Second,
			AnalyzerBudget: 500 * time.Millisecond,
			MaxCodeBytes:   1 << 20,
		},
		Cache: CacheConfig{
			Backend: "memory",
		},
		Policy: PolicyConfig{
			Watch: true,
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AuditBuffer:     10000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled: false,
			Sample:  0.1,
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Validation.Budget < 10*time.Millisecond {
		return fmt.Errorf("validation.budget must be >= 10ms, got %s", c.Validation.Budget)
	}
	if c.Validation.AnalyzerBudget > c.Validation.Budget {
		return fmt.Errorf("validation.analyzer_budget (%s) must be <= budget (%s)",
			c.Validation.AnalyzerBudget, c.Validation.Budget)
	}
	if c.Validation.MaxCodeBytes < 1 {
		return fmt.Errorf("validation.max_code_bytes must be >= 1")
	}
	switch c.Cache.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("cache.backend must be \"memory\" or \"postgres\", got %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required when cache.backend is postgres")
	}
	if c.Policy.Path != "" && !filepath.IsAbs(c.Policy.Path) {
		return fmt.Errorf("policy.path: %q must be an absolute path", c.Policy.Path)
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable — connections to Postgres are unencrypted")
	}
	return nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
