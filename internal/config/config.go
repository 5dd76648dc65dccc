// Package config loads and watches the service configuration. A single
// colloquy.yaml holds the typed tree below; well-known environment
// variables override individual fields so container deployments can
// avoid editing the file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/colloquyhq/colloquy/internal/agents"
	"github.com/colloquyhq/colloquy/internal/audit"
	"github.com/colloquyhq/colloquy/internal/inference"
	"github.com/colloquyhq/colloquy/internal/knowledge"
	"github.com/colloquyhq/colloquy/internal/policy"
	"github.com/colloquyhq/colloquy/internal/tracing"
)

// Config is the full service configuration tree.
type Config struct {
	Service   ServiceConfig    `mapstructure:"service" yaml:"service"`
	Pipeline  PipelineConfig   `mapstructure:"pipeline" yaml:"pipeline"`
	Knowledge knowledge.Config `mapstructure:"knowledge" yaml:"knowledge"`
	Inference inference.Config `mapstructure:"inference" yaml:"inference"`
	Agents    agents.Config    `mapstructure:"agents" yaml:"agents"`
	Audit     audit.Config     `mapstructure:"audit" yaml:"audit"`
	Auth      AuthConfig       `mapstructure:"auth" yaml:"auth"`
	Policy    policy.Config    `mapstructure:"policy" yaml:"policy"`
	Tracing   tracing.Config   `mapstructure:"tracing" yaml:"tracing"`
	Health    HealthConfig     `mapstructure:"health" yaml:"health"`
	Logging   LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Roles     RolesConfig      `mapstructure:"roles" yaml:"roles"`
	Limits    LimitsConfig     `mapstructure:"limits" yaml:"limits"`
}

// ServiceConfig contains the HTTP listener settings.
type ServiceConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	AdminPort       int           `mapstructure:"admin_port" yaml:"admin_port"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout" yaml:"graceful_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes" yaml:"max_header_bytes"`
}

// PipelineConfig contains run defaults applied when a request omits them.
type PipelineConfig struct {
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	RunTimeout  time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
}

// AuthConfig contains bearer token authentication settings.
type AuthConfig struct {
	Enabled     bool          `mapstructure:"enabled" yaml:"enabled"`
	SkipAuth    bool          `mapstructure:"skip_auth" yaml:"skip_auth"` // Development mode
	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	TokenExpiry time.Duration `mapstructure:"token_expiry" yaml:"token_expiry"`
}

// HealthConfig contains background health check settings.
type HealthConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	CheckInterval time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
	Timeout       time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// LoggingConfig contains zap logger settings.
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding"`
}

// RolesConfig points at the round roster file. An empty path keeps the
// built-in researcher, analyst, synthesizer roster.
type RolesConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LimitsConfig points at the per-agent rate limit file.
type LimitsConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Default returns the configuration used when colloquy.yaml is absent
// or leaves sections out.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Port:            8081,
			AdminPort:       2112,
			GracefulTimeout: 30 * time.Second,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    15 * time.Minute,
			MaxHeaderBytes:  1 << 20, // 1MB
		},
		Pipeline: PipelineConfig{
			Temperature: 0.7,
			MaxTokens:   2000,
			RunTimeout:  10 * time.Minute,
		},
		Knowledge: knowledge.Config{
			Backend: "sqlite",
			SQLite: knowledge.SQLiteConfig{
				Path: "data/knowledge.db",
			},
			Redis: knowledge.RedisConfig{
				Addr: "localhost:6379",
				TTL:  24 * time.Hour,
			},
			Service: knowledge.ServiceConfig{
				BaseURL:    "http://localhost:8092",
				Collection: "research_notes",
				Timeout:    10 * time.Second,
			},
		},
		Inference: inference.Config{
			BaseURL: "http://localhost:8000",
			Timeout: 60 * time.Second,
		},
		Agents: agents.Config{
			BaseURL: "http://localhost:8090",
			Timeout: 120 * time.Second,
		},
		Audit: audit.Config{
			Enabled:  false,
			Host:     "localhost",
			Port:     5432,
			User:     "colloquy",
			Password: "colloquy",
			Database: "colloquy",
			SSLMode:  "require",
		},
		Auth: AuthConfig{
			Enabled:     false,
			SkipAuth:    true,
			JWTSecret:   "change-this-to-a-secure-32-char-minimum-secret",
			TokenExpiry: 30 * time.Minute,
		},
		Policy: policy.Config{
			Enabled:     false,
			Mode:        policy.ModeOff,
			Path:        "config/policies",
			FailClosed:  false,
			Environment: "dev",
		},
		Tracing: tracing.Config{
			Enabled:      false,
			ServiceName:  "colloquy-pipeline",
			OTLPEndpoint: "localhost:4317",
		},
		Health: HealthConfig{
			Enabled:       true,
			CheckInterval: 30 * time.Second,
			Timeout:       5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Limits: LimitsConfig{
			Path: "config/limits.yaml",
		},
	}
}

// Validate rejects configurations the service cannot run with. It is
// called both at startup and before a hot reload is applied, so an
// invalid edit never replaces a working configuration.
func Validate(cfg *Config) error {
	if cfg.Service.Port < 1 || cfg.Service.Port > 65535 {
		return fmt.Errorf("service port must be between 1 and 65535, got %d", cfg.Service.Port)
	}
	if cfg.Service.AdminPort < 1 || cfg.Service.AdminPort > 65535 {
		return fmt.Errorf("admin port must be between 1 and 65535, got %d", cfg.Service.AdminPort)
	}
	if cfg.Service.Port == cfg.Service.AdminPort {
		return fmt.Errorf("service port and admin port must differ, both are %d", cfg.Service.Port)
	}
	if cfg.Pipeline.Temperature < 0 || cfg.Pipeline.Temperature > 2 {
		return fmt.Errorf("pipeline temperature must be between 0 and 2, got %v", cfg.Pipeline.Temperature)
	}
	if cfg.Pipeline.MaxTokens < 1 {
		return fmt.Errorf("pipeline max_tokens must be at least 1, got %d", cfg.Pipeline.MaxTokens)
	}
	if cfg.Pipeline.RunTimeout <= 0 {
		return fmt.Errorf("pipeline run_timeout must be positive, got %v", cfg.Pipeline.RunTimeout)
	}
	if cfg.Service.WriteTimeout > 0 && cfg.Service.WriteTimeout <= cfg.Pipeline.RunTimeout {
		return fmt.Errorf("service write_timeout (%v) must exceed pipeline run_timeout (%v)",
			cfg.Service.WriteTimeout, cfg.Pipeline.RunTimeout)
	}
	switch cfg.Knowledge.Backend {
	case "", "sqlite", "redis", "service":
	default:
		return fmt.Errorf("knowledge backend must be sqlite, redis or service, got %q", cfg.Knowledge.Backend)
	}
	switch cfg.Policy.Mode {
	case "", policy.ModeOff, policy.ModeDryRun, policy.ModeEnforce:
	default:
		return fmt.Errorf("policy mode must be off, dry-run or enforce, got %q", cfg.Policy.Mode)
	}
	if cfg.Auth.Enabled && !cfg.Auth.SkipAuth && len(cfg.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth jwt_secret must be at least 32 characters when auth is enforced")
	}
	if cfg.Audit.Enabled && cfg.Audit.Database == "" {
		return fmt.Errorf("audit database name is required when audit is enabled")
	}
	return nil
}

// applyEnv overlays well-known environment variables on top of the
// loaded configuration. Environment always wins over the file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("SERVICE_PORT"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Service.Port = x
		}
	}
	if v := os.Getenv("ADMIN_PORT"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Service.AdminPort = x
		}
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Service.AdminPort = x
		}
	}
	if v := os.Getenv("LLM_SERVICE_URL"); v != "" {
		cfg.Inference.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.Inference.Model = v
	}
	if v := os.Getenv("AGENT_SERVICE_URL"); v != "" {
		cfg.Agents.BaseURL = v
	}
	if v := os.Getenv("KNOWLEDGE_BACKEND"); v != "" {
		cfg.Knowledge.Backend = v
	}
	if v := os.Getenv("KNOWLEDGE_SERVICE_URL"); v != "" {
		cfg.Knowledge.Service.BaseURL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Knowledge.SQLite.Path = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Knowledge.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Knowledge.Redis.Password = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		cfg.Audit.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		var x int
		_, _ = fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Audit.Port = x
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		cfg.Audit.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		cfg.Audit.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		cfg.Audit.Database = v
	}
	if v := os.Getenv("POSTGRES_SSLMODE"); v != "" {
		cfg.Audit.SSLMode = v
	}
	if v := os.Getenv("AUDIT_ENABLED"); v != "" {
		cfg.Audit.Enabled = parseBool(v)
	}
	if v := os.Getenv("AUTH_ENABLED"); v != "" {
		cfg.Auth.Enabled = parseBool(v)
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
		cfg.Auth.SkipAuth = false
	}
	if v := os.Getenv("POLICY_MODE"); v != "" {
		cfg.Policy.Mode = policy.Mode(v)
		cfg.Policy.Enabled = v != "off"
	}
	if v := os.Getenv("POLICY_PATH"); v != "" {
		cfg.Policy.Path = v
	}
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.OTLPEndpoint = strings.TrimPrefix(strings.TrimPrefix(v, "http://"), "https://")
	}
	if v := os.Getenv("ROLES_PATH"); v != "" {
		cfg.Roles.Path = v
	}
	if v := os.Getenv("LIMITS_PATH"); v != "" {
		cfg.Limits.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

func parseBool(v string) bool {
	return v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "yes")
}
