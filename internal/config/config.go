// Package config loads and validates application configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Store         StoreConfig         `yaml:"store"`
	Dedupe        DedupeConfig        `yaml:"dedupe"`
	Ingest        IngestConfig        `yaml:"ingest"`
	Policy        PolicyConfig        `yaml:"policy"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	Services      ServicesConfig      `yaml:"services"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes JWT verification for staff-facing endpoints.
type IdentityConfig struct {
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	JWKSURL      string        `yaml:"jwks_url"`
	JWKSCacheTTL time.Duration `yaml:"jwks_cache_ttl"`
	Algorithms   []string      `yaml:"algorithms"`
}

// StoreConfig describes case store persistence settings.
type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DedupeConfig describes the classifier-event idempotency store.
type DedupeConfig struct {
	// Driver is "redis" or "memory".
	Driver  string        `yaml:"driver"`
	AddrEnv string        `yaml:"addr_env"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// IngestConfig describes the NATS classifier-event intake.
type IngestConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Subject        string        `yaml:"subject"`
	Queue          string        `yaml:"queue"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// PolicyConfig carries the triage policy values. The follow-up offsets and
// wait estimates are clinical policy, not architecture; they are configurable
// so operators can tune them without a release.
type PolicyConfig struct {
	UrgentFollowupAfter   time.Duration  `yaml:"urgent_followup_after"`
	RoutineFollowupAfter  time.Duration  `yaml:"routine_followup_after"`
	WaitMinutesByPriority map[string]int `yaml:"wait_minutes_by_priority"`
	EscalationRoleFilter  string         `yaml:"escalation_role_filter"`
	BookingSpecialization string         `yaml:"booking_specialization"`
	ReminderPollInterval  time.Duration  `yaml:"reminder_poll_interval"`
}

// DispatchConfig bounds the asynchronous action-dispatch phase.
type DispatchConfig struct {
	// Timeout caps the whole dispatch phase per case; actions still
	// pending at the deadline are marked failed for manual review.
	Timeout time.Duration `yaml:"timeout"`
	// RecipientTimeout caps each staff notification delivery.
	RecipientTimeout time.Duration `yaml:"recipient_timeout"`
}

// ServicesConfig groups the external collaborator endpoints.
type ServicesConfig struct {
	StaffDirectory   ServiceConfig `yaml:"staff_directory"`
	BookingDirectory ServiceConfig `yaml:"booking_directory"`
	Delivery         ServiceConfig `yaml:"delivery"`
	ReminderSink     ServiceConfig `yaml:"reminder_sink"`
}

// ServiceConfig describes one backend collaborator.
type ServiceConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings per service.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RetryConfig describes retry settings for read-only collaborator calls.
// Delivery sends are never retried within a batch.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BackoffInitial time.Duration `yaml:"backoff_initial"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Identity: IdentityConfig{
			JWKSCacheTTL: 1 * time.Hour,
			Algorithms:   []string{"RS256"},
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "TRIAGE_STORE_DSN",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Dedupe: DedupeConfig{
			Driver:  "memory",
			AddrEnv: "TRIAGE_REDIS_ADDR",
			TTL:     24 * time.Hour,
		},
		Ingest: IngestConfig{
			Subject:        "triage.classifications",
			Queue:          "triaged",
			ReconnectWait:  2 * time.Second,
			MaxReconnects:  60,
			ConnectTimeout: 5 * time.Second,
		},
		Policy: PolicyConfig{
			UrgentFollowupAfter:  24 * time.Hour,
			RoutineFollowupAfter: 48 * time.Hour,
			WaitMinutesByPriority: map[string]int{
				"critical":      0,
				"urgent":        15,
				"moderate_high": 60,
				"moderate_low":  120,
				"mild":          240,
			},
			EscalationRoleFilter: "on_call_clinician",
			ReminderPollInterval: 60 * time.Second,
		},
		Dispatch: DispatchConfig{
			Timeout:          30 * time.Second,
			RecipientTimeout: 5 * time.Second,
		},
		Services: ServicesConfig{
			StaffDirectory:   defaultService(),
			BookingDirectory: defaultService(),
			Delivery:         defaultService(),
			ReminderSink:     defaultService(),
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

func defaultService() ServiceConfig {
	return ServiceConfig{
		Timeout: 5 * time.Second,
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			BackoffInitial: 100 * time.Millisecond,
			BackoffMax:     2 * time.Second,
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q not supported (postgres, memory)", c.Store.Driver))
	}
	switch c.Dedupe.Driver {
	case "redis", "memory":
	default:
		errs = append(errs, fmt.Sprintf("dedupe.driver %q not supported (redis, memory)", c.Dedupe.Driver))
	}
	if c.Policy.UrgentFollowupAfter <= 0 {
		errs = append(errs, "policy.urgent_followup_after must be positive")
	}
	if c.Policy.RoutineFollowupAfter <= 0 {
		errs = append(errs, "policy.routine_followup_after must be positive")
	}
	for level, minutes := range c.Policy.WaitMinutesByPriority {
		if minutes < 0 {
			errs = append(errs, fmt.Sprintf("policy.wait_minutes_by_priority[%s] must be >= 0", level))
		}
	}
	if c.Dispatch.Timeout <= 0 {
		errs = append(errs, "dispatch.timeout must be positive")
	}
	if c.Dispatch.RecipientTimeout <= 0 {
		errs = append(errs, "dispatch.recipient_timeout must be positive")
	}
	if c.Ingest.Enabled && c.Ingest.URL == "" {
		errs = append(errs, "ingest.url is required when ingest is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads TRIAGE_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRIAGE_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TRIAGE_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("TRIAGE_IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("TRIAGE_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("TRIAGE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("TRIAGE_DEDUPE_DRIVER"); v != "" {
		cfg.Dedupe.Driver = v
	}
	if v := os.Getenv("TRIAGE_INGEST_URL"); v != "" {
		cfg.Ingest.URL = v
	}
	if v := os.Getenv("TRIAGE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
