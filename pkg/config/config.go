package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the sentinel daemon.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Governance GovernanceConfig `yaml:"governance"`
	Nats       NatsConfig       `yaml:"nats"`
	Temporal   TemporalConfig   `yaml:"temporal"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Auth       AuthConfig       `yaml:"auth"`
	HotReload  HotReloadConfig  `yaml:"hot_reload"`
}

// ServerConfig configures the operator HTTP API.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// StoreConfig selects the persistence backend for governance surfaces.
type StoreConfig struct {
	Type     string `yaml:"type"` // "memory", "postgres", "redis"
	DSN      string `yaml:"dsn"`  // For Postgres
	RedisURL string `yaml:"redis_url"`
}

// GovernanceConfig holds the engine's tunables. Threshold values
// themselves live in the ThresholdStore; this is lifecycle wiring.
type GovernanceConfig struct {
	DefaultFallbackAgent string            `yaml:"default_fallback_agent"`
	FallbackMap          map[string]string `yaml:"fallback_map"`
	DecayInterval        time.Duration     `yaml:"decay_interval"`
	DriftSweepInterval   time.Duration     `yaml:"drift_sweep_interval"`
	RerouteScanInterval  time.Duration     `yaml:"reroute_scan_interval"`
	NotifyDebounce       time.Duration     `yaml:"notify_debounce"`
	ThresholdsFile       string            `yaml:"thresholds_file"`
}

// NatsConfig configures the notification and scorecard transports.
type NatsConfig struct {
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	NotifySubject  string        `yaml:"notify_subject"`
	ScorecardTopic string        `yaml:"scorecard_topic"`
}

// TemporalConfig configures the optional durable replan workflow.
type TemporalConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Namespace string `yaml:"namespace"`
	TaskQueue string `yaml:"task_queue"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// AuthConfig configures operator API authentication.
type AuthConfig struct {
	Enabled   bool          `yaml:"enabled"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// HotReloadConfig configures threshold file watching.
type HotReloadConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8480,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Store: StoreConfig{
			Type: "memory",
		},
		Governance: GovernanceConfig{
			DefaultFallbackAgent: "SAGE",
			FallbackMap:          map[string]string{},
			DecayInterval:        60 * time.Second,
			DriftSweepInterval:   30 * time.Second,
			RerouteScanInterval:  10 * time.Second,
			NotifyDebounce:       5 * time.Second,
		},
		Nats: NatsConfig{
			URL:            "nats://localhost:4222",
			Timeout:        10 * time.Second,
			NotifySubject:  "sentinel.notify",
			ScorecardTopic: "sentinel.scorecards.recent",
		},
		Temporal: TemporalConfig{
			Host:      "localhost:7233",
			Namespace: "default",
			TaskQueue: "sentinel-replan",
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "sentinel",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		HotReload: HotReloadConfig{
			Enabled: true,
		},
	}
}

// LoadFromFile reads YAML configuration from path, layered over the
// defaults. Environment variables in the file (e.g. ${SENTINEL_DSN})
// are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnvOverrides overlays SENTINEL_* environment variables on cfg.
// Unset variables leave the file/default values untouched.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("SENTINEL_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.HTTPPort = port
		}
	}
	if v := os.Getenv("SENTINEL_STORE_TYPE"); v != "" {
		c.Store.Type = v
	}
	if v := os.Getenv("SENTINEL_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("SENTINEL_REDIS_URL"); v != "" {
		c.Store.RedisURL = v
	}
	if v := os.Getenv("SENTINEL_NATS_URL"); v != "" {
		c.Nats.URL = v
	}
	if v := os.Getenv("TEMPORAL_HOST"); v != "" {
		c.Temporal.Host = v
	}
	if v := os.Getenv("TEMPORAL_NAMESPACE"); v != "" {
		c.Temporal.Namespace = v
	}
	if v := os.Getenv("SENTINEL_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("SENTINEL_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("SENTINEL_FALLBACK_AGENT"); v != "" {
		c.Governance.DefaultFallbackAgent = v
	}
}

// Validate reports configuration mistakes that would only surface at
// runtime otherwise.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "memory", "":
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for postgres store")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for redis store")
		}
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d out of range", c.Server.HTTPPort)
	}

	if c.Governance.RerouteScanInterval <= 0 {
		return fmt.Errorf("governance.reroute_scan_interval must be positive")
	}
	if c.Governance.DecayInterval <= 0 {
		return fmt.Errorf("governance.decay_interval must be positive")
	}
	if c.Governance.DriftSweepInterval <= 0 {
		return fmt.Errorf("governance.drift_sweep_interval must be positive")
	}

	return nil
}
