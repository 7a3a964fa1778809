package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultRefreshInterval = 6 * time.Hour
	DefaultTableTTL        = 48 * time.Hour
	DefaultHTTPPort        = 8080
	DefaultBroadcastEvery  = 15 * time.Second
	DefaultRetention       = 90 * 24 * time.Hour
)

// Config is the top-level casewatch configuration.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Sources []Source      `yaml:"sources"`
}

// ServiceConfig holds process-wide settings.
type ServiceConfig struct {
	// HTTPPort is the port the JSON API and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port"`

	// RefreshInterval controls how often each source is fetched and
	// re-derived.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// TableTTL is how long a derived table stays in the live store without
	// a successful refresh before it is evicted.
	TableTTL time.Duration `yaml:"table_ttl"`

	// BroadcastEvery controls how often the WebSocket hub pushes the
	// current snapshot to connected clients.
	BroadcastEvery time.Duration `yaml:"broadcast_every"`

	// Auth configures API key authentication for the HTTP API.
	Auth AuthConfig `yaml:"auth"`

	// History configures the optional SQLite history backend.
	History HistoryConfig `yaml:"history"`

	// Alerts holds data-quality alert rules and webhook targets.
	Alerts AlertsConfig `yaml:"alerts"`
}

// Source describes one upstream feed of cumulative counts.
type Source struct {
	// ID is a unique, human-readable identifier for this source.
	ID string `yaml:"id"`

	// Type is the feed format: csv | prom.
	Type string `yaml:"type"`

	// Endpoint is the full URL of the feed.
	Endpoint string `yaml:"endpoint"`

	// EntityColumn and DateColumn name the CSV columns holding the entity
	// key and the ISO-8601 date. Used when Type == "csv".
	EntityColumn string `yaml:"entity_column"`
	DateColumn   string `yaml:"date_column"`

	// EntityLabel is the Prometheus label holding the entity key.
	// Used when Type == "prom".
	EntityLabel string `yaml:"entity_label"`

	// Metrics maps metric names (e.g. "cases") to the CSV column or
	// Prometheus metric family that carries its cumulative count.
	Metrics map[string]string `yaml:"metrics"`

	// Auth configures how casewatch authenticates to this feed.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// AuthConfig specifies an authentication mode and its secrets.
// Secret values are resolved from environment variables so the YAML file
// never holds credentials.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields — used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// API key fields — used when Mode == "apikey".
	// Header is the HTTP header name the key is carried in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// Bearer token fields — used when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// Basic auth fields — used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return "x-api-key"
	}
	return a.Header
}

// TLSConfig holds per-source TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// HistoryConfig configures the historical data persistence backend.
type HistoryConfig struct {
	// Backend selects the storage implementation: sqlite. Empty disables
	// history entirely.
	Backend string `yaml:"backend"`

	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`

	// Retention is how long historical rows are kept before pruning.
	Retention time.Duration `yaml:"retention"`
}

// AlertsConfig holds all data-quality alert rules and webhook targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines a threshold-based alert condition over a metric's
// quality stats.
type AlertRule struct {
	// Name is the human-readable alert identifier.
	Name string `yaml:"name"`

	// Condition is an expression like "corrections_suppressed > 25" or
	// "staleness_hours > 48".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: slack | teams | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			HTTPPort:        DefaultHTTPPort,
			RefreshInterval: DefaultRefreshInterval,
			TableTTL:        DefaultTableTTL,
			BroadcastEvery:  DefaultBroadcastEvery,
			History: HistoryConfig{
				Retention: DefaultRetention,
			},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Service.RefreshInterval <= 0 {
		return fmt.Errorf("service.refresh_interval must be positive")
	}
	if cfg.Service.TableTTL <= 0 {
		return fmt.Errorf("service.table_ttl must be positive")
	}
	if cfg.Service.BroadcastEvery <= 0 {
		return fmt.Errorf("service.broadcast_every must be positive")
	}
	if cfg.Service.HTTPPort <= 0 || cfg.Service.HTTPPort > 65535 {
		return fmt.Errorf("service.http_port %d out of range", cfg.Service.HTTPPort)
	}
	switch cfg.Service.History.Backend {
	case "", "sqlite":
	default:
		return fmt.Errorf("service.history.backend: unknown backend %q", cfg.Service.History.Backend)
	}
	if cfg.Service.History.Backend == "sqlite" && cfg.Service.History.Path == "" {
		return fmt.Errorf("service.history.path is required for the sqlite backend")
	}
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("at least one source is required")
	}
	seen := make(map[string]bool, len(cfg.Sources))
	for i, src := range cfg.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true
		if src.Endpoint == "" {
			return fmt.Errorf("sources[%d] %q: endpoint is required", i, src.ID)
		}
		if len(src.Metrics) == 0 {
			return fmt.Errorf("sources[%d] %q: at least one metric mapping is required", i, src.ID)
		}
		switch src.Type {
		case "csv", "prom":
		default:
			return fmt.Errorf("sources[%d] %q: unknown type %q", i, src.ID, src.Type)
		}
		switch src.Auth.Mode {
		case "mtls", "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("sources[%d] %q: unknown auth mode %q", i, src.ID, src.Auth.Mode)
		}
	}
	return nil
}

// EffectiveEntityColumn returns the CSV entity column, defaulting to "state".
func (s Source) EffectiveEntityColumn() string {
	if s.EntityColumn == "" {
		return "state"
	}
	return s.EntityColumn
}

// EffectiveDateColumn returns the CSV date column, defaulting to "date".
func (s Source) EffectiveDateColumn() string {
	if s.DateColumn == "" {
		return "date"
	}
	return s.DateColumn
}

// EffectiveEntityLabel returns the Prometheus entity label, defaulting to "state".
func (s Source) EffectiveEntityLabel() string {
	if s.EntityLabel == "" {
		return "state"
	}
	return s.EntityLabel
}
