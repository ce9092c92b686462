package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds all gateway configuration, loaded once from environment
// variables at startup.
type Config struct {
	// Server
	Host string `env:"GATEWAY_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"GATEWAY_PORT" envDefault:"8080"`

	// Keystore
	KeystoreURL string `env:"KEYSTORE_URL" envDefault:"redis://localhost:6379/0"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Auth — API keys are required; startup fails if none are configured.
	APIKeys []string `env:"GATEWAY_API_KEYS" envSeparator:","`

	// Auth — signed bearer tokens are optional; unset disables JWT auth.
	BearerIssuer   string `env:"BEARER_ISSUER"`
	BearerAudience string `env:"BEARER_AUDIENCE"`
	BearerJWKSURL  string `env:"BEARER_JWKS_URL"`

	// Session TTL bounds, seconds.
	SessionTTLDefault int `env:"SESSION_TTL_DEFAULT" envDefault:"300"`
	SessionTTLMin     int `env:"SESSION_TTL_MIN" envDefault:"60"`
	SessionTTLMax     int `env:"SESSION_TTL_MAX" envDefault:"3600"`

	// Command timeout bounds, seconds (request-level, §5).
	CommandTimeoutDefault int `env:"COMMAND_TIMEOUT_DEFAULT" envDefault:"10"`
	CommandTimeoutMin     int `env:"COMMAND_TIMEOUT_MIN" envDefault:"1"`
	CommandTimeoutMax     int `env:"COMMAND_TIMEOUT_MAX" envDefault:"60"`

	// ClusterActiveTTL is parsed but not read by any component:
	// cluster_active/<id> is written with fixed TTLs (90s by the executor
	// channel, 60s by the command router, the session TTL by sessions).
	ClusterActiveTTL int `env:"CLUSTER_ACTIVE_TTL" envDefault:"90"`

	// CapabilityTTL is the TTL for cluster_capabilities/<id>, seconds.
	CapabilityTTL int `env:"CAPABILITY_TTL" envDefault:"3600"`

	// ResultTTL is parsed but not read by any component: result/<command_id>
	// is stored with a fixed 60s TTL by pkg/executorchan.
	ResultTTL int `env:"RESULT_TTL" envDefault:"60"`

	// AuditRingLimit bounds the auth_audit list.
	AuditRingLimit int64 `env:"AUDIT_RING_LIMIT" envDefault:"10000"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// ExecuteRequiresAPIKey resolves spec.md §9's open question: whether
	// /debug/execute accepts only api_key or either credential.
	ExecuteRequiresAPIKey bool `env:"EXECUTE_REQUIRES_API_KEY" envDefault:"false"`

	// Slack (optional — if unset, admin notifications are disabled).
	SlackBotToken     string `env:"SLACK_BOT_TOKEN"`
	SlackAlertChannel string `env:"SLACK_ALERT_CHANNEL"`
}

// Load reads configuration from environment variables and validates the
// invariant spec.md requires at startup (at least one API key configured).
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}

	cleaned := cfg.APIKeys[:0]
	for _, k := range cfg.APIKeys {
		if k = strings.TrimSpace(k); k != "" {
			cleaned = append(cleaned, k)
		}
	}
	cfg.APIKeys = cleaned

	if len(cfg.APIKeys) == 0 {
		return nil, fmt.Errorf("GATEWAY_API_KEYS: at least one API key must be configured")
	}

	return cfg, nil
}

// ListenAddr returns the address the HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BearerEnabled reports whether signed bearer-token verification is configured.
func (c *Config) BearerEnabled() bool {
	return c.BearerIssuer != "" && c.BearerJWKSURL != ""
}

// SlackEnabled reports whether Slack admin notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAlertChannel != ""
}
