package config

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/org/phigate/internal/ratelimit"
	"github.com/spf13/viper"
)

// Config is the startup configuration. Secrets arrive through the
// environment (or a .env file in development); a missing required secret is
// a fatal startup error, never a runtime fallback.
type Config struct {
	ListenAddr    string `mapstructure:"LISTEN_ADDR"`
	Env           string `mapstructure:"ENV"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`
	TLSCertFile   string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile    string `mapstructure:"TLS_KEY_FILE"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	// FIELD_KEYS is "version:hex32,version:hex32,..."; FIELD_KEY_ACTIVE
	// selects the version used for new encryptions.
	RawFieldKeys   string `mapstructure:"FIELD_KEYS"`
	FieldKeyActive int    `mapstructure:"FIELD_KEY_ACTIVE"`

	CSRFSigningSecret    string        `mapstructure:"CSRF_SIGNING_SECRET"`
	CSRFTokenTTL         time.Duration `mapstructure:"CSRF_TOKEN_TTL"`
	SessionSigningSecret string        `mapstructure:"SESSION_SIGNING_SECRET"`
	SessionTTL           time.Duration `mapstructure:"SESSION_TTL"`
	// ProvisionKey guards the session-provisioning endpoint the external
	// identity service calls.
	ProvisionKey string `mapstructure:"PROVISION_KEY"`

	PolicyFile      string `mapstructure:"POLICY_FILE"`
	AlertWebhookURL string `mapstructure:"ALERT_WEBHOOK_URL"`

	// Rate limit overrides, "limit/windowSeconds[/open|closed]" per action.
	RawRateLimitDefault string `mapstructure:"RATE_LIMIT_DEFAULT"`
	RawRateLimitSession string `mapstructure:"RATE_LIMIT_SESSION_ISSUE"`
	RawRateLimitWrite   string `mapstructure:"RATE_LIMIT_DATA_WRITE"`
	RawRateLimitRead    string `mapstructure:"RATE_LIMIT_DATA_READ"`
}

// IsDev returns true when running in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Load reads configuration from the environment, with a .env file as the
// development convenience. Validation is strict on secrets.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("LISTEN_ADDR", ":8300")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("FIELD_KEY_ACTIVE", 1)
	v.SetDefault("CSRF_TOKEN_TTL", "1h")
	v.SetDefault("SESSION_TTL", "12h")

	for _, key := range []string{
		"LISTEN_ADDR", "ENV", "LOG_LEVEL", "TLS_CERT_FILE", "TLS_KEY_FILE",
		"DATABASE_URL", "MIGRATIONS_DIR", "FIELD_KEYS", "FIELD_KEY_ACTIVE",
		"CSRF_SIGNING_SECRET", "CSRF_TOKEN_TTL", "SESSION_SIGNING_SECRET",
		"SESSION_TTL", "PROVISION_KEY", "POLICY_FILE", "ALERT_WEBHOOK_URL",
		"RATE_LIMIT_DEFAULT", "RATE_LIMIT_SESSION_ISSUE",
		"RATE_LIMIT_DATA_WRITE", "RATE_LIMIT_DATA_READ",
	} {
		v.BindEnv(key) //nolint:errcheck
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	for name, value := range map[string]string{
		"FIELD_KEYS":             cfg.RawFieldKeys,
		"CSRF_SIGNING_SECRET":    cfg.CSRFSigningSecret,
		"SESSION_SIGNING_SECRET": cfg.SessionSigningSecret,
		"PROVISION_KEY":          cfg.ProvisionKey,
	} {
		if value == "" {
			return nil, fmt.Errorf("%s is required", name)
		}
	}
	if !cfg.IsDev() && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required outside development")
	}
	if _, err := cfg.FieldKeys(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FieldKeys parses FIELD_KEYS into master key material by version.
func (c *Config) FieldKeys() (map[int][]byte, error) {
	keys := make(map[int][]byte)
	for _, part := range strings.Split(c.RawFieldKeys, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		version, hexKey, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("FIELD_KEYS entry %q: want version:hex", part)
		}
		ver, err := strconv.Atoi(version)
		if err != nil {
			return nil, fmt.Errorf("FIELD_KEYS entry %q: bad version: %w", part, err)
		}
		key, err := hex.DecodeString(hexKey)
		if err != nil {
			return nil, fmt.Errorf("FIELD_KEYS entry v%d: bad hex: %w", ver, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("FIELD_KEYS entry v%d: want 32 bytes, got %d", ver, len(key))
		}
		keys[ver] = key
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("FIELD_KEYS contains no usable keys")
	}
	return keys, nil
}

// Default limiter rules. Session issuance is authentication-adjacent: it
// fails closed and hides remaining-attempt counts.
var defaultRules = map[string]ratelimit.Rule{
	"session_issue": {Limit: 5, Window: 5 * time.Minute, FailMode: ratelimit.FailClosed, Sensitive: true},
	"data_read":     {Limit: 300, Window: time.Minute, FailMode: ratelimit.FailOpen},
	"data_write":    {Limit: 60, Window: time.Minute, FailMode: ratelimit.FailOpen},
}

// RateLimitRules builds the per-action rules, applying any overrides.
func (c *Config) RateLimitRules() (map[string]ratelimit.Rule, ratelimit.Rule, error) {
	rules := make(map[string]ratelimit.Rule, len(defaultRules))
	for action, rule := range defaultRules {
		rules[action] = rule
	}
	defaultRule := ratelimit.Rule{Limit: 120, Window: time.Minute, FailMode: ratelimit.FailOpen}

	overrides := map[string]string{
		"session_issue": c.RawRateLimitSession,
		"data_write":    c.RawRateLimitWrite,
		"data_read":     c.RawRateLimitRead,
	}
	for action, raw := range overrides {
		if raw == "" {
			continue
		}
		rule, err := parseRule(raw, rules[action])
		if err != nil {
			return nil, defaultRule, fmt.Errorf("rate limit for %s: %w", action, err)
		}
		rules[action] = rule
	}
	if c.RawRateLimitDefault != "" {
		rule, err := parseRule(c.RawRateLimitDefault, defaultRule)
		if err != nil {
			return nil, defaultRule, fmt.Errorf("default rate limit: %w", err)
		}
		defaultRule = rule
	}
	return rules, defaultRule, nil
}

// parseRule parses "limit/windowSeconds[/open|closed]", inheriting
// unspecified behavior from base.
func parseRule(raw string, base ratelimit.Rule) (ratelimit.Rule, error) {
	parts := strings.Split(raw, "/")
	if len(parts) < 2 || len(parts) > 3 {
		return base, fmt.Errorf("%q: want limit/windowSeconds[/open|closed]", raw)
	}
	limit, err := strconv.Atoi(parts[0])
	if err != nil || limit <= 0 {
		return base, fmt.Errorf("%q: bad limit", raw)
	}
	seconds, err := strconv.Atoi(parts[1])
	if err != nil || seconds <= 0 {
		return base, fmt.Errorf("%q: bad window", raw)
	}
	rule := base
	rule.Limit = limit
	rule.Window = time.Duration(seconds) * time.Second
	if len(parts) == 3 {
		switch parts[2] {
		case "open":
			rule.FailMode = ratelimit.FailOpen
		case "closed":
			rule.FailMode = ratelimit.FailClosed
		default:
			return base, fmt.Errorf("%q: fail mode must be open or closed", raw)
		}
	}
	return rule, nil
}
