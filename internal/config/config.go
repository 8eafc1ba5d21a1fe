// Package config loads broker configuration from the environment, with an
// optional secret overlay read from HashiCorp Vault. Required values are
// validated once at startup; a missing value is a fatal error, never a
// runtime surprise.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// OAuthEnv holds the provider OAuth client settings for one environment.
type OAuthEnv struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Config is the full broker configuration.
type Config struct {
	// HTTP
	Port        int
	Environment string // "sandbox" or "production"

	// Database
	DatabaseURL string

	// Inbound webhook authentication
	WebhookSecret   string // shared HMAC secret; empty disables verification
	SignatureHeader string // defaults to "x-dialpad-signature"

	// Internal admin surface
	InternalSecret string

	// Optional shared upstream API key accepted as primary tenant auth
	UpstreamAPIKey string

	// Server-side pepper for the API key lookup digest
	LookupPepper string

	// Upstream OAuth
	OAuthSandbox    OAuthEnv
	OAuthProduction OAuthEnv
	OAuthScopes     string

	// Token refresh window before expiry
	TokenRefreshWindow time.Duration

	// Dispatcher
	DispatchBatchSize int
	DispatchInterval  time.Duration

	// Optional NATS relay for multi-instance fanout
	NATSURL string

	// Optional OTel exporter endpoint
	OTelEndpoint string
}

const defaultSignatureHeader = "x-dialpad-signature"

// Load reads configuration from the environment. When VAULT_ADDR is set the
// secret material (database URL, webhook secret, internal secret, pepper,
// NATS URL) is read from Vault first and the environment acts as a fallback.
func Load() (*Config, error) {
	env := envLookup
	if addr := os.Getenv("VAULT_ADDR"); addr != "" {
		secrets, err := loadVaultSecrets(addr)
		if err != nil {
			return nil, fmt.Errorf("vault overlay: %w", err)
		}
		env = overlay(secrets)
	}

	cfg := &Config{
		Environment:     env("ENVIRONMENT"),
		DatabaseURL:     env("DATABASE_URL"),
		WebhookSecret:   env("WEBHOOK_SECRET"),
		SignatureHeader: env("SIGNATURE_HEADER"),
		InternalSecret:  env("INTERNAL_API_SECRET"),
		UpstreamAPIKey:  env("UPSTREAM_API_KEY"),
		LookupPepper:    env("API_KEY_PEPPER"),
		OAuthScopes:     env("OAUTH_SCOPES"),
		NATSURL:         env("NATS_URL"),
		OTelEndpoint:    env("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OAuthSandbox: OAuthEnv{
			ClientID:     env("OAUTH_SANDBOX_CLIENT_ID"),
			ClientSecret: env("OAUTH_SANDBOX_CLIENT_SECRET"),
			RedirectURL:  env("OAUTH_SANDBOX_REDIRECT_URL"),
		},
		OAuthProduction: OAuthEnv{
			ClientID:     env("OAUTH_CLIENT_ID"),
			ClientSecret: env("OAUTH_CLIENT_SECRET"),
			RedirectURL:  env("OAUTH_REDIRECT_URL"),
		},
	}

	// DATABASE_URL wins; otherwise assemble the DSN from discrete PG_* fields.
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = assembleDSN(env)
	}

	var err error
	if cfg.Port, err = intEnv(env, "PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.DispatchBatchSize, err = intEnv(env, "DISPATCH_BATCH_SIZE", 20); err != nil {
		return nil, err
	}

	interval, err := durationEnv(env, "DISPATCH_INTERVAL", 2*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.DispatchInterval = interval

	refresh, err := durationEnv(env, "TOKEN_REFRESH_WINDOW", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.TokenRefreshWindow = refresh

	if cfg.SignatureHeader == "" {
		cfg.SignatureHeader = defaultSignatureHeader
	}
	if cfg.Environment == "" {
		cfg.Environment = "sandbox"
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL (or PG_HOST/PG_USER/PG_PASSWORD/PG_DATABASE) is required")
	}
	if c.InternalSecret == "" {
		return fmt.Errorf("INTERNAL_API_SECRET is required")
	}
	if c.LookupPepper == "" {
		return fmt.Errorf("API_KEY_PEPPER is required")
	}
	if c.Environment != "sandbox" && c.Environment != "production" {
		return fmt.Errorf("ENVIRONMENT must be sandbox or production, got %q", c.Environment)
	}
	return nil
}

// OAuth returns the OAuth client settings for the configured environment.
func (c *Config) OAuth() OAuthEnv {
	if c.Environment == "production" {
		return c.OAuthProduction
	}
	return c.OAuthSandbox
}

// ── env plumbing ──────────────────────────────────────────────────────────

type lookupFunc func(key string) string

func envLookup(key string) string { return os.Getenv(key) }

// overlay prefers Vault-provided values and falls back to the environment.
func overlay(secrets map[string]string) lookupFunc {
	return func(key string) string {
		if v, ok := secrets[key]; ok && v != "" {
			return v
		}
		return os.Getenv(key)
	}
}

func assembleDSN(env lookupFunc) string {
	host := env("PG_HOST")
	user := env("PG_USER")
	pass := env("PG_PASSWORD")
	name := env("PG_DATABASE")
	if host == "" || user == "" || name == "" {
		return ""
	}
	port := env("PG_PORT")
	if port == "" {
		port = "5432"
	}
	ssl := env("PG_SSLMODE")
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, name, ssl)
}

func intEnv(env lookupFunc, key string, def int) (int, error) {
	raw := env(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, raw)
	}
	return v, nil
}

func durationEnv(env lookupFunc, key string, def time.Duration) (time.Duration, error) {
	raw := env(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration, got %q", key, raw)
	}
	return d, nil
}
