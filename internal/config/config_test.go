package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setMinimalEnv clears everything Load reads and sets the required values,
// so ambient environment never bleeds into a test.
func setMinimalEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"VAULT_ADDR", "ENVIRONMENT", "DATABASE_URL", "WEBHOOK_SECRET",
		"SIGNATURE_HEADER", "INTERNAL_API_SECRET", "UPSTREAM_API_KEY",
		"API_KEY_PEPPER", "OAUTH_SCOPES", "NATS_URL", "OTEL_EXPORTER_OTLP_ENDPOINT",
		"OAUTH_SANDBOX_CLIENT_ID", "OAUTH_SANDBOX_CLIENT_SECRET", "OAUTH_SANDBOX_REDIRECT_URL",
		"OAUTH_CLIENT_ID", "OAUTH_CLIENT_SECRET", "OAUTH_REDIRECT_URL",
		"PORT", "DISPATCH_BATCH_SIZE", "DISPATCH_INTERVAL", "TOKEN_REFRESH_WINDOW",
		"PG_HOST", "PG_PORT", "PG_USER", "PG_PASSWORD", "PG_DATABASE", "PG_SSLMODE",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("DATABASE_URL", "postgres://broker:pw@localhost:5432/cti?sslmode=disable")
	t.Setenv("INTERNAL_API_SECRET", "internal-secret")
	t.Setenv("API_KEY_PEPPER", "pepper")
}

func TestLoad_Defaults(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "sandbox", cfg.Environment)
	assert.Equal(t, defaultSignatureHeader, cfg.SignatureHeader)
	assert.Equal(t, 20, cfg.DispatchBatchSize)
	assert.Equal(t, 2*time.Second, cfg.DispatchInterval)
	assert.Equal(t, 5*time.Minute, cfg.TokenRefreshWindow)
}

func TestLoad_AssemblesDSNFromParts(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PG_HOST", "db.internal")
	t.Setenv("PG_USER", "broker")
	t.Setenv("PG_PASSWORD", "pw")
	t.Setenv("PG_DATABASE", "cti")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://broker:pw@db.internal:5432/cti?sslmode=disable", cfg.DatabaseURL)
}

func TestLoad_DatabaseURLWinsOverParts(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("PG_HOST", "ignored")
	t.Setenv("PG_USER", "ignored")
	t.Setenv("PG_DATABASE", "ignored")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Contains(t, cfg.DatabaseURL, "localhost")
}

func TestLoad_MissingDatabaseFails(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestLoad_MissingInternalSecretFails(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("INTERNAL_API_SECRET", "")

	_, err := Load()
	assert.ErrorContains(t, err, "INTERNAL_API_SECRET")
}

func TestLoad_MissingPepperFails(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("API_KEY_PEPPER", "")

	_, err := Load()
	assert.ErrorContains(t, err, "API_KEY_PEPPER")
}

func TestLoad_RejectsUnknownEnvironment(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("ENVIRONMENT", "staging")

	_, err := Load()
	assert.ErrorContains(t, err, "ENVIRONMENT")
}

func TestLoad_BadIntegerFails(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("DISPATCH_BATCH_SIZE", "twenty")

	_, err := Load()
	assert.ErrorContains(t, err, "DISPATCH_BATCH_SIZE")
}

func TestLoad_BadDurationFails(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("DISPATCH_INTERVAL", "5 parsecs")

	_, err := Load()
	assert.ErrorContains(t, err, "DISPATCH_INTERVAL")
}

func TestOAuth_SelectsEnvironment(t *testing.T) {
	cfg := &Config{
		Environment:     "production",
		OAuthSandbox:    OAuthEnv{ClientID: "sb"},
		OAuthProduction: OAuthEnv{ClientID: "prod"},
	}
	assert.Equal(t, "prod", cfg.OAuth().ClientID)

	cfg.Environment = "sandbox"
	assert.Equal(t, "sb", cfg.OAuth().ClientID)
}

func TestOverlay_PrefersSecrets(t *testing.T) {
	t.Setenv("OVERLAY_PROBE", "from-env")

	env := overlay(map[string]string{"OVERLAY_PROBE": "from-vault"})
	assert.Equal(t, "from-vault", env("OVERLAY_PROBE"))

	empty := overlay(map[string]string{})
	assert.Equal(t, "from-env", empty("OVERLAY_PROBE"))
}
