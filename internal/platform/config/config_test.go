package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, int64(1<<20), cfg.MaxBodyBytes)
	assert.Equal(t, 30*24*time.Hour, cfg.LedgerRetention)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, "identity.sync.recorded", cfg.Kafka.Topic)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("IDSYNC_ADDR", ":9999")
	t.Setenv("IDSYNC_MAX_BODY_BYTES", "2048")
	t.Setenv("IDSYNC_LEDGER_RETENTION", "72h")
	t.Setenv("IDSYNC_SWEEP_INTERVAL", "10m")
	t.Setenv("IDSYNC_REDIS_POOL_SIZE", "25")

	cfg := FromEnv()

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, int64(2048), cfg.MaxBodyBytes)
	assert.Equal(t, 72*time.Hour, cfg.LedgerRetention)
	assert.Equal(t, 10*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 25, cfg.Redis.PoolSize)
}

func TestValidateRequiresSecretsAndDatabase(t *testing.T) {
	cfg := Server{
		ClerkWebhookSecret: "whsec_clerk",
		Auth0WebhookSecret: "whsec_auth0",
		DatabaseURL:        "postgres://localhost/idsync",
	}
	require.NoError(t, cfg.Validate())

	missingClerk := cfg
	missingClerk.ClerkWebhookSecret = ""
	assert.ErrorContains(t, missingClerk.Validate(), "IDSYNC_CLERK_WEBHOOK_SECRET")

	missingAuth0 := cfg
	missingAuth0.Auth0WebhookSecret = ""
	assert.ErrorContains(t, missingAuth0.Validate(), "IDSYNC_AUTH0_WEBHOOK_SECRET")

	missingDB := cfg
	missingDB.DatabaseURL = ""
	assert.ErrorContains(t, missingDB.Validate(), "IDSYNC_DATABASE_URL")
}
