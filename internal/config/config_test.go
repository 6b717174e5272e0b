package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "HOLD_TTL_SECONDS", "TURN_TIMEOUT_SECONDS", "POLL_PAUSE_SECONDS",
		"RECORD_MAX_SECONDS", "REAPER_SCHEDULE", "NATS_SUBJECT", "CORS_ORIGINS", "SENDGRID_API_KEY"} {
		t.Setenv(k, "")
	}
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 180*time.Second, cfg.HoldTTL)
	assert.Equal(t, 45*time.Second, cfg.TurnTimeout)
	assert.Equal(t, 2, cfg.PollPause)
	assert.Equal(t, 10, cfg.RecordMaxSeconds)
	assert.Equal(t, "@every 1m", cfg.ReaperSchedule)
	assert.Equal(t, "reservations.events", cfg.NATSSubject)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.False(t, cfg.EmailConfigured())
}

func TestFromEnvRequiresDatabaseForPostgres(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	_, err := FromEnv()
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestFromEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("HOLD_TTL_SECONDS", "three")

	_, err := FromEnv()
	assert.EqualError(t, err, "invalid HOLD_TTL_SECONDS")
}

func TestFromEnvParsesLists(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("SMS_CONFIRMATIONS", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.True(t, cfg.SMSConfirmations)
}
