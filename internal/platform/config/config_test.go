package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "secret")
	t.Setenv("CERTDESK_IN_MEMORY", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 240*time.Hour, cfg.Audit.Retention)
	assert.Equal(t, 5*time.Second, cfg.Audit.AppendTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Catalog.CacheTTL)
	assert.Equal(t, 2*time.Minute, cfg.OTP.TTL)
	assert.Equal(t, int64(2<<20), cfg.Storage.MaxUploadBytes)
	assert.Equal(t, "Certificate System", cfg.Notify.FromName)
	assert.False(t, cfg.Storage.CloudinaryEnabled())
	assert.Empty(t, cfg.Kafka.BrokerList())
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "secret")
	t.Setenv("DATABASE_URL", "postgres://localhost/certdesk")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("AUDIT_RETENTION", "72h")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.BrokerList())
	assert.Equal(t, 72*time.Hour, cfg.Audit.Retention)
	assert.False(t, cfg.Server.InMemory)
}

func TestValidate(t *testing.T) {
	t.Run("missing jwt key and database", func(t *testing.T) {
		cfg := &Config{
			Audit:     Audit{Retention: time.Hour, BufferSize: 1, AppendTimeout: time.Second},
			Storage:   Storage{MaxUploadBytes: 1},
			RateLimit: RateLimit{RequestsPerSecond: 1, Burst: 1},
		}
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrMissingJWTKey)
		assert.ErrorIs(t, err, ErrMissingDatabaseURL)
	})

	t.Run("in memory needs no database", func(t *testing.T) {
		cfg := &Config{
			Server:    Server{InMemory: true},
			Auth:      Auth{JWTSigningKey: "k"},
			Audit:     Audit{Retention: time.Hour, BufferSize: 1, AppendTimeout: time.Second},
			Storage:   Storage{MaxUploadBytes: 1},
			RateLimit: RateLimit{RequestsPerSecond: 1, Burst: 1},
		}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("non-positive limits", func(t *testing.T) {
		cfg := &Config{Server: Server{InMemory: true}, Auth: Auth{JWTSigningKey: "k"}}
		assert.Error(t, cfg.Validate())
	})
}
