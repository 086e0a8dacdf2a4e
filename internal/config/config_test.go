package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, []string{"http://localhost:8080"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 0, cfg.MaxConnections)
	assert.Equal(t, 0, cfg.MailboxCapacity)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SERVER_ADDR", ":9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.example, http://b.example ,")
	t.Setenv("MAX_MESSAGE_SIZE", "1024")
	t.Setenv("RATE_LIMIT_BURST", "20")
	t.Setenv("RATE_LIMIT_REFILL_INTERVAL", "2s")
	t.Setenv("MAX_CONNECTIONS", "100")
	t.Setenv("MAILBOX_CAPACITY", "64")
	t.Setenv("STORE_DRIVER", "Badger")
	t.Setenv("BADGER_PATH", "/tmp/roomchat")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, int64(1024), cfg.MaxMessageSize)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, 2*time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, 100, cfg.MaxConnections)
	assert.Equal(t, 64, cfg.MailboxCapacity)
	assert.Equal(t, DriverBadger, cfg.Store.Driver)
	assert.Equal(t, "/tmp/roomchat", cfg.Store.BadgerPath)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "")
		_, err := Load()
		require.ErrorIs(t, err, ErrMissingSecret)
	})

	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "s")
		t.Setenv("STORE_DRIVER", "sqlite")
		_, err := Load()
		require.ErrorIs(t, err, ErrUnknownStoreDriver)
	})

	t.Run("postgres without url", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "s")
		t.Setenv("STORE_DRIVER", "postgres")
		t.Setenv("DATABASE_URL", "")
		_, err := Load()
		require.ErrorIs(t, err, ErrMissingDatabaseURL)
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("JWT_SECRET", "s")
		t.Setenv("SSE_KEEPALIVE", "soon")
		_, err := Load()
		require.Error(t, err)
	})
}

func TestSanitize_ReplacesInvalidValues(t *testing.T) {
	cfg := Sanitize(Config{
		MaxMessageSize:  -1,
		MaxConnections:  -5,
		MailboxCapacity: -1,
		RateLimit:       RateLimitConfig{Burst: 0, RefillInterval: -time.Second},
	})

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 0, cfg.MaxConnections)
	assert.Equal(t, 0, cfg.MailboxCapacity)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval)
	assert.Equal(t, "General", cfg.GeneralChatName)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
}
