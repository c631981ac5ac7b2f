package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 20, cfg.Ingest.IdentifierLength)
	assert.Equal(t, "", cfg.Ingest.ViewsDir)
	assert.Equal(t, "", cfg.Lock.RedisAddr)
	assert.Equal(t, 5*time.Minute, cfg.Lock.TTL)
	assert.Equal(t, "host=localhost port=5432 user=postgres password=postgres dbname=spending sslmode=disable", cfg.Database.DSN())
}

func TestLoad_Overrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("IDENTIFIER_LENGTH", "12")
	t.Setenv("SERVER_ALLOWED_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("LOCK_TTL", "45s")
	t.Setenv("INBOX_SCHEDULE", "*/15 * * * *")
	t.Setenv("EUROPEAN_AMOUNTS", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Ingest.IdentifierLength)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 45*time.Second, cfg.Lock.TTL)
	assert.Equal(t, "*/15 * * * *", cfg.Ingest.InboxSchedule)
	assert.True(t, cfg.Ingest.EuropeanAmounts)
}

func TestLoad_InvalidIdentifierLength(t *testing.T) {
	t.Chdir(t.TempDir())

	for _, v := range []string{"7", "21"} {
		t.Run(v, func(t *testing.T) {
			t.Setenv("IDENTIFIER_LENGTH", v)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), "IDENTIFIER_LENGTH")
		})
	}
}

func TestObservabilityConfig_Level(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		c := ObservabilityConfig{LogLevel: in}
		assert.Equal(t, want, c.Level(), in)
	}
}
