package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"label_pizza/workspace/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Parse(map[string]string{config.DatabaseUri: "sqlite:ws.db"})
	require.NoError(t, err)

	assert.Equal(t, "sqlite:ws.db", cfg.DatabaseUri)
	assert.Equal(t, ":8000", cfg.ListenAddr)
	assert.Equal(t, []string{"*"}, cfg.CorsOrigins)
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.Equal(t, 15*time.Minute, cfg.TokenTTL)
	assert.Equal(t, slog.LevelInfo, cfg.LoggingOptions().Level)
	assert.Equal(t, "text", cfg.LoggingOptions().Format)
}

func TestOverrides(t *testing.T) {
	cfg, err := config.Parse(map[string]string{
		"CORS_ORIGINS":       "https://a.example.com,https://b.example.com",
		"RATE_LIMIT_PER_MIN": "10",
		"LOG_FORMAT":         "json",
		"LOG_LEVEL":          "debug",
		"TOKEN_TTL":          "1h",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CorsOrigins)
	assert.Equal(t, 10, cfg.RateLimitPerMin)
	assert.Equal(t, time.Hour, cfg.TokenTTL)
	assert.Equal(t, slog.LevelDebug, cfg.LoggingOptions().Level)
}

func TestInvalidValues(t *testing.T) {
	_, err := config.Parse(map[string]string{"LOG_FORMAT": "xml"})
	assert.Error(t, err)

	_, err = config.Parse(map[string]string{"LOG_LEVEL": "loud"})
	assert.Error(t, err)

	_, err = config.Parse(map[string]string{"RATE_LIMIT_PER_MIN": "many"})
	assert.Error(t, err)
}

func TestRequireReportsAllMissingKeys(t *testing.T) {
	cfg, err := config.Parse(map[string]string{config.DatabaseUri: "sqlite:ws.db", config.AdminEmail: "admin@example.com"})
	require.NoError(t, err)

	err = cfg.Require(config.ServerKeys...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET, ADMIN_USER_ID, ADMIN_PASSWORD")
	assert.NotContains(t, err.Error(), config.DatabaseUri)

	assert.NoError(t, cfg.Require(config.DatabaseUri))
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("LABEL_PIZZA_TEST_URI=sqlite:from_file.db\n"), 0644))
	t.Setenv("LABEL_PIZZA_TEST_URI", "")
	os.Unsetenv("LABEL_PIZZA_TEST_URI")

	require.NoError(t, config.LoadEnvFile(path))
	assert.Equal(t, "sqlite:from_file.db", os.Getenv("LABEL_PIZZA_TEST_URI"))

	assert.Error(t, config.LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}

func TestLoadFromProcessEnvironment(t *testing.T) {
	t.Setenv(config.DatabaseUri, "sqlite:process.db")
	t.Setenv("LISTEN_ADDR", ":9000")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite:process.db", cfg.DatabaseUri)
	assert.Equal(t, ":9000", cfg.ListenAddr)
}
