package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_ENV_PATH", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/studio?parseTime=true")
	t.Setenv("IMAGE_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("CHECKOUT_PROVIDER", "demo")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 1, cfg.FreeCredits)
	assert.Equal(t, "gemini-2.5-flash-image", cfg.GeminiModel)
	assert.Equal(t, time.Hour, cfg.SessionIdleTTL)
	assert.Equal(t, int64(20<<20), cfg.MaxUploadBytes)
	assert.Equal(t, "http://localhost:8080/?checkout=success", cfg.StripeSuccessURL)
	assert.True(t, cfg.PersistenceEnabled())
	assert.False(t, cfg.StorageEnabled())
	assert.False(t, cfg.TelegramEnabled())
}

func TestLoadReportsMissingVariables(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CHECKOUT_PROVIDER", "stripe")
	t.Setenv("GEMINI_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GEMINI_API_KEY")
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET")
}

func TestLoadWithoutMySQL(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("MYSQL_DSN", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.PersistenceEnabled())
}

func TestLoadKIERequiresStorage(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("IMAGE_PROVIDER", "kie")
	t.Setenv("KIE_API_KEY", "kie-key")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3_BUCKET")
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("IMAGE_PROVIDER", "dalle")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported image provider")
}

func TestLoadReadsEnvFile(t *testing.T) {
	setBaseEnv(t)
	path := filepath.Join(t.TempDir(), "studio.env")
	require.NoError(t, os.WriteFile(path, []byte("LISTEN_ADDR=:9090\n"), 0o600))
	t.Setenv("CONFIG_ENV_PATH", path)
	t.Setenv("LISTEN_ADDR", "")
	os.Unsetenv("LISTEN_ADDR")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr)
}

func TestNormalizeKIEBaseURL(t *testing.T) {
	const fallback = "https://api.kie.ai"
	assert.Equal(t, fallback, normalizeKIEBaseURL("", fallback))
	assert.Equal(t, "https://api.kie.ai", normalizeKIEBaseURL("kie.ai", fallback))
	assert.Equal(t, "https://api.kie.ai", normalizeKIEBaseURL("https://kie.ai", fallback))
	assert.Equal(t, "http://localhost:9000", normalizeKIEBaseURL("http://localhost:9000", fallback))
}
