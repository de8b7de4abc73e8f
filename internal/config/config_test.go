package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("DATABASE_URL", "postgres://localhost/bizledger")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
	assert.Equal(t, time.Second, cfg.LLM.BaseDelay)
	assert.False(t, cfg.ArchiveEnabled())
	assert.False(t, cfg.AuditEnabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("DATABASE_URL", "postgres://db/ledger")
	t.Setenv("PORT", "9090")
	t.Setenv("LLM_MAX_ATTEMPTS", "5")
	t.Setenv("LLM_BASE_DELAY", "250ms")
	t.Setenv("GCS_BUCKET", "statements")
	t.Setenv("BIGQUERY_PROJECT", "acme-prod")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 5, cfg.LLM.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.LLM.BaseDelay)
	assert.True(t, cfg.ArchiveEnabled())
	assert.True(t, cfg.AuditEnabled())
}

func TestLoad_YAMLFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bizledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  url: postgres://from-file/ledger
llm:
  model: gemini-2.5-pro
  max_jitter: 500ms
reconcile:
  schedule: "0 * * * *"
  timezone: Europe/London
`), 0o600))

	t.Setenv(FileEnv, path)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GEMINI_MODEL", "gemini-2.5-flash-lite")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres://from-file/ledger", cfg.Database.URL)
	assert.Equal(t, "gemini-2.5-flash-lite", cfg.LLM.Model)
	assert.Equal(t, 500*time.Millisecond, cfg.LLM.MaxJitter)
	assert.Equal(t, "0 * * * *", cfg.Reconcile.Schedule)
	assert.Equal(t, "Europe/London", cfg.Reconcile.Timezone)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing database", map[string]string{"DATABASE_URL": ""}},
		{"bad port", map[string]string{"PORT": "http"}},
		{"bad attempts", map[string]string{"LLM_MAX_ATTEMPTS": "zero"}},
		{"zero attempts", map[string]string{"LLM_MAX_ATTEMPTS": "0"}},
		{"bad delay", map[string]string{"LLM_BASE_DELAY": "soon"}},
		{"bad schedule", map[string]string{"AUTO_RECONCILE_SCHEDULE": "every minute"}},
		{"bad timezone", map[string]string{"AUTO_RECONCILE_TIMEZONE": "Mars/Olympus"}},
		{"zero model timeout", map[string]string{"LLM_TIMEOUT": "0s"}},
		{"write timeout inside headroom", map[string]string{"SERVER_WRITE_TIMEOUT": "10s"}},
		{"model retries outlast write timeout", map[string]string{"LLM_TIMEOUT": "2m"}},
		{"default retries outlast short write timeout", map[string]string{"SERVER_WRITE_TIMEOUT": "2m"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(FileEnv, "")
			t.Setenv("DATABASE_URL", "postgres://localhost/bizledger")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadWithoutDatabase(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("GEMINI_MODEL", "gemini-2.5-pro")

	cfg, err := LoadWithoutDatabase()
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)

	t.Setenv("LLM_MAX_ATTEMPTS", "0")
	_, err = LoadWithoutDatabase()
	assert.Error(t, err)
}

func TestLoad_ModelBudgetFitsWriteTimeout(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("DATABASE_URL", "postgres://localhost/bizledger")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, cfg.Server.WriteTimeout-IngestHeadroom, cfg.Server.IngestTimeout())
	assert.Less(t, cfg.LLM.WorstCase(), cfg.Server.IngestTimeout())

	t.Setenv("SERVER_WRITE_TIMEOUT", "0s")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Zero(t, cfg.Server.IngestTimeout())
}
