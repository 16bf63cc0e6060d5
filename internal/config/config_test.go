package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maskflow/internal/domain"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"META_DB_PATH", "META_DB_READ_POOL", "META_DB_BUSY_TIMEOUT", "LISTEN_ADDR", "LOG_LEVEL", "ENV",
		"HYPERSCALE_URL", "HYPERSCALE_API_KEY", "HYPERSCALE_TIMEOUT", "HYPERSCALE_RETRY_ATTEMPTS",
		"HYPERSCALE_RETRY_BASE_DELAY", "HYPERSCALE_RPS", "HYPERSCALE_BREAKER_FAILURES",
		"MAX_CONCURRENCY", "SAMPLE_ROW_CAP", "BATCH_TARGET_BYTES", "BATCH_MAX_ROWS",
		"METADATA_TABLE_PREFIX", "METADATA_TABLE_RULESET", "METADATA_TABLE_EVENT_LOG",
		"S3_KEY_ID", "S3_SECRET", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"JWT_SECRET", "OIDC_ISSUER_URL", "OIDC_AUDIENCE", "API_KEYS", "CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "maskflow_meta.sqlite", cfg.MetaDBPath)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 1, cfg.Hyperscale.RetryAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Hyperscale.Timeout)
	assert.Equal(t, domain.DefaultRulesetTable, cfg.Tables.Ruleset)
	assert.Nil(t, cfg.Storage.S3KeyID)
	assert.False(t, cfg.Auth.Enabled())
	assert.Equal(t, []string{"*"}, cfg.CORSAllowedOrigins)
	assert.Len(t, cfg.Warnings, 3)

	params := cfg.RunDefaults()
	assert.Equal(t, domain.DefaultRunParams(), params)
}

func TestLoadFromEnv_AllVarsSet(t *testing.T) {
	clearEnv(t)
	t.Setenv("META_DB_PATH", "/tmp/meta.sqlite")
	t.Setenv("META_DB_READ_POOL", "8")
	t.Setenv("META_DB_BUSY_TIMEOUT", "2s")
	t.Setenv("HYPERSCALE_URL", "https://hs.example.com/")
	t.Setenv("HYPERSCALE_API_KEY", "key")
	t.Setenv("HYPERSCALE_RETRY_ATTEMPTS", "3")
	t.Setenv("HYPERSCALE_RETRY_BASE_DELAY", "250ms")
	t.Setenv("HYPERSCALE_BREAKER_FAILURES", "5")
	t.Setenv("MAX_CONCURRENCY", "4")
	t.Setenv("BATCH_TARGET_BYTES", "1048576")
	t.Setenv("METADATA_TABLE_PREFIX", "mf_")
	t.Setenv("METADATA_TABLE_EVENT_LOG", "audit_events")
	t.Setenv("S3_KEY_ID", "AK")
	t.Setenv("S3_SECRET", "SK")
	t.Setenv("API_KEYS", "alpha, beta,,")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://ops.example.com, https://admin.example.com")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/meta.sqlite", cfg.MetaDBPath)
	assert.Equal(t, 8, cfg.MetaDBReadPool)
	assert.Equal(t, 2*time.Second, cfg.MetaDBBusyTimeout)
	assert.Equal(t, "https://hs.example.com", cfg.Hyperscale.URL)
	assert.Equal(t, 3, cfg.Hyperscale.RetryAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Hyperscale.RetryBaseDelay)
	assert.Equal(t, uint32(5), cfg.Hyperscale.BreakerFailures)
	assert.Equal(t, "mf_discovered_ruleset", cfg.Tables.Ruleset)
	assert.Equal(t, "audit_events", cfg.Tables.EventLog)
	assert.True(t, cfg.HasS3Config())
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Auth.APIKeys)
	assert.Equal(t, []string{"https://ops.example.com", "https://admin.example.com"}, cfg.CORSAllowedOrigins)
	assert.Empty(t, cfg.Warnings)

	params := cfg.RunDefaults()
	assert.Equal(t, 4, params.MaxConcurrency)
	assert.Equal(t, int64(1048576), params.BatchTargetBytes)
}

func TestLoadFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "bad_int", env: map[string]string{"MAX_CONCURRENCY": "many"}, wantErr: "MAX_CONCURRENCY"},
		{name: "bad_duration", env: map[string]string{"HYPERSCALE_TIMEOUT": "soon"}, wantErr: "HYPERSCALE_TIMEOUT"},
		{name: "bad_read_pool", env: map[string]string{"META_DB_READ_POOL": "lots"}, wantErr: "META_DB_READ_POOL"},
		{name: "bad_table_name", env: map[string]string{"METADATA_TABLE_RULESET": "x;drop"}, wantErr: "invalid metadata table name"},
		{name: "production_without_url", env: map[string]string{"ENV": "production"}, wantErr: "HYPERSCALE_URL must be set"},
		{
			name:    "production_plain_http",
			env:     map[string]string{"ENV": "production", "HYPERSCALE_URL": "http://hs", "HYPERSCALE_API_KEY": "k"},
			wantErr: "must use https",
		},
		{
			name:    "production_without_auth",
			env:     map[string]string{"ENV": "production", "HYPERSCALE_URL": "https://hs", "HYPERSCALE_API_KEY": "k"},
			wantErr: "API_KEYS must be set",
		},
		{
			name: "production_cors_wildcard",
			env: map[string]string{
				"ENV": "production", "HYPERSCALE_URL": "https://hs", "HYPERSCALE_API_KEY": "k", "API_KEYS": "alpha",
			},
			wantErr: "CORS wildcard",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadFromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := &Config{LogLevel: "WARN"}
	assert.Equal(t, "WARN", cfg.SlogLevel().String())
	cfg.LogLevel = "bogus"
	assert.Equal(t, "INFO", cfg.SlogLevel().String())
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nMASKFLOW_TEST_A=alpha\nexport MASKFLOW_TEST_B=\"quoted\"\nMASKFLOW_TEST_C=keep\nnot-a-pair\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("MASKFLOW_TEST_A", "")
	t.Setenv("MASKFLOW_TEST_B", "")
	t.Setenv("MASKFLOW_TEST_C", "from-env")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "alpha", os.Getenv("MASKFLOW_TEST_A"))
	assert.Equal(t, "quoted", os.Getenv("MASKFLOW_TEST_B"))
	assert.Equal(t, "from-env", os.Getenv("MASKFLOW_TEST_C"))

	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")))
}
