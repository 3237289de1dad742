package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"PIJUL_DATA_DIR", "PIJUL_SYNC_WRITES", "PIJUL_IN_MEMORY",
		"PIJUL_PAGE_CACHE_SIZE", "PIJUL_READ_TXN_POOL_SIZE",
		"PIJUL_RECORD_WORKERS", "PIJUL_RECORD_DIFF_TIMEOUT",
		"PIJUL_LOG_LEVEL", "PIJUL_LOG_FORMAT", "PIJUL_CONFIG_FILE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := LoadFromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "./pristine", cfg.Pristine.DataDir)
	assert.False(t, cfg.Pristine.SyncWrites)
	assert.Equal(t, "64MB", cfg.Store.PageCacheSize)
	assert.Equal(t, 16, cfg.Store.ReadTxnPoolSize)
	assert.Equal(t, 4, cfg.Record.Workers)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("PIJUL_DATA_DIR", "/tmp/custom-pristine")
	t.Setenv("PIJUL_SYNC_WRITES", "true")
	t.Setenv("PIJUL_READ_TXN_POOL_SIZE", "32")
	t.Setenv("PIJUL_LOG_LEVEL", "debug")

	cfg := LoadFromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/tmp/custom-pristine", cfg.Pristine.DataDir)
	assert.True(t, cfg.Pristine.SyncWrites)
	assert.Equal(t, 32, cfg.Store.ReadTxnPoolSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pijul.yaml")
	require.NoError(t, os.WriteFile(path, []byte("record:\n  workers: 9\nlogging:\n  level: warn\n"), 0o644))

	t.Setenv("PIJUL_CONFIG_FILE", path)

	cfg := LoadFromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9, cfg.Record.Workers)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Run("empty data dir without in-memory", func(t *testing.T) {
		cfg := LoadFromEnv()
		cfg.Pristine.DataDir = ""
		cfg.Pristine.InMemory = false
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive read txn pool size", func(t *testing.T) {
		cfg := LoadFromEnv()
		cfg.Store.ReadTxnPoolSize = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := LoadFromEnv()
		cfg.Logging.Level = "verbose"
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid log format", func(t *testing.T) {
		cfg := LoadFromEnv()
		cfg.Logging.Format = "xml"
		assert.Error(t, cfg.Validate())
	})

	t.Run("invalid page cache size", func(t *testing.T) {
		cfg := LoadFromEnv()
		cfg.Store.PageCacheSize = "not-a-size"
		assert.Error(t, cfg.Validate())
	})
}

func TestParseByteSize(t *testing.T) {
	cases := map[string]int64{
		"0":    0,
		"512B": 512,
		"64MB": 64 * 1024 * 1024,
		"1GB":  1024 * 1024 * 1024,
		"2KB":  2 * 1024,
	}
	for in, want := range cases {
		got, err := ParseByteSize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseByteSize("nonsense")
	assert.Error(t, err)
}
