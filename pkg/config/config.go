// Package config loads the settings a pijul-sub000 pristine needs at
// startup: where its data file lives, how aggressively it syncs to disk,
// how large its read-transaction pool and page cache are, and how many
// workers internal/record farms file-diffing out to.
//
// Configuration is environment-variable driven (matching spec.md §6's
// "Environment" paragraph), with an optional YAML override file for
// settings that are awkward to express as a single env var (e.g. worker
// pool sizing).
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//
//	st, err := store.Open(store.Options{
//		Dir:        cfg.Pristine.DataDir,
//		SyncWrites: cfg.Pristine.SyncWrites,
//	})
//
// Environment Variables:
//
//	PIJUL_DATA_DIR           pristine data directory (default "./pristine")
//	PIJUL_SYNC_WRITES        fsync every commit (default false)
//	PIJUL_PAGE_CACHE_SIZE    Badger block-cache size, e.g. "64MB" (default "64MB")
//	PIJUL_READ_TXN_POOL_SIZE bound on concurrent read transactions (default 16)
//	PIJUL_RECORD_WORKERS     internal/record diff worker-pool size (default 4)
//	PIJUL_LOG_LEVEL          debug|info|warn|error (default "info")
//	PIJUL_LOG_FORMAT         text|json (default "text")
//	PIJUL_CONFIG_FILE        optional YAML override file path
//
// For a complete list, see the Config struct field documentation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pijul-sub000 configuration, assembled from environment
// variables and (if PIJUL_CONFIG_FILE is set) a YAML override file layered
// on top.
//
// Configuration is organized into logical sections:
//   - Pristine: on-disk store location and durability
//   - Store: page cache and transaction pool sizing
//   - Record: the file-diffing worker pool
//   - Logging: the injectable log facility's level/format
//
// Use LoadFromEnv() to build a Config, then Validate() before use.
type Config struct {
	Pristine PristineConfig `yaml:"pristine"`
	Store    StoreConfig    `yaml:"store"`
	Record   RecordConfig   `yaml:"record"`
	Logging  LoggingConfig  `yaml:"logging"`

	loadErr error
}

// PristineConfig holds the on-disk location and durability mode of the
// pristine (spec.md §6 "Pristine on-disk layout").
type PristineConfig struct {
	// DataDir is the directory holding the pristine's data file and lock file.
	DataDir string `yaml:"data_dir"`
	// SyncWrites forces fsync on every commit. false trades durability for
	// throughput, matching the teacher's default for local/dev stores.
	SyncWrites bool `yaml:"sync_writes"`
	// InMemory runs with no on-disk files at all (tests, scratch pristines).
	InMemory bool `yaml:"in_memory"`
}

// StoreConfig holds internal/store sizing knobs layered on top of Badger's
// own defaults (spec.md §4.1a "Store stats & page cache").
type StoreConfig struct {
	// PageCacheSize is a human-readable block-cache budget ("64MB", "1GB"),
	// checked by Validate. store.Options has no field for it, so Badger
	// runs with its own default cache size.
	PageCacheSize string `yaml:"page_cache_size"`
	// ReadTxnPoolSize is a bound on concurrent read transactions, checked
	// by Validate. internal/store keeps no read-transaction pool and does
	// not read it.
	ReadTxnPoolSize int `yaml:"read_txn_pool_size"`
}

// RecordConfig holds internal/record's worker-pool sizing (spec.md §4.5a,
// §5: "Record optionally farms out per-file diffing to a worker pool").
type RecordConfig struct {
	// Workers is the number of goroutines concurrently diffing files during
	// a Record pass. <= 0 lets internal/record pick its own default.
	Workers int `yaml:"workers"`
	// DiffTimeout is a per-file diff time budget, loaded from
	// PIJUL_RECORD_DIFF_TIMEOUT. internal/record's worker pool does not
	// read it and applies no per-file timeout.
	DiffTimeout time.Duration `yaml:"diff_timeout"`
}

// LoggingConfig holds the injectable log facility's level/format
// (spec.md §6 Environment: "a log facility is used throughout but is a
// pure side-effect; implementations may no-op").
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// LoadFromEnv builds a Config from environment variables, then — if
// PIJUL_CONFIG_FILE names a readable file — layers a YAML override on top
// of it. All values have sensible defaults, so LoadFromEnv() can be called
// without any environment variables set.
//
// Configuration priority (highest first):
//  1. YAML override file (PIJUL_CONFIG_FILE), if present
//  2. Environment variables
//  3. Built-in defaults
func LoadFromEnv() *Config {
	cfg := &Config{
		Pristine: PristineConfig{
			DataDir:    getEnv("PIJUL_DATA_DIR", "./pristine"),
			SyncWrites: getEnvBool("PIJUL_SYNC_WRITES", false),
			InMemory:   getEnvBool("PIJUL_IN_MEMORY", false),
		},
		Store: StoreConfig{
			PageCacheSize:   getEnv("PIJUL_PAGE_CACHE_SIZE", "64MB"),
			ReadTxnPoolSize: getEnvInt("PIJUL_READ_TXN_POOL_SIZE", 16),
		},
		Record: RecordConfig{
			Workers:     getEnvInt("PIJUL_RECORD_WORKERS", 4),
			DiffTimeout: getEnvDuration("PIJUL_RECORD_DIFF_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("PIJUL_LOG_LEVEL", "info"),
			Format: getEnv("PIJUL_LOG_FORMAT", "text"),
		},
	}

	if path := os.Getenv("PIJUL_CONFIG_FILE"); path != "" {
		if err := cfg.mergeYAMLFile(path); err != nil {
			// A named-but-unreadable/invalid override file is a startup
			// error, not a silent fallback: surfaced via Validate's caller,
			// not swallowed here, since LoadFromEnv has no error return.
			cfg.loadErr = err
		}
	}

	return cfg
}

// loadErr carries a YAML override failure from LoadFromEnv through to
// Validate, since LoadFromEnv itself has no error return (matching the
// teacher's LoadFromEnv/Validate two-step convention).
func (c *Config) mergeYAMLFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read override %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse override %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for logical errors before use: missing
// required fields, invalid values, or a failed YAML override load.
//
// Call Validate() after LoadFromEnv() and before opening a pristine.
func (c *Config) Validate() error {
	if c.loadErr != nil {
		return c.loadErr
	}
	if !c.Pristine.InMemory && c.Pristine.DataDir == "" {
		return fmt.Errorf("config: pristine.data_dir must be set unless pristine.in_memory")
	}
	if c.Store.ReadTxnPoolSize <= 0 {
		return fmt.Errorf("config: store.read_txn_pool_size must be positive, got %d", c.Store.ReadTxnPoolSize)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: invalid logging.format %q", c.Logging.Format)
	}
	if _, err := ParseByteSize(c.Store.PageCacheSize); err != nil {
		return fmt.Errorf("config: invalid store.page_cache_size: %w", err)
	}
	return nil
}

// String returns a summary suitable for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DataDir: %s, SyncWrites: %v, PageCache: %s, RecordWorkers: %d}",
		c.Pristine.DataDir, c.Pristine.SyncWrites, c.Store.PageCacheSize, c.Record.Workers,
	)
}

// Helper functions for environment variable parsing.

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

// ParseByteSize parses a human-readable size string ("64MB", "1GB", "0").
// Supports B/KB/MB/GB/TB suffixes, case-insensitively.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" {
		return 0, nil
	}
	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return val * multiplier, nil
}
