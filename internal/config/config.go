// Package config provides the configuration of the strata CLI and catalog
// service. Values come from defaults, then an optional YAML or JSON file,
// then STRATA_* environment variables, then command-line flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for all strata components.
type Config struct {
	// DataDir is the base directory for local state
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Warehouse is the key prefix under which table locations are created
	Warehouse string `json:"warehouse" yaml:"warehouse"`

	Catalog     CatalogConfig     `json:"catalog" yaml:"catalog"`
	Storage     StorageConfig     `json:"storage" yaml:"storage"`
	Commit      CommitConfig      `json:"commit" yaml:"commit"`
	Maintenance MaintenanceConfig `json:"maintenance" yaml:"maintenance"`
	HTTP        HTTPConfig        `json:"http" yaml:"http"`
	GRPC        GRPCConfig        `json:"grpc" yaml:"grpc"`
	Log         LogConfig         `json:"log" yaml:"log"`
}

// CatalogConfig selects the pointer store.
type CatalogConfig struct {
	// Type is one of sqlite, object, remote
	Type string `json:"type" yaml:"type"`

	// Path is the SQLite database path (sqlite type)
	Path string `json:"path" yaml:"path"`

	// Prefix is the key prefix of pointer objects (object type)
	Prefix string `json:"prefix" yaml:"prefix"`

	// Addr is the catalog server address (remote type)
	Addr string `json:"addr" yaml:"addr"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, memory, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`

	// Cache keeps objects read from remote storage on local disk.
	Cache CacheConfig `json:"cache" yaml:"cache"`
}

// CacheConfig configures the local read cache. A zero MaxBytes disables it.
type CacheConfig struct {
	Dir      string `json:"dir" yaml:"dir"`
	MaxBytes int64  `json:"max_bytes" yaml:"max_bytes"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	Bucket    string `json:"bucket" yaml:"bucket"`
	Region    string `json:"region" yaml:"region"`
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Prefix    string `json:"prefix" yaml:"prefix"`
	PathStyle bool   `json:"path_style" yaml:"path_style"`
}

// CommitConfig bounds the optimistic retry loop. The table property
// commit.retry.num-retries overrides MaxRetries per table.
type CommitConfig struct {
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	MinBackoff time.Duration `json:"min_backoff" yaml:"min_backoff"`
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff"`
}

// MaintenanceConfig configures the background maintenance daemon.
type MaintenanceConfig struct {
	// Enabled runs the daemon inside the catalog service
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Interval is the time between maintenance passes
	Interval time.Duration `json:"interval" yaml:"interval"`

	// SnapshotMaxAge expires snapshots older than this
	SnapshotMaxAge time.Duration `json:"snapshot_max_age" yaml:"snapshot_max_age"`

	// MinSnapshotsToKeep is the number of most recent snapshots always kept
	MinSnapshotsToKeep int `json:"min_snapshots_to_keep" yaml:"min_snapshots_to_keep"`

	// OrphanMinAge protects files of in-flight commits from orphan removal
	OrphanMinAge time.Duration `json:"orphan_min_age" yaml:"orphan_min_age"`

	// TargetFileSizeBytes is the compaction output size
	TargetFileSizeBytes int64 `json:"target_file_size_bytes" yaml:"target_file_size_bytes"`

	// MinInputFiles is the smallest bin worth compacting
	MinInputFiles int `json:"min_input_files" yaml:"min_input_files"`

	// Namespaces limits the daemon to these namespaces; empty means "default"
	Namespaces []string `json:"namespaces" yaml:"namespaces"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Addr         string        `json:"addr" yaml:"addr"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether the catalog service is exposed over gRPC
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is a zerolog level name
	Level string `json:"level" yaml:"level"`

	// Format is json or console
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		DataDir:   "./data/strata",
		Warehouse: "warehouse",
		Catalog: CatalogConfig{
			Type:   "sqlite",
			Prefix: "_catalog",
		},
		Storage: StorageConfig{
			Type: "local",
			S3:   S3Config{Region: "us-east-1"},
		},
		Commit: CommitConfig{
			MaxRetries: 4,
			MinBackoff: 100 * time.Millisecond,
			MaxBackoff: 60 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			Enabled:             true,
			Interval:            10 * time.Minute,
			SnapshotMaxAge:      5 * 24 * time.Hour,
			MinSnapshotsToKeep:  1,
			OrphanMinAge:        72 * time.Hour,
			TargetFileSizeBytes: 128 * 1024 * 1024,
			MinInputFiles:       5,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/strata"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "catalog.db")
	}
	if c.Storage.Cache.Dir == "" {
		c.Storage.Cache.Dir = filepath.Join(c.DataDir, "cache")
	}
	if c.Catalog.Prefix == "" {
		c.Catalog.Prefix = "_catalog"
	}
	if len(c.Maintenance.Namespaces) == 0 {
		c.Maintenance.Namespaces = []string{"default"}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	switch c.Storage.Type {
	case "local", "memory", "s3":
	default:
		return fmt.Errorf("invalid storage type: %s (must be local, memory or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}
	if c.Storage.Cache.MaxBytes < 0 {
		return fmt.Errorf("storage.cache.max_bytes must not be negative, got %d", c.Storage.Cache.MaxBytes)
	}

	switch c.Catalog.Type {
	case "sqlite", "object":
	case "remote":
		if c.Catalog.Addr == "" {
			return fmt.Errorf("catalog.addr is required when catalog type is remote")
		}
	default:
		return fmt.Errorf("invalid catalog type: %s (must be sqlite, object or remote)", c.Catalog.Type)
	}

	if c.Commit.MaxRetries < 0 {
		return fmt.Errorf("commit.max_retries must not be negative, got %d", c.Commit.MaxRetries)
	}
	if c.Commit.MinBackoff <= 0 || c.Commit.MaxBackoff < c.Commit.MinBackoff {
		return fmt.Errorf("commit backoff must satisfy 0 < min_backoff <= max_backoff")
	}
	if c.Maintenance.MinSnapshotsToKeep < 1 {
		return fmt.Errorf("maintenance.min_snapshots_to_keep must be at least 1, got %d", c.Maintenance.MinSnapshotsToKeep)
	}
	if c.Maintenance.Enabled && c.Maintenance.Interval <= 0 {
		return fmt.Errorf("maintenance.interval must be positive")
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Log.Format)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv applies STRATA_* environment variables to cfg.
func LoadFromEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	str("STRATA_DATA_DIR", &cfg.DataDir)
	str("STRATA_WAREHOUSE", &cfg.Warehouse)

	str("STRATA_CATALOG_TYPE", &cfg.Catalog.Type)
	str("STRATA_CATALOG_PATH", &cfg.Catalog.Path)
	str("STRATA_CATALOG_PREFIX", &cfg.Catalog.Prefix)
	str("STRATA_CATALOG_ADDR", &cfg.Catalog.Addr)

	str("STRATA_STORAGE_TYPE", &cfg.Storage.Type)
	str("STRATA_STORAGE_PATH", &cfg.Storage.Path)
	str("STRATA_CACHE_DIR", &cfg.Storage.Cache.Dir)
	if v := os.Getenv("STRATA_CACHE_MAX_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Storage.Cache.MaxBytes = n
		}
	}
	str("STRATA_S3_BUCKET", &cfg.Storage.S3.Bucket)
	str("STRATA_S3_REGION", &cfg.Storage.S3.Region)
	str("STRATA_S3_ENDPOINT", &cfg.Storage.S3.Endpoint)
	str("STRATA_S3_PREFIX", &cfg.Storage.S3.Prefix)
	boolean("STRATA_S3_PATH_STYLE", &cfg.Storage.S3.PathStyle)

	integer("STRATA_COMMIT_MAX_RETRIES", &cfg.Commit.MaxRetries)
	duration("STRATA_COMMIT_MIN_BACKOFF", &cfg.Commit.MinBackoff)
	duration("STRATA_COMMIT_MAX_BACKOFF", &cfg.Commit.MaxBackoff)

	boolean("STRATA_MAINTENANCE_ENABLED", &cfg.Maintenance.Enabled)
	duration("STRATA_MAINTENANCE_INTERVAL", &cfg.Maintenance.Interval)
	duration("STRATA_MAINTENANCE_SNAPSHOT_MAX_AGE", &cfg.Maintenance.SnapshotMaxAge)
	integer("STRATA_MAINTENANCE_MIN_SNAPSHOTS_TO_KEEP", &cfg.Maintenance.MinSnapshotsToKeep)
	duration("STRATA_MAINTENANCE_ORPHAN_MIN_AGE", &cfg.Maintenance.OrphanMinAge)

	str("STRATA_HTTP_ADDR", &cfg.HTTP.Addr)
	str("STRATA_GRPC_ADDR", &cfg.GRPC.Addr)
	boolean("STRATA_GRPC_ENABLED", &cfg.GRPC.Enabled)

	str("STRATA_LOG_LEVEL", &cfg.Log.Level)
	str("STRATA_LOG_FORMAT", &cfg.Log.Format)
}

// EnsureDirectories creates the local directories the configuration uses.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}
	if c.Catalog.Type == "sqlite" {
		dirs = append(dirs, filepath.Dir(c.Catalog.Path))
	}
	if c.Storage.Cache.MaxBytes > 0 {
		dirs = append(dirs, c.Storage.Cache.Dir)
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
