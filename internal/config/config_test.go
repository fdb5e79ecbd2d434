package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Catalog.Path != filepath.Join("./data/strata", "catalog.db") {
		t.Fatalf("unexpected catalog path %q", cfg.Catalog.Path)
	}
	if len(cfg.Maintenance.Namespaces) != 1 || cfg.Maintenance.Namespaces[0] != "default" {
		t.Fatalf("unexpected namespaces %v", cfg.Maintenance.Namespaces)
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.yaml")
	data := `
data_dir: /var/lib/strata
catalog:
  type: remote
  addr: catalog:9090
storage:
  type: s3
  s3:
    bucket: lake
    path_style: true
commit:
  max_retries: 9
  min_backoff: 50ms
  max_backoff: 2s
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Catalog.Type != "remote" || cfg.Catalog.Addr != "catalog:9090" {
		t.Fatalf("catalog not loaded: %+v", cfg.Catalog)
	}
	if !cfg.Storage.S3.PathStyle || cfg.Storage.S3.Bucket != "lake" {
		t.Fatalf("s3 not loaded: %+v", cfg.Storage.S3)
	}
	if cfg.Commit.MaxRetries != 9 || cfg.Commit.MinBackoff != 50*time.Millisecond || cfg.Commit.MaxBackoff != 2*time.Second {
		t.Fatalf("commit not loaded: %+v", cfg.Commit)
	}
	// Unset values keep their defaults.
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTP.Addr)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadFromFileUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strata.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for .toml config")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STRATA_CATALOG_TYPE", "object")
	t.Setenv("STRATA_COMMIT_MAX_RETRIES", "2")
	t.Setenv("STRATA_MAINTENANCE_INTERVAL", "30s")
	t.Setenv("STRATA_GRPC_ENABLED", "false")
	t.Setenv("STRATA_LOG_FORMAT", "json")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)
	if cfg.Catalog.Type != "object" {
		t.Fatalf("catalog type = %q", cfg.Catalog.Type)
	}
	if cfg.Commit.MaxRetries != 2 {
		t.Fatalf("max retries = %d", cfg.Commit.MaxRetries)
	}
	if cfg.Maintenance.Interval != 30*time.Second {
		t.Fatalf("interval = %v", cfg.Maintenance.Interval)
	}
	if cfg.GRPC.Enabled {
		t.Fatal("grpc should be disabled")
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("log format = %q", cfg.Log.Format)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad storage", func(c *Config) { c.Storage.Type = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Storage.Type = "s3" }},
		{"remote without addr", func(c *Config) { c.Catalog.Type = "remote" }},
		{"bad catalog", func(c *Config) { c.Catalog.Type = "hive" }},
		{"negative retries", func(c *Config) { c.Commit.MaxRetries = -1 }},
		{"inverted backoff", func(c *Config) { c.Commit.MaxBackoff = time.Millisecond }},
		{"keep zero snapshots", func(c *Config) { c.Maintenance.MinSnapshotsToKeep = 0 }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Resolve()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
