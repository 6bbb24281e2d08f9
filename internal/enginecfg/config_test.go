package enginecfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.DefaultCompression != "zstd" {
		t.Errorf("DefaultCompression = %q, want zstd", cfg.Storage.DefaultCompression)
	}
	if cfg.Storage.BatchSize != 32 {
		t.Errorf("BatchSize = %d, want 32", cfg.Storage.BatchSize)
	}
	if !cfg.Storage.BatchingEnabled || !cfg.Storage.MmapEnabled || !cfg.Storage.IntegrityEnabled || !cfg.Storage.AutoRepair {
		t.Errorf("expected all storage features enabled by default, got %+v", cfg.Storage)
	}
	if cfg.Storage.TimeoutSeconds != 5 {
		t.Errorf("TimeoutSeconds = %d, want 5", cfg.Storage.TimeoutSeconds)
	}
	if cfg.Storage.MaxConcurrentLoads != 64 {
		t.Errorf("MaxConcurrentLoads = %d, want 64", cfg.Storage.MaxConcurrentLoads)
	}
	if !cfg.Storage.PredictiveEnabled || cfg.Storage.PredictionScale != 6 || cfg.Storage.PrefetchDistance != 8 {
		t.Errorf("unexpected predictor defaults: %+v", cfg.Storage)
	}
	if cfg.Pools.LoadSize != 32 || cfg.Pools.WriteSize != 8 {
		t.Errorf("unexpected pool defaults: %+v", cfg.Pools)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("storage:\n  default_compression: lz4\n  batch_size: 16\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.DefaultCompression != "lz4" {
		t.Errorf("DefaultCompression = %q, want lz4", cfg.Storage.DefaultCompression)
	}
	if cfg.Storage.BatchSize != 16 {
		t.Errorf("BatchSize = %d, want 16", cfg.Storage.BatchSize)
	}
}

func TestLoadRejectsUnknownCompression(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte("storage:\n  default_compression: brotli\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}

	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for unknown compression algorithm")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LRF_STORAGE_BATCH_SIZE", "64")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.BatchSize != 64 {
		t.Errorf("BatchSize = %d, want 64 from env override", cfg.Storage.BatchSize)
	}
}
