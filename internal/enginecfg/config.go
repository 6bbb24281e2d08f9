// Package enginecfg loads the storage engine's configuration via viper,
// mirroring the layered file/env/defaults approach used elsewhere in the
// pack's service configs.
package enginecfg

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Storage StorageConfig `mapstructure:"storage" json:"storage"`
	Pools   PoolsConfig   `mapstructure:"pools" json:"pools"`
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
}

type StorageConfig struct {
	WorldDir           string `mapstructure:"world_dir" json:"world_dir"`
	DefaultCompression string `mapstructure:"default_compression" json:"default_compression"`
	BatchingEnabled    bool   `mapstructure:"batching_enabled" json:"batching_enabled"`
	MmapEnabled        bool   `mapstructure:"mmap_enabled" json:"mmap_enabled"`
	IntegrityEnabled   bool   `mapstructure:"integrity_enabled" json:"integrity_enabled"`
	AutoRepair         bool   `mapstructure:"auto_repair" json:"auto_repair"`
	PrimaryChecksum    string `mapstructure:"primary_checksum" json:"primary_checksum"`
	BackupChecksum     string `mapstructure:"backup_checksum" json:"backup_checksum"`
	MaxHeapBytes       uint64 `mapstructure:"max_heap_bytes" json:"max_heap_bytes"`
	ReaderCacheEntries int    `mapstructure:"reader_cache_entries" json:"reader_cache_entries"`
	ReaderCacheBytes   int64  `mapstructure:"reader_cache_bytes" json:"reader_cache_bytes"`
	MmapCacheEntries   int    `mapstructure:"mmap_cache_entries" json:"mmap_cache_entries"`
	MmapCacheBytes     int64  `mapstructure:"mmap_cache_bytes" json:"mmap_cache_bytes"`
	BatchSize          int    `mapstructure:"batch_size" json:"batch_size"`
	FlushDelayMillis   int    `mapstructure:"flush_delay_millis" json:"flush_delay_millis"`
	MaxConcurrentLoads int    `mapstructure:"max_concurrent_loads" json:"max_concurrent_loads"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	PredictiveEnabled  bool   `mapstructure:"predictive_enabled" json:"predictive_enabled"`
	PredictionScale    int    `mapstructure:"prediction_scale" json:"prediction_scale"`
	PrefetchDistance   int    `mapstructure:"prefetch_distance" json:"prefetch_distance"`
	RepairBackupSource string `mapstructure:"repair_backup_source" json:"repair_backup_source"`
}

type PoolsConfig struct {
	LoadSize       int `mapstructure:"load_size" json:"load_size"`
	WriteSize      int `mapstructure:"write_size" json:"write_size"`
	CompressSize   int `mapstructure:"compress_size" json:"compress_size"`
	DecompressSize int `mapstructure:"decompress_size" json:"decompress_size"`
	PrefetchSize   int `mapstructure:"prefetch_size" json:"prefetch_size"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level" json:"level"`
	FilePath   string `mapstructure:"file_path" json:"file_path"`
	MaxSize    int    `mapstructure:"max_size" json:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" json:"max_age"`
	Compress   bool   `mapstructure:"compress" json:"compress"`
}

// Load reads configuration from configPath (a directory to search for
// config.yaml), environment variables prefixed LRF_, and falls back to
// Load's built-in defaults for anything unset.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/lrf")

	setDefaults(v)

	v.SetEnvPrefix("LRF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("enginecfg: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("enginecfg: unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("enginecfg: validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.world_dir", "./world")
	v.SetDefault("storage.default_compression", "zstd")
	v.SetDefault("storage.batching_enabled", true)
	v.SetDefault("storage.mmap_enabled", true)
	v.SetDefault("storage.integrity_enabled", true)
	v.SetDefault("storage.auto_repair", true)
	v.SetDefault("storage.primary_checksum", "crc32c")
	v.SetDefault("storage.backup_checksum", "none")
	v.SetDefault("storage.max_heap_bytes", 0)
	v.SetDefault("storage.reader_cache_entries", 64)
	v.SetDefault("storage.reader_cache_bytes", 64*1024*1024)
	v.SetDefault("storage.mmap_cache_entries", 512)
	v.SetDefault("storage.mmap_cache_bytes", 512*1024*1024)
	v.SetDefault("storage.batch_size", 32)
	v.SetDefault("storage.flush_delay_millis", 500)
	v.SetDefault("storage.max_concurrent_loads", 64)
	v.SetDefault("storage.timeout_seconds", 5)
	v.SetDefault("storage.predictive_enabled", true)
	v.SetDefault("storage.prediction_scale", 6)
	v.SetDefault("storage.prefetch_distance", 8)
	v.SetDefault("storage.repair_backup_source", "")

	v.SetDefault("pools.load_size", 32)
	v.SetDefault("pools.write_size", 8)
	v.SetDefault("pools.compress_size", 16)
	v.SetDefault("pools.decompress_size", 32)
	v.SetDefault("pools.prefetch_size", 2)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file_path", "./lrf.log")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)
	v.SetDefault("logging.compress", true)
}

func validate(cfg *Config) error {
	var err error
	cfg.Storage.WorldDir, err = filepath.Abs(cfg.Storage.WorldDir)
	if err != nil {
		return fmt.Errorf("invalid world_dir: %w", err)
	}

	switch cfg.Storage.DefaultCompression {
	case "none", "zlib", "lz4", "zstd":
	default:
		return fmt.Errorf("unknown default_compression %q", cfg.Storage.DefaultCompression)
	}

	switch cfg.Storage.PrimaryChecksum {
	case "crc32c", "sha256", "xxh64":
	default:
		return fmt.Errorf("unknown primary_checksum %q", cfg.Storage.PrimaryChecksum)
	}
	switch cfg.Storage.BackupChecksum {
	case "none", "crc32c", "sha256", "xxh64":
	default:
		return fmt.Errorf("unknown backup_checksum %q", cfg.Storage.BackupChecksum)
	}

	if cfg.Storage.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if cfg.Storage.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive")
	}
	if cfg.Storage.MaxConcurrentLoads <= 0 {
		return fmt.Errorf("max_concurrent_loads must be positive")
	}
	return nil
}
