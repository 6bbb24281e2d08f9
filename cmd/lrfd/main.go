package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/turbocraft/lrf/internal/engine"
	"github.com/turbocraft/lrf/internal/enginecfg"
	"github.com/turbocraft/lrf/pkg/lrf"
)

func main() {
	var configPath string
	var worldDir string
	flag.StringVar(&configPath, "config-dir", "", "directory to search for config.yaml")
	flag.StringVar(&worldDir, "world-dir", "", "world directory override (defaults to config value)")
	flag.Parse()

	cfg, err := enginecfg.Load(configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	if worldDir != "" {
		cfg.Storage.WorldDir = worldDir
	}

	log := newLogger(cfg.Logging)
	slog.SetDefault(log)

	mgr := engine.NewManager(engine.ManagerConfig{
		Features: engine.Features{
			Batching:   cfg.Storage.BatchingEnabled,
			Mmap:       cfg.Storage.MmapEnabled,
			Integrity:  cfg.Storage.IntegrityEnabled,
			AutoRepair: cfg.Storage.AutoRepair,
			Predictive: cfg.Storage.PredictiveEnabled,
		},
		LoadPoolSize:       cfg.Pools.LoadSize,
		WritePoolSize:      cfg.Pools.WriteSize,
		CompressPoolSize:   cfg.Pools.CompressSize,
		DecompressPoolSize: cfg.Pools.DecompressSize,
		PrefetchPoolSize:   cfg.Pools.PrefetchSize,
		DefaultCompression: compressionFromName(cfg.Storage.DefaultCompression),
		PrimaryChecksum:    algorithmFromName(cfg.Storage.PrimaryChecksum),
		BackupChecksum:     algorithmFromName(cfg.Storage.BackupChecksum),
		MaxHeapBytes:       cfg.Storage.MaxHeapBytes,
		MaxConcurrentLoads: cfg.Storage.MaxConcurrentLoads,
		TimeoutSeconds:     cfg.Storage.TimeoutSeconds,
		PredictionScale:    cfg.Storage.PredictionScale,
		PrefetchDistance:   cfg.Storage.PrefetchDistance,
		RepairBackupSource: cfg.Storage.RepairBackupSource,
		Logger:             log,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	regions, err := engine.ListRegions(cfg.Storage.WorldDir)
	if err != nil {
		log.Error("list regions", "error", err)
	} else {
		log.Info("discovered regions", "count", len(regions), "world_dir", cfg.Storage.WorldDir)
	}

	if cfg.Storage.MaxHeapBytes > 0 {
		go runPressureSampler(ctx, mgr)
	}

	log.Info("lrfd ready", "world_dir", cfg.Storage.WorldDir)
	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer shutdownCancel()
	if err := mgr.Close(shutdownCtx); err != nil {
		log.Error("shutdown", "error", err)
		os.Exit(1)
	}
}

// runPressureSampler recomputes pool sizing on a coarse interval, per the
// concurrency model's guidance to scale on sustained pressure rather than
// per task.
func runPressureSampler(ctx context.Context, mgr *engine.Manager) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mgr.SamplePressure()
		}
	}
}

func newLogger(cfg enginecfg.LoggingConfig) *slog.Logger {
	var out io.Writer = os.Stdout
	if cfg.FilePath != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
	}
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
}

func compressionFromName(name string) lrf.CompressionID {
	switch name {
	case "zlib":
		return lrf.CompressionZlib
	case "lz4":
		return lrf.CompressionLZ4
	case "zstd":
		return lrf.CompressionZstd
	default:
		return lrf.CompressionNone
	}
}

func algorithmFromName(name string) engine.Algorithm {
	switch name {
	case "crc32c":
		return engine.AlgorithmCRC32C
	case "sha256":
		return engine.AlgorithmSHA256
	case "xxh64":
		return engine.AlgorithmXXH64
	default:
		return engine.AlgorithmNone
	}
}
