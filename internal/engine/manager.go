package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/turbocraft/lrf/pkg/lrf"
)

// Features toggles optional engine subsystems. All default to enabled; a
// Manager built with the zero value runs with every feature off, which is
// almost never what a caller wants — use DefaultFeatures.
type Features struct {
	Batching  bool
	Mmap      bool
	Integrity bool

	// AutoRepair, when Integrity is also enabled, lets LoadChunk invoke the
	// corruption fixer once on a CORRUPTED_* validation result and retry the
	// load against the repaired file. No retry loop beyond that one attempt.
	AutoRepair bool

	// Predictive toggles the mmap cache's movement-based prefetch. Disabling
	// it leaves the cache itself (and IsCached/Stats) fully functional.
	Predictive bool
}

// DefaultFeatures enables every optional subsystem.
func DefaultFeatures() Features {
	return Features{Batching: true, Mmap: true, Integrity: true, AutoRepair: true, Predictive: true}
}

// ManagerConfig configures pool sizes and feature flags for a Manager. Zero
// values fall back to package defaults.
type ManagerConfig struct {
	Features Features

	LoadPoolSize       int
	WritePoolSize      int
	CompressPoolSize   int
	DecompressPoolSize int
	PrefetchPoolSize   int

	DefaultCompression lrf.CompressionID
	PrimaryChecksum    Algorithm
	BackupChecksum     Algorithm

	MaxHeapBytes uint64

	// MaxConcurrentLoads bounds each region's BatchLoader backpressure cap
	// (storage.batch.max-concurrent-loads). 0 falls back to
	// DefaultMaxOutstandingLoads.
	MaxConcurrentLoads int

	// TimeoutSeconds bounds how long LoadChunk/SaveChunk wait for a result
	// before returning ErrTimeout (storage.lrf.timeout-seconds). 0 falls
	// back to 5 seconds.
	TimeoutSeconds int

	// PredictionScale and PrefetchDistance tune the mmap cache's movement
	// predictor (storage.mmap.prediction-scale /
	// storage.mmap.prefetch-distance). 0 falls back to the package defaults.
	PredictionScale  int
	PrefetchDistance int

	// RepairBackupSource, if set, is a go-getter source URL tried before the
	// byte-level salvage path whenever a repair is triggered
	// (storage.repair.backup-source).
	RepairBackupSource string

	Logger *slog.Logger
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	if c.LoadPoolSize <= 0 {
		c.LoadPoolSize = 32
	}
	if c.WritePoolSize <= 0 {
		c.WritePoolSize = 8
	}
	if c.CompressPoolSize <= 0 {
		c.CompressPoolSize = 16
	}
	if c.DecompressPoolSize <= 0 {
		c.DecompressPoolSize = 32
	}
	if c.PrefetchPoolSize <= 0 {
		c.PrefetchPoolSize = 2
	}
	if c.PrimaryChecksum == AlgorithmNone {
		c.PrimaryChecksum = AlgorithmCRC32C
	}
	if c.MaxConcurrentLoads <= 0 {
		c.MaxConcurrentLoads = DefaultMaxOutstandingLoads
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 5
	}
	if c.PredictionScale <= 0 {
		c.PredictionScale = predictionScale
	}
	if c.PrefetchDistance <= 0 {
		c.PrefetchDistance = prefetchDistance
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// opTimeout is the configured per-operation deadline applied by LoadChunk
// and SaveChunk.
func (m *Manager) opTimeout() time.Duration {
	return time.Duration(m.cfg.TimeoutSeconds) * time.Second
}

// regionComponents bundles every per-region collaborator the manager
// assembles on first access to a path.
type regionComponents struct {
	shared    *SharedRegion
	writer    *Writer
	reader    *Reader
	loader    *BatchLoader
	saver     *BatchSaver
	mmap      *MmapCache
	validator *Validator
	fixer     *CorruptionFixer
}

// Manager is the engine's single entry point: it owns one SharedRegion (and
// its collaborators) per region file, the shared worker pools every region
// draws from, and the memory-pressure sampler that scales them.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	loadPool       *Pool
	writePool      *Pool
	compressPool   *Pool
	decompressPool *Pool
	prefetchPool   *Pool
	pressure       *PressureMonitor

	mu      sync.Mutex
	regions map[string]*regionComponents
	closed  bool
}

// NewManager builds a Manager and its shared pools. It does not open any
// region file until first use.
func NewManager(cfg ManagerConfig) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:            cfg,
		logger:         cfg.Logger,
		loadPool:       NewPool("load", cfg.LoadPoolSize),
		writePool:      NewPool("write", cfg.WritePoolSize),
		compressPool:   NewPool("compress", cfg.CompressPoolSize),
		decompressPool: NewPool("decompress", cfg.DecompressPoolSize),
		prefetchPool:   NewPool("prefetch", cfg.PrefetchPoolSize),
		pressure:       NewPressureMonitor(cfg.MaxHeapBytes),
		regions:        make(map[string]*regionComponents),
	}
}

// components lazily assembles (or returns) the full collaborator set for
// path, opening the underlying region file if necessary.
func (m *Manager) components(path string) (*regionComponents, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrShuttingDown
	}
	if rc, ok := m.regions[path]; ok {
		return rc, nil
	}

	shared, err := OpenSharedRegion(path, m.cfg.DefaultCompression)
	if err != nil {
		return nil, err
	}

	rc := &regionComponents{
		shared: shared,
		writer: NewWriter(shared),
		reader: NewReader(shared, 0, 0),
	}

	if m.cfg.Features.Integrity {
		rc.validator = NewValidator(shared, m.cfg.PrimaryChecksum, m.cfg.BackupChecksum)
		rc.fixer = NewCorruptionFixer(shared)
	}

	postFlush := func(results []WriteResult) error {
		shared.InvalidateHeaderCache()
		if rc.validator == nil {
			return nil
		}
		for _, r := range results {
			if r.Err != nil {
				continue
			}
			idx := lrf.ChunkIndex(r.X, r.Z)
			// Re-read through the writer's region to checksum exactly what
			// landed on disk, not the caller's pre-compression bytes.
			payload, err := NewReader(shared, 0, 0).ReadChunk(r.X, r.Z)
			if err != nil || payload == nil {
				continue
			}
			if err := rc.validator.UpdateChecksum(idx, payload); err != nil {
				return err
			}
		}
		return nil
	}

	if m.cfg.Features.Batching {
		rc.saver = NewBatchSaver(rc.writer, 0, 0, postFlush)
		rc.loader = NewBatchLoader(rc.reader, m.decompressPool, 0, m.cfg.MaxConcurrentLoads)
	}
	if m.cfg.Features.Mmap {
		rc.mmap = NewMmapCache(shared, m.prefetchPool, 0, 0)
		rc.mmap.ConfigurePrefetch(m.cfg.Features.Predictive, m.cfg.PredictionScale, m.cfg.PrefetchDistance)
	}

	m.regions[path] = rc
	return rc, nil
}

// LoadChunk resolves (x,z) from path, consulting any pending (unflushed)
// write, then the mmap cache, then the batch loader, falling back to a
// direct read. The whole operation is bounded by the configured per-op
// timeout. When integrity is enabled, the resolved payload is validated
// against its stored checksum before being returned; on corruption with
// auto-repair enabled, the region is repaired once and the chunk re-read. A
// nil, nil result means the chunk does not exist.
func (m *Manager) LoadChunk(ctx context.Context, path string, x, z int) ([]byte, error) {
	rc, err := m.components(path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, m.opTimeout())
	defer cancel()

	payload, err := m.loadRaw(ctx, rc, x, z)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return m.validateAndMaybeRepair(ctx, path, rc, x, z, payload)
}

// loadRaw runs the plain consultation chain without any integrity checking.
func (m *Manager) loadRaw(ctx context.Context, rc *regionComponents, x, z int) ([]byte, error) {
	if rc.saver != nil {
		if payload, ok := rc.saver.GetPendingChunk(x, z); ok {
			return payload, nil
		}
	}
	if rc.mmap != nil {
		payload, err := rc.mmap.ReadChunk(ctx, x, z)
		if err == nil && payload != nil {
			return payload, nil
		}
		if err != nil {
			return nil, err
		}
	}
	if rc.loader != nil {
		fut, err := rc.loader.Load(ctx, x, z)
		if err != nil {
			return nil, err
		}
		return fut.Wait(ctx)
	}
	return rc.reader.ReadChunk(x, z)
}

// validateAndMaybeRepair checks payload against its stored checksum when
// integrity is enabled. A clean or not-yet-checksummed payload is returned
// unchanged. A corrupted payload is returned as an error unless auto-repair
// is enabled, in which case the region is repaired once and the chunk
// re-read directly (bypassing every cache, since repair rewrites the
// chunk's on-disk location).
func (m *Manager) validateAndMaybeRepair(ctx context.Context, path string, rc *regionComponents, x, z int, payload []byte) ([]byte, error) {
	if rc.validator == nil || payload == nil {
		return payload, nil
	}

	idx := lrf.ChunkIndex(x, z)
	status, err := rc.validator.ValidateChunk(idx, payload, false)
	if err != nil {
		return nil, err
	}
	if status == StatusValid || status == StatusMissingChecksum {
		return payload, nil
	}

	if !m.cfg.Features.AutoRepair {
		return nil, newErr(CodeIntegrity, "validate chunk", fmt.Errorf("chunk (%d,%d) %s", x, z, status))
	}

	if _, err := m.repairRegion(ctx, path, rc); err != nil {
		return nil, err
	}
	return NewReader(rc.shared, 0, 0).ReadChunk(x, z)
}

// repairRegion attempts to recover rc's region file. When RepairBackupSource
// is configured, a fetch-and-adopt attempt runs first; it only takes effect
// if the fetched file passes detectCorruption cleanly. Otherwise (or on
// failure) it falls back to the byte-level salvage path.
func (m *Manager) repairRegion(ctx context.Context, path string, rc *regionComponents) (IntegrityReport, error) {
	if rc.fixer == nil {
		rc.fixer = NewCorruptionFixer(rc.shared)
	}

	if m.cfg.RepairBackupSource != "" {
		if err := RestoreFromBackupInto(ctx, rc.shared, m.cfg.RepairBackupSource); err == nil {
			if issues, derr := rc.fixer.detectCorruption(); derr == nil && len(issues) == 0 {
				rc.shared.InvalidateHeaderCache()
				return IntegrityReport{Statuses: make(map[int]Status)}, nil
			}
		}
	}

	report, err := rc.fixer.repairFile()
	rc.shared.InvalidateHeaderCache()
	return report, err
}

// SaveChunk stores a defensive copy of payload for (x,z) in path, through
// the batch saver if enabled, otherwise with an immediate direct write. The
// direct-write path is bounded by the configured per-op timeout; a buffered
// save through the batch saver returns as soon as it is queued and is not
// itself subject to the timeout.
func (m *Manager) SaveChunk(ctx context.Context, path string, x, z int, payload []byte) error {
	rc, err := m.components(path)
	if err != nil {
		return err
	}
	if rc.saver != nil {
		return rc.saver.SaveChunk(x, z, payload)
	}

	ctx, cancel := context.WithTimeout(ctx, m.opTimeout())
	defer cancel()
	if ctx.Err() != nil {
		return ErrTimeout
	}

	if _, err := rc.writer.WriteChunk(x, z, payload); err != nil {
		return err
	}
	if err := rc.writer.Flush(); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ErrTimeout
	}
	if rc.validator != nil {
		idx := lrf.ChunkIndex(x, z)
		decoded, rerr := rc.reader.ReadChunk(x, z)
		if rerr == nil && decoded != nil {
			_ = rc.validator.UpdateChecksum(idx, decoded)
		}
	}
	return nil
}

// LoadChunks loads every coordinate in coords from path, in the same order.
func (m *Manager) LoadChunks(ctx context.Context, path string, coords []ChunkCoord) ([][]byte, []error) {
	rc, err := m.components(path)
	if err != nil {
		errs := make([]error, len(coords))
		for i := range errs {
			errs[i] = err
		}
		return make([][]byte, len(coords)), errs
	}
	if rc.loader != nil {
		return rc.loader.LoadBatch(ctx, coords)
	}
	return rc.reader.ReadBatch(coords)
}

// Flush forces any buffered writes for path to disk immediately.
func (m *Manager) Flush(path string) error {
	m.mu.Lock()
	rc, ok := m.regions[path]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if rc.saver != nil {
		return rc.saver.FlushBatch()
	}
	return rc.writer.Flush()
}

// HasDataFor reports whether (x,z) has data in path, checking pending writes
// before the on-disk header.
func (m *Manager) HasDataFor(path string, x, z int) (bool, error) {
	m.mu.Lock()
	rc, ok := m.regions[path]
	m.mu.Unlock()
	if !ok {
		shared, err := OpenSharedRegion(path, m.cfg.DefaultCompression)
		if err != nil {
			return false, err
		}
		defer shared.Release()
		header, err := shared.Header()
		if err != nil {
			return false, err
		}
		return header.HasChunk(x, z), nil
	}
	if rc.saver != nil && rc.saver.HasPendingChunk(x, z) {
		return true, nil
	}
	return rc.reader.HasChunk(x, z)
}

// CloseRegion flushes and releases every collaborator for path, in
// saver -> loader -> mmap -> reader -> validator -> shared-resource order.
func (m *Manager) CloseRegion(path string) error {
	m.mu.Lock()
	rc, ok := m.regions[path]
	if ok {
		delete(m.regions, path)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.closeComponents(rc)
}

func (m *Manager) closeComponents(rc *regionComponents) error {
	var firstErr error
	if rc.saver != nil {
		if err := rc.saver.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if rc.mmap != nil {
		if err := rc.mmap.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	// loader and reader hold no file handles of their own beyond the shared
	// region; only the shared region itself needs release.
	if err := rc.shared.Release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Close shuts down every open region and every shared pool. Write-pool
// shutdown is given a longer grace period than the read-side pools so
// buffered saves have time to land.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	regions := m.regions
	m.regions = make(map[string]*regionComponents)
	m.mu.Unlock()

	var firstErr error
	for _, rc := range regions {
		if err := m.closeComponents(rc); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	writeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := m.writePool.Shutdown(writeCtx); err != nil && firstErr == nil {
		firstErr = err
	}

	for _, p := range []*Pool{m.loadPool, m.compressPool, m.decompressPool, m.prefetchPool} {
		shortCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := p.Shutdown(shortCtx)
		cancel()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SamplePressure reads current heap usage and resizes the load, decompress
// and prefetch pools according to the threshold the usage has crossed
// (above 0.9, 0.8 or 0.7), restoring the configured sizes below 0.7. Intended to be called on a coarse interval (the
// manager does not run its own ticker).
func (m *Manager) SamplePressure() PressureSample {
	sample := m.pressure.Sample()
	ratio := sample.Ratio()
	switch {
	case ratio > 0.9:
		m.loadPool.Resize(m.cfg.LoadPoolSize / 4)
		m.decompressPool.Resize(m.cfg.DecompressPoolSize / 4)
		m.prefetchPool.Resize(1)
	case ratio > 0.8:
		m.loadPool.Resize(m.cfg.LoadPoolSize / 2)
		m.decompressPool.Resize(m.cfg.DecompressPoolSize / 2)
	case ratio > 0.7:
		m.prefetchPool.Resize(1)
	default:
		m.loadPool.Resize(m.cfg.LoadPoolSize)
		m.decompressPool.Resize(m.cfg.DecompressPoolSize)
		m.prefetchPool.Resize(m.cfg.PrefetchPoolSize)
	}
	return sample
}
