package engine

import (
	"container/list"
	"context"
	"sync"

	"github.com/turbocraft/lrf/pkg/lrf"
)

// DefaultMmapCacheEntries and DefaultMmapCacheBytes are the mmap engine's
// larger cache defaults (512 entries / 512 MiB), sized for the read-mostly,
// whole-world-scan access pattern mmap serves best.
const (
	DefaultMmapCacheEntries = 512
	DefaultMmapCacheBytes   = 512 * 1024 * 1024

	// prefetchSoftThreshold is the fraction of maxBytes above which
	// speculative prefetch admissions are dropped, leaving cache room for
	// demand reads.
	prefetchSoftThreshold = 0.7

	// predictionScale and prefetchDistance drive the access predictor:
	// predictionScale cells are stepped along the observed movement vector,
	// then every chunk within prefetchDistance of that point is queued.
	predictionScale  = 6
	prefetchDistance = 8

	// accessHistoryLen bounds how many recent accesses feed the movement
	// vector estimate.
	accessHistoryLen = 8
)

type mmapCacheEntry struct {
	index   int
	payload []byte
}

// MmapCacheStats reports cumulative hit/miss statistics for an MmapCache.
type MmapCacheStats struct {
	Hits       uint64
	Misses     uint64
	CacheBytes int64
}

// HitRate returns Hits/(Hits+Misses), or 0 if nothing has been requested yet.
func (s MmapCacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// MmapCache reads chunks through a region's read-only mmap view, caching
// decoded payloads in an LRU bounded by entry count and byte budget, and
// speculatively prefetching chunks ahead of the caller's apparent direction
// of travel.
type MmapCache struct {
	region       *SharedRegion
	prefetchPool *Pool

	mu         sync.Mutex
	lru        *list.List
	entries    map[int]*list.Element
	cacheBytes int64
	maxEntries int
	maxBytes   int64

	history    []ChunkCoord
	inPrefetch map[int]bool

	stats MmapCacheStats

	predictiveEnabled bool
	predictionScale   int
	prefetchDistance  int
}

// NewMmapCache returns an MmapCache over region, running prefetch reads on
// prefetchPool. maxEntries/maxBytes of 0 fall back to package defaults.
func NewMmapCache(region *SharedRegion, prefetchPool *Pool, maxEntries int, maxBytes int64) *MmapCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMmapCacheEntries
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMmapCacheBytes
	}
	return &MmapCache{
		region:            region,
		prefetchPool:      prefetchPool,
		lru:               list.New(),
		entries:           make(map[int]*list.Element),
		maxEntries:        maxEntries,
		maxBytes:          maxBytes,
		inPrefetch:        make(map[int]bool),
		predictiveEnabled: true,
		predictionScale:   predictionScale,
		prefetchDistance:  prefetchDistance,
	}
}

// ConfigurePrefetch overrides the movement predictor's tunables. enabled
// false disables schedulePrefetch entirely; predictionScale/prefetchDistance
// of 0 leave the current value (package default, unless already configured)
// unchanged.
func (c *MmapCache) ConfigurePrefetch(enabled bool, predictionScale, prefetchDistance int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.predictiveEnabled = enabled
	if predictionScale > 0 {
		c.predictionScale = predictionScale
	}
	if prefetchDistance > 0 {
		c.prefetchDistance = prefetchDistance
	}
}

// ReadChunk reads (x,z) through the cache, falling back to the region's mmap
// view on a miss, and records the access for the prefetch predictor.
func (c *MmapCache) ReadChunk(ctx context.Context, x, z int) ([]byte, error) {
	idx := lrf.ChunkIndex(x, z)

	c.mu.Lock()
	if el, ok := c.entries[idx]; ok {
		c.lru.MoveToFront(el)
		payload := el.Value.(*mmapCacheEntry).payload
		c.recordAccessLocked(x, z)
		c.stats.Hits++
		c.mu.Unlock()
		c.schedulePrefetch(ctx)
		return payload, nil
	}
	c.recordAccessLocked(x, z)
	c.stats.Misses++
	c.mu.Unlock()

	payload, err := c.readThrough(x, z)
	if err != nil || payload == nil {
		return payload, err
	}
	c.admit(idx, payload, false)
	c.schedulePrefetch(ctx)
	return payload, nil
}

// IsCached reports whether (x,z) currently has a decoded payload resident in
// the cache, without affecting LRU order or performing a read. Used to
// observe whether a prefetch round actually admitted a chunk.
func (c *MmapCache) IsCached(x, z int) bool {
	idx := lrf.ChunkIndex(x, z)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[idx]
	return ok
}

// readThrough performs the raw mmap read and decode for one chunk, bypassing
// the cache entirely.
func (c *MmapCache) readThrough(x, z int) ([]byte, error) {
	header, err := c.region.Header()
	if err != nil {
		return nil, err
	}
	if !header.HasChunk(x, z) {
		return nil, nil
	}
	offset := header.GetOffset(x, z)
	slotSize := header.GetSize(x, z)
	if slotSize <= 0 || slotSize > lrf.MaxChunkBytes {
		return nil, nil
	}

	view, err := c.region.MmapView()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, slotSize)
	n, err := view.ReadAt(buf, offset)
	if err != nil && n < lrf.FrameHeaderSize {
		return nil, newErr(CodeIO, "mmap read chunk", err)
	}
	buf = buf[:n]

	frameLen, codec, err := lrf.ParseFrameHeader(buf, slotSize)
	if err != nil || frameLen > len(buf) {
		return nil, nil
	}
	payload, err := lrf.Decode(codec, buf[lrf.FrameHeaderSize:frameLen])
	if err != nil {
		return nil, nil
	}
	return payload, nil
}

// recordAccessLocked appends (x,z) to the sliding access-history window.
// Caller must hold c.mu.
func (c *MmapCache) recordAccessLocked(x, z int) {
	c.history = append(c.history, ChunkCoord{X: x, Z: z})
	if len(c.history) > accessHistoryLen {
		c.history = c.history[len(c.history)-accessHistoryLen:]
	}
}

// movementVector estimates the caller's direction of travel from the
// average delta between consecutive recent accesses.
func (c *MmapCache) movementVector() (dx, dz float64, ok bool) {
	c.mu.Lock()
	hist := append([]ChunkCoord(nil), c.history...)
	c.mu.Unlock()

	if len(hist) < 2 {
		return 0, 0, false
	}
	var sumDX, sumDZ float64
	for i := 1; i < len(hist); i++ {
		sumDX += float64(hist[i].X - hist[i-1].X)
		sumDZ += float64(hist[i].Z - hist[i-1].Z)
	}
	n := float64(len(hist) - 1)
	dx, dz = sumDX/n, sumDZ/n
	if dx == 0 && dz == 0 {
		return 0, 0, false
	}
	return dx, dz, true
}

// schedulePrefetch predicts a target cell predictionScale steps along the
// current movement vector and queues every chunk within prefetchDistance of
// it for background load, skipping the whole round if the cache is already
// past its soft threshold.
func (c *MmapCache) schedulePrefetch(ctx context.Context) {
	if c.prefetchPool == nil {
		return
	}
	c.mu.Lock()
	enabled := c.predictiveEnabled
	scale := c.predictionScale
	distance := c.prefetchDistance
	overSoft := float64(c.cacheBytes) > float64(c.maxBytes)*prefetchSoftThreshold
	last := ChunkCoord{}
	if len(c.history) > 0 {
		last = c.history[len(c.history)-1]
	}
	c.mu.Unlock()
	if !enabled || overSoft {
		return
	}

	dx, dz, ok := c.movementVector()
	if !ok {
		return
	}

	targetX := last.X + int(dx*float64(scale))
	targetZ := last.Z + int(dz*float64(scale))

	for x := targetX - distance; x <= targetX+distance; x++ {
		for z := targetZ - distance; z <= targetZ+distance; z++ {
			c.queuePrefetch(ctx, x, z)
		}
	}
}

func (c *MmapCache) queuePrefetch(ctx context.Context, x, z int) {
	idx := lrf.ChunkIndex(x, z)

	c.mu.Lock()
	_, cached := c.entries[idx]
	queued := c.inPrefetch[idx]
	if cached || queued {
		c.mu.Unlock()
		return
	}
	c.inPrefetch[idx] = true
	c.mu.Unlock()

	_ = c.prefetchPool.Go(ctx, func() {
		defer func() {
			c.mu.Lock()
			delete(c.inPrefetch, idx)
			c.mu.Unlock()
		}()
		payload, err := c.readThrough(x, z)
		if err != nil || payload == nil {
			return
		}
		c.admit(idx, payload, true)
	})
}

// admit inserts payload into the LRU, evicting until both the byte budget
// and entry cap are satisfied. Speculative (prefetched) admissions halve the
// effective byte budget so demand reads always have headroom under pressure.
func (c *MmapCache) admit(idx int, payload []byte, speculative bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[idx]; ok {
		return
	}

	budget := c.maxBytes
	if speculative {
		budget /= 2
	}

	size := int64(len(payload))
	if size > budget {
		return
	}

	for (c.cacheBytes+size > budget || len(c.entries) >= c.maxEntries) && c.lru.Len() > 0 {
		back := c.lru.Back()
		e := back.Value.(*mmapCacheEntry)
		c.lru.Remove(back)
		delete(c.entries, e.index)
		c.cacheBytes -= int64(len(e.payload))
	}

	el := c.lru.PushFront(&mmapCacheEntry{index: idx, payload: payload})
	c.entries[idx] = el
	c.cacheBytes += size
}

// CacheBytes returns the cache's current byte usage.
func (c *MmapCache) CacheBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cacheBytes
}

// Stats returns a snapshot of the cache's cumulative hit/miss statistics.
func (c *MmapCache) Stats() MmapCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.CacheBytes = c.cacheBytes
	return s
}

// Close discards every cached entry and in-flight prefetch marker. It does
// not touch the underlying region or its mmap view, which the SharedRegion
// owns and may still be serving other collaborators.
func (c *MmapCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru = list.New()
	c.entries = make(map[int]*list.Element)
	c.cacheBytes = 0
	c.inPrefetch = make(map[int]bool)
	return nil
}
