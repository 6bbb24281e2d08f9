package engine

import (
	"container/list"
	"sync"

	"github.com/turbocraft/lrf/pkg/lrf"
)

// ReaderStats reports cumulative cache statistics for a Reader.
type ReaderStats struct {
	Hits       uint64
	Misses     uint64
	CacheBytes int64
}

// HitRate returns Hits/(Hits+Misses), or 0 if nothing has been requested yet.
func (s ReaderStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

type readerCacheEntry struct {
	index   int
	payload []byte
}

// Reader loads individual chunks from a region on demand, keeping recently
// read payloads in an LRU cache bounded by both entry count and byte budget.
// The cache shape mirrors the block-cache idiom sswastik02-go-qcow2lib's
// qcow2 driver uses for its L2/refcount caches: a container/list for
// recency plus a map for O(1) lookup.
type Reader struct {
	region *SharedRegion

	mu         sync.Mutex
	lru        *list.List // front = most recently used
	entries    map[int]*list.Element
	cacheBytes int64

	maxEntries int
	maxBytes   int64

	stats ReaderStats
}

// DefaultReaderCacheEntries and DefaultReaderCacheBytes are the spec's
// defaults (64 entries, 64 MiB).
const (
	DefaultReaderCacheEntries = 64
	DefaultReaderCacheBytes   = 64 * 1024 * 1024
)

// NewReader returns a Reader over region with the given cache limits. A
// limit of 0 falls back to the package default.
func NewReader(region *SharedRegion, maxEntries int, maxBytes int64) *Reader {
	if maxEntries <= 0 {
		maxEntries = DefaultReaderCacheEntries
	}
	if maxBytes <= 0 {
		maxBytes = DefaultReaderCacheBytes
	}
	return &Reader{
		region:     region,
		lru:        list.New(),
		entries:    make(map[int]*list.Element),
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
	}
}

// ReadChunk implements the six-step algorithm from the region reader spec:
// cache lookup, offset-table lookup, raw read, frame parse, decode, cache
// admission. A nil, nil result means the chunk is absent or malformed.
func (r *Reader) ReadChunk(x, z int) ([]byte, error) {
	idx := lrf.ChunkIndex(x, z)

	r.mu.Lock()
	if el, ok := r.entries[idx]; ok {
		r.lru.MoveToFront(el)
		payload := el.Value.(*readerCacheEntry).payload
		r.stats.Hits++
		r.mu.Unlock()
		return payload, nil
	}
	r.mu.Unlock()

	header, err := r.region.Header()
	if err != nil {
		return nil, err
	}
	if !header.HasChunk(x, z) {
		r.recordMiss()
		return nil, nil
	}
	offset := header.GetOffset(x, z)
	slotSize := header.GetSize(x, z)
	if slotSize <= 0 || slotSize > lrf.MaxChunkBytes {
		r.recordMiss()
		return nil, nil
	}

	buf := make([]byte, slotSize)
	var n int
	r.region.RLock()
	err = withIOBackoff(func() error {
		var rerr error
		n, rerr = r.region.File().ReadAt(buf, offset)
		return rerr
	})
	r.region.RUnlock()
	if err != nil && n < lrf.FrameHeaderSize {
		return nil, newErr(CodeIO, "read chunk", err)
	}
	buf = buf[:n]

	frameLen, codec, err := lrf.ParseFrameHeader(buf, slotSize)
	if err != nil {
		r.recordMiss()
		return nil, nil
	}
	if frameLen > len(buf) {
		r.recordMiss()
		return nil, nil
	}
	payload, err := lrf.Decode(codec, buf[lrf.FrameHeaderSize:frameLen])
	if err != nil {
		r.recordMiss()
		return nil, nil
	}

	r.admit(idx, payload)
	r.recordMiss()
	return payload, nil
}

func (r *Reader) recordMiss() {
	r.mu.Lock()
	r.stats.Misses++
	r.mu.Unlock()
}

// admit inserts a freshly decoded payload into the LRU cache, evicting the
// least-recently-used entries until the byte budget and entry cap allow it.
func (r *Reader) admit(idx int, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := int64(len(payload))
	if size > r.maxBytes {
		return // never admit a single entry larger than the whole budget
	}

	for (r.cacheBytes+size > r.maxBytes || len(r.entries) >= r.maxEntries) && r.lru.Len() > 0 {
		back := r.lru.Back()
		e := back.Value.(*readerCacheEntry)
		r.lru.Remove(back)
		delete(r.entries, e.index)
		r.cacheBytes -= int64(len(e.payload))
	}

	el := r.lru.PushFront(&readerCacheEntry{index: idx, payload: payload})
	r.entries[idx] = el
	r.cacheBytes += size
}

// HasChunk reports whether the region's header marks (x,z) as present,
// without reading the chunk payload.
func (r *Reader) HasChunk(x, z int) (bool, error) {
	header, err := r.region.Header()
	if err != nil {
		return false, err
	}
	return header.HasChunk(x, z), nil
}

// ReadAll returns every present chunk's payload, in header slot order.
func (r *Reader) ReadAll() ([][]byte, error) {
	header, err := r.region.Header()
	if err != nil {
		return nil, err
	}
	var out [][]byte
	var firstErr error
	header.ForEachChunk(func(x, z int) {
		payload, err := r.ReadChunk(x, z)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		if payload != nil {
			out = append(out, payload)
		}
	})
	return out, firstErr
}

// ChunkCoord addresses one chunk's local coordinates within a region.
type ChunkCoord struct{ X, Z int }

// ReadBatch reads each coordinate in coords, returning a same-length slice of
// payloads (nil where absent) and a same-length slice of per-entry errors.
func (r *Reader) ReadBatch(coords []ChunkCoord) ([][]byte, []error) {
	payloads := make([][]byte, len(coords))
	errs := make([]error, len(coords))
	for i, c := range coords {
		payloads[i], errs[i] = r.ReadChunk(c.X, c.Z)
	}
	return payloads, errs
}

// Stats returns a snapshot of the reader's cumulative cache statistics.
func (r *Reader) Stats() ReaderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.CacheBytes = r.cacheBytes
	return s
}
