package engine

import (
	"context"
	"sync"

	"github.com/turbocraft/lrf/pkg/lrf"
)

// DefaultBatchSize and DefaultMaxOutstandingLoads are the batch loader's
// window size and per-region backpressure limit.
const (
	DefaultBatchSize           = 32
	DefaultMaxOutstandingLoads = 64
)

// BatchLoader coalesces concurrent loads for the same chunk into a single
// disk read: two callers requesting (x,z) while a load is already in flight
// both observe the same Future rather than issuing a second ReadAt. Actual
// decoding runs on a shared decompress Pool so a slow zstd frame cannot
// monopolize the loader's own goroutine.
type BatchLoader struct {
	reader         *Reader
	decompressPool *Pool

	mu             sync.Mutex
	inflight       map[int]*Future[[]byte]
	outstanding    int
	maxOutstanding int
	waiters        []chan struct{}

	batchSize int
}

// NewBatchLoader returns a BatchLoader reading through reader, running
// decode work on decompressPool. batchSize and maxOutstanding of 0 fall back
// to package defaults.
func NewBatchLoader(reader *Reader, decompressPool *Pool, batchSize, maxOutstanding int) *BatchLoader {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxOutstanding <= 0 {
		maxOutstanding = DefaultMaxOutstandingLoads
	}
	return &BatchLoader{
		reader:         reader,
		decompressPool: decompressPool,
		inflight:       make(map[int]*Future[[]byte]),
		maxOutstanding: maxOutstanding,
		batchSize:      batchSize,
	}
}

// Load returns a Future resolving to the chunk's payload (nil if absent).
// Concurrent calls for the same coordinate share one underlying read.
func (b *BatchLoader) Load(ctx context.Context, x, z int) (*Future[[]byte], error) {
	idx := lrf.ChunkIndex(x, z)

	b.mu.Lock()
	for {
		if fut, ok := b.inflight[idx]; ok {
			b.mu.Unlock()
			return fut, nil
		}
		if b.outstanding < b.maxOutstanding {
			break
		}
		wait := make(chan struct{})
		b.waiters = append(b.waiters, wait)
		b.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ErrCancelled
		}
		b.mu.Lock()
	}

	fut := NewFuture[[]byte]()
	b.inflight[idx] = fut
	b.outstanding++
	b.mu.Unlock()

	err := b.decompressPool.Go(ctx, func() {
		payload, err := b.reader.ReadChunk(x, z)
		b.complete(idx, payload, err)
	})
	if err != nil {
		b.complete(idx, nil, err)
		return fut, err
	}
	return fut, nil
}

// LoadBatch submits coords in windows of up to batchSize coordinates,
// waiting for each window before submitting the next, and returns payloads
// and per-entry errors in the same order as coords.
func (b *BatchLoader) LoadBatch(ctx context.Context, coords []ChunkCoord) ([][]byte, []error) {
	payloads := make([][]byte, len(coords))
	errs := make([]error, len(coords))
	for start := 0; start < len(coords); start += b.batchSize {
		end := start + b.batchSize
		if end > len(coords) {
			end = len(coords)
		}
		futures := make([]*Future[[]byte], end-start)
		for i := start; i < end; i++ {
			futures[i-start], errs[i] = b.Load(ctx, coords[i].X, coords[i].Z)
		}
		for j, fut := range futures {
			if fut == nil {
				continue
			}
			payloads[start+j], errs[start+j] = fut.Wait(ctx)
		}
	}
	return payloads, errs
}

func (b *BatchLoader) complete(idx int, payload []byte, err error) {
	b.mu.Lock()
	fut := b.inflight[idx]
	delete(b.inflight, idx)
	b.outstanding--
	var wake chan struct{}
	if len(b.waiters) > 0 {
		wake = b.waiters[0]
		b.waiters = b.waiters[1:]
	}
	b.mu.Unlock()

	if fut != nil {
		fut.complete(payload, err)
	}
	if wake != nil {
		close(wake)
	}
}

// Outstanding returns the current number of in-flight (uncoalesced) loads.
func (b *BatchLoader) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outstanding
}
