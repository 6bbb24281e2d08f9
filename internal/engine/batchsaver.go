package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/turbocraft/lrf/pkg/lrf"
)

// pendingEntry is one chunk buffered in a BatchSaver, awaiting flush. seq
// records submission order so FlushBatch can replay writes in the order
// SaveChunk received them, independent of map iteration order.
type pendingEntry struct {
	x, z    int
	payload []byte
	seq     uint64
}

// PostFlushHook runs once per flushed batch, after the entries have left the
// pending map but with the batch's WriteResults in hand — the integrity
// validator's checksum update and the shared region's header-cache
// invalidation both hook in here.
type PostFlushHook func(results []WriteResult) error

// BatchSaver buffers chunk writes and flushes them together, trading
// immediate durability for fewer header rewrites. It upholds read-your-writes:
// a chunk just handed to SaveChunk is visible to GetPendingChunk until the
// instant its flush completes, and is only removed from the pending map after
// the write succeeds — never before.
type BatchSaver struct {
	writer *Writer

	mu      sync.Mutex
	pending map[int]*pendingEntry
	closed  bool

	timer      *time.Timer
	flushDelay time.Duration
	batchSize  int
	nextSeq    uint64

	postFlush PostFlushHook

	flushErr error
	flushMu  sync.Mutex
}

// DefaultFlushDelay is the auto-flush window: a batch with at least one
// pending chunk is flushed no later than this long after its first entry.
const DefaultFlushDelay = 500 * time.Millisecond

// NewBatchSaver returns a BatchSaver writing through writer. batchSize of 0
// falls back to DefaultBatchSize; flushDelay of 0 falls back to
// DefaultFlushDelay.
func NewBatchSaver(writer *Writer, batchSize int, flushDelay time.Duration, hook PostFlushHook) *BatchSaver {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushDelay <= 0 {
		flushDelay = DefaultFlushDelay
	}
	return &BatchSaver{
		writer:     writer,
		pending:    make(map[int]*pendingEntry),
		flushDelay: flushDelay,
		batchSize:  batchSize,
		postFlush:  hook,
	}
}

// SaveChunk buffers a defensive copy of payload for (x,z). It triggers an
// immediate async flush once the batch reaches its size threshold, and
// otherwise arms (or leaves armed) the auto-flush timer.
func (s *BatchSaver) SaveChunk(x, z int, payload []byte) error {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	idx := lrf.ChunkIndex(x, z)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	s.pending[idx] = &pendingEntry{x: x, z: z, payload: cp, seq: s.nextSeq}
	s.nextSeq++
	full := len(s.pending) >= s.batchSize
	if s.timer == nil {
		s.timer = time.AfterFunc(s.flushDelay, func() { s.FlushBatch() })
	}
	s.mu.Unlock()

	if full {
		go s.FlushBatch()
	}
	return nil
}

// HasPendingChunk reports whether (x,z) currently has an unflushed write.
func (s *BatchSaver) HasPendingChunk(x, z int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[lrf.ChunkIndex(x, z)]
	return ok
}

// GetPendingChunk returns the buffered payload for (x,z), if any.
func (s *BatchSaver) GetPendingChunk(x, z int) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[lrf.ChunkIndex(x, z)]
	if !ok {
		return nil, false
	}
	return e.payload, true
}

// FlushBatch writes every currently pending entry, then removes each entry
// from the pending map only after its write succeeds, and finally invokes
// the post-flush hook once for the whole batch.
func (s *BatchSaver) FlushBatch() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return nil
	}
	type ordered struct {
		idx int
		e   *pendingEntry
	}
	batch := make([]ordered, 0, len(s.pending))
	for idx, e := range s.pending {
		batch = append(batch, ordered{idx: idx, e: e})
	}
	s.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool { return batch[i].e.seq < batch[j].e.seq })

	entries := make([]WriteEntry, 0, len(batch))
	indices := make([]int, 0, len(batch))
	for _, b := range batch {
		entries = append(entries, WriteEntry{X: b.e.x, Z: b.e.z, Payload: b.e.payload})
		indices = append(indices, b.idx)
	}

	results, err := s.writer.WriteBatch(entries)

	s.mu.Lock()
	for i, idx := range indices {
		// A SaveChunk for the same coordinate during the flush replaced the
		// entry; that newer write stays pending for the next flush.
		if i < len(results) && results[i].Err == nil && s.pending[idx] == batch[i].e {
			delete(s.pending, idx)
		}
	}
	s.mu.Unlock()

	if s.postFlush != nil {
		if hookErr := s.postFlush(results); hookErr != nil && err == nil {
			err = hookErr
		}
	}

	s.flushMu.Lock()
	s.flushErr = err
	s.flushMu.Unlock()
	return err
}

// Close flushes any remaining pending entries and stops the auto-flush timer.
func (s *BatchSaver) Close() error {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.FlushBatch()
}

// PendingCount returns the number of chunks currently buffered.
func (s *BatchSaver) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
