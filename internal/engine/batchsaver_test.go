package engine

import (
	"bytes"
	"testing"
	"time"

	"github.com/turbocraft/lrf/pkg/lrf"
)

func TestBatchSaverReadYourWrites(t *testing.T) {
	region := openTestRegion(t, lrf.CompressionZstd)
	w := NewWriter(region)
	saver := NewBatchSaver(w, 32, time.Hour, nil)
	t.Cleanup(func() { saver.Close() })

	payload := []byte("pending write")
	if err := saver.SaveChunk(4, 4, payload); err != nil {
		t.Fatalf("SaveChunk: %v", err)
	}

	if !saver.HasPendingChunk(4, 4) {
		t.Fatal("expected pending chunk before flush")
	}
	got, ok := saver.GetPendingChunk(4, 4)
	if !ok || !bytes.Equal(got, payload) {
		t.Fatalf("GetPendingChunk = %q, %v; want %q, true", got, ok, payload)
	}

	if err := saver.FlushBatch(); err != nil {
		t.Fatalf("FlushBatch: %v", err)
	}
	if saver.HasPendingChunk(4, 4) {
		t.Fatal("expected no pending chunk after flush")
	}

	r := NewReader(region, 0, 0)
	onDisk, err := r.ReadChunk(4, 4)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if !bytes.Equal(onDisk, payload) {
		t.Fatalf("on-disk payload = %q, want %q", onDisk, payload)
	}
}

func TestBatchSaverFlushesAtBatchSize(t *testing.T) {
	region := openTestRegion(t, lrf.CompressionNone)
	w := NewWriter(region)
	var hookCalls int
	saver := NewBatchSaver(w, 2, time.Hour, func(results []WriteResult) error {
		hookCalls++
		return nil
	})
	t.Cleanup(func() { saver.Close() })

	saver.SaveChunk(0, 0, []byte("a"))
	saver.SaveChunk(1, 0, []byte("b"))

	deadline := time.Now().Add(2 * time.Second)
	for saver.PendingCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if saver.PendingCount() != 0 {
		t.Fatalf("expected batch-size flush to clear pending map, got %d pending", saver.PendingCount())
	}
	if hookCalls == 0 {
		t.Fatal("expected post-flush hook to run")
	}
}

func TestBatchSaverFlushPreservesSubmissionOrder(t *testing.T) {
	region := openTestRegion(t, lrf.CompressionNone)
	w := NewWriter(region)
	saver := NewBatchSaver(w, 32, time.Hour, nil)
	t.Cleanup(func() { saver.Close() })

	// Submit C, A, B at distinct coordinates in a deliberately non-sorted
	// order; on-disk append order must follow submission order, not map
	// iteration order or coordinate order.
	if err := saver.SaveChunk(2, 0, []byte("c")); err != nil {
		t.Fatalf("SaveChunk C: %v", err)
	}
	if err := saver.SaveChunk(0, 0, []byte("a")); err != nil {
		t.Fatalf("SaveChunk A: %v", err)
	}
	if err := saver.SaveChunk(1, 0, []byte("b")); err != nil {
		t.Fatalf("SaveChunk B: %v", err)
	}

	if err := saver.FlushBatch(); err != nil {
		t.Fatalf("FlushBatch: %v", err)
	}

	header, err := region.Header()
	if err != nil {
		t.Fatalf("Header: %v", err)
	}
	offC := header.GetOffset(2, 0)
	offA := header.GetOffset(0, 0)
	offB := header.GetOffset(1, 0)
	if !(offC < offA && offA < offB) {
		t.Fatalf("expected append order C,A,B (offsets %d,%d,%d) to be strictly increasing", offC, offA, offB)
	}
}

func TestBatchSaverAutoFlushDelay(t *testing.T) {
	region := openTestRegion(t, lrf.CompressionNone)
	w := NewWriter(region)
	saver := NewBatchSaver(w, 32, 30*time.Millisecond, nil)
	t.Cleanup(func() { saver.Close() })

	saver.SaveChunk(7, 7, []byte("delayed"))

	deadline := time.Now().Add(2 * time.Second)
	for saver.PendingCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if saver.PendingCount() != 0 {
		t.Fatal("expected auto-flush timer to clear the pending entry")
	}
}
