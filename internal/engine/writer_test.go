package engine

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/turbocraft/lrf/pkg/lrf"
)

func openTestRegion(t *testing.T, codec lrf.CompressionID) *SharedRegion {
	t.Helper()
	path := filepath.Join(t.TempDir(), "r.0.0.lrf")
	region, err := OpenSharedRegion(path, codec)
	if err != nil {
		t.Fatalf("OpenSharedRegion: %v", err)
	}
	t.Cleanup(func() { region.Release() })
	return region
}

func TestWriterWriteAndReadBack(t *testing.T) {
	region := openTestRegion(t, lrf.CompressionLZ4)
	w := NewWriter(region)
	r := NewReader(region, 0, 0)

	payload := bytes.Repeat([]byte("region-payload"), 200)
	if _, err := w.WriteChunk(3, 5, payload); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got, err := r.ReadChunk(3, 5)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestWriterAppendOffsetsAreSectorAligned(t *testing.T) {
	region := openTestRegion(t, lrf.CompressionNone)
	w := NewWriter(region)

	var offsets []int64
	for i := 0; i < 3; i++ {
		res, err := w.WriteChunk(i, 0, []byte{byte(i), byte(i + 1)})
		if err != nil {
			t.Fatalf("WriteChunk %d: %v", i, err)
		}
		offsets = append(offsets, res.Offset)
	}
	for _, off := range offsets {
		if off%lrf.SectorSize != 0 {
			t.Fatalf("offset %d is not sector aligned", off)
		}
	}
}

func TestWriterBatchFIFOAndFlush(t *testing.T) {
	region := openTestRegion(t, lrf.CompressionZlib)
	w := NewWriter(region)
	r := NewReader(region, 0, 0)

	entries := []WriteEntry{
		{X: 0, Z: 0, Payload: []byte("first")},
		{X: 1, Z: 0, Payload: []byte("second")},
		{X: 2, Z: 0, Payload: []byte("third")},
	}
	results, err := w.WriteBatch(entries)
	if err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if len(results) != len(entries) {
		t.Fatalf("got %d results, want %d", len(results), len(entries))
	}
	for i, res := range results {
		if res.Err != nil {
			t.Fatalf("entry %d failed: %v", i, res.Err)
		}
	}
	// FIFO: offsets strictly increase with submission order.
	for i := 1; i < len(results); i++ {
		if results[i].Offset <= results[i-1].Offset {
			t.Fatalf("entry %d offset %d did not increase from %d", i, results[i].Offset, results[i-1].Offset)
		}
	}

	for _, e := range entries {
		got, err := r.ReadChunk(e.X, e.Z)
		if err != nil {
			t.Fatalf("ReadChunk(%d,%d): %v", e.X, e.Z, err)
		}
		if !bytes.Equal(got, e.Payload) {
			t.Fatalf("ReadChunk(%d,%d) = %q, want %q", e.X, e.Z, got, e.Payload)
		}
	}
}

func TestWriterFrameLengthOutOfRangeLeavesRegionUnmodified(t *testing.T) {
	region := openTestRegion(t, lrf.CompressionNone)
	w := NewWriter(region)

	huge := make([]byte, lrf.MaxChunkBytes+1024)
	before, err := region.File().Stat()
	if err != nil {
		t.Fatalf("stat: %v", err)
	}

	_, err = w.WriteChunk(0, 0, huge)
	if err == nil {
		t.Fatal("expected error for oversized chunk")
	}

	after, err := region.File().Stat()
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if before.Size() != after.Size() {
		t.Fatalf("region size changed: %d -> %d", before.Size(), after.Size())
	}
}
