package engine

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/turbocraft/lrf/pkg/lrf"
)

func TestBatchLoaderCoalescesConcurrentLoads(t *testing.T) {
	region := openTestRegion(t, lrf.CompressionNone)
	w := NewWriter(region)
	payload := []byte("coalesced read")
	if _, err := w.WriteChunk(9, 9, payload); err != nil {
		t.Fatalf("WriteChunk: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reader := NewReader(region, 0, 0)
	pool := NewPool("decompress", 4)
	loader := NewBatchLoader(reader, pool, 0, 0)

	ctx := context.Background()
	var wg sync.WaitGroup
	futures := make([]*Future[[]byte], 8)
	var mu sync.Mutex
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fut, err := loader.Load(ctx, 9, 9)
			if err != nil {
				t.Errorf("Load: %v", err)
				return
			}
			mu.Lock()
			futures[i] = fut
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	first := futures[0]
	for i, fut := range futures {
		if fut != first {
			t.Fatalf("future %d did not coalesce with future 0", i)
		}
	}

	got, err := first.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload = %q, want %q", got, payload)
	}
}

func TestBatchLoaderLoadBatchOrder(t *testing.T) {
	region := openTestRegion(t, lrf.CompressionNone)
	w := NewWriter(region)
	coords := []ChunkCoord{{X: 0, Z: 0}, {X: 1, Z: 0}, {X: 2, Z: 0}}
	for i, c := range coords {
		if _, err := w.WriteChunk(c.X, c.Z, []byte{byte(i)}); err != nil {
			t.Fatalf("WriteChunk: %v", err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	reader := NewReader(region, 0, 0)
	pool := NewPool("decompress", 4)
	loader := NewBatchLoader(reader, pool, 0, 0)

	payloads, errs := loader.LoadBatch(context.Background(), coords)
	for i := range coords {
		if errs[i] != nil {
			t.Fatalf("entry %d: %v", i, errs[i])
		}
		if len(payloads[i]) != 1 || payloads[i][0] != byte(i) {
			t.Fatalf("entry %d = %v, want [%d]", i, payloads[i], i)
		}
	}
}
