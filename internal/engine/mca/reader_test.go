package mca

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

// writeTestRegion builds a minimal .mca file with one zlib-compressed chunk
// at (x,z), matching the format go-theft-craft-server's anvil writer
// produces.
func writeTestRegion(t *testing.T, x, z int, nbt []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "r.0.0.mca")

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(nbt); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}

	locations := make([]byte, sectorSize)
	idx := x + z*chunksPerSide
	const startSector = headerSectors
	payloadLen := uint32(compressed.Len()) + 1
	totalLen := 4 + payloadLen
	sectorCount := (totalLen + sectorSize - 1) / sectorSize
	binary.BigEndian.PutUint32(locations[idx*4:idx*4+4], (uint32(startSector)<<8)|(sectorCount&0xFF))

	var body bytes.Buffer
	var hdr [5]byte
	binary.BigEndian.PutUint32(hdr[0:4], payloadLen)
	hdr[4] = compressionZlib
	body.Write(hdr[:])
	body.Write(compressed.Bytes())
	if pad := int(sectorCount)*sectorSize - int(totalLen); pad > 0 {
		body.Write(make([]byte, pad))
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if _, err := f.Write(locations); err != nil {
		t.Fatalf("write locations: %v", err)
	}
	if _, err := f.Write(make([]byte, sectorSize)); err != nil { // timestamps
		t.Fatalf("write timestamps: %v", err)
	}
	if _, err := f.Write(body.Bytes()); err != nil {
		t.Fatalf("write body: %v", err)
	}
	return path
}

func TestReadChunkZlib(t *testing.T) {
	nbt := bytes.Repeat([]byte("legacy-nbt-payload"), 40)
	path := writeTestRegion(t, 3, 4, nbt)

	region, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer region.Close()

	got, err := region.ReadChunk(3, 4)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if !bytes.Equal(got, nbt) {
		t.Fatalf("got %d bytes, want %d", len(got), len(nbt))
	}
}

func TestReadChunkAbsent(t *testing.T) {
	path := writeTestRegion(t, 0, 0, []byte("present"))
	region, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer region.Close()

	got, err := region.ReadChunk(5, 5)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for absent chunk, got %v", got)
	}
}

func TestChunkPositions(t *testing.T) {
	path := writeTestRegion(t, 2, 1, []byte("data"))
	region, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer region.Close()

	positions, err := region.ChunkPositions()
	if err != nil {
		t.Fatalf("ChunkPositions: %v", err)
	}
	if len(positions) != 1 || positions[0] != (ChunkPos{X: 2, Z: 1}) {
		t.Fatalf("positions = %v, want [{2 1}]", positions)
	}
}
