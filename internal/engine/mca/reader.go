// Package mca reads the legacy Anvil region format (.mca) well enough to
// migrate its chunk payloads into the linear region format. It only reads:
// there is no writer, because nothing in this engine produces .mca files.
package mca

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

const (
	sectorSize    = 4096
	headerSectors = 2
	chunksPerSide = 32

	compressionGzip = 1
	compressionZlib = 2
	compressionNone = 3
)

// ChunkPos is a chunk's local position within its region (0..31 on each
// axis).
type ChunkPos struct {
	X, Z int
}

// Region is an opened .mca file ready for random-access chunk reads.
type Region struct {
	f *os.File
}

// Open opens path for reading. The caller must call Close.
func Open(path string) (*Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mca: open region: %w", err)
	}
	return &Region{f: f}, nil
}

func (r *Region) Close() error { return r.f.Close() }

// ReadChunk returns the decompressed NBT payload for local coordinates x,z,
// or nil, nil if the chunk is not present in the file.
func (r *Region) ReadChunk(x, z int) ([]byte, error) {
	if x < 0 || x >= chunksPerSide || z < 0 || z >= chunksPerSide {
		return nil, fmt.Errorf("mca: coordinate (%d,%d) out of range", x, z)
	}

	locTable := make([]byte, sectorSize)
	if _, err := r.f.ReadAt(locTable, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("mca: read location table: %w", err)
	}

	idx := x + z*chunksPerSide
	entry := binary.BigEndian.Uint32(locTable[idx*4 : idx*4+4])
	if entry == 0 {
		return nil, nil
	}
	sectorOffset := entry >> 8
	sectorCount := entry & 0xFF
	if sectorCount == 0 {
		return nil, nil
	}

	offset := int64(sectorOffset) * sectorSize
	buf := make([]byte, int64(sectorCount)*sectorSize)
	n, err := r.f.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("mca: read chunk sectors: %w", err)
	}
	buf = buf[:n]
	if len(buf) < 5 {
		return nil, fmt.Errorf("mca: chunk (%d,%d) truncated", x, z)
	}

	length := binary.BigEndian.Uint32(buf[0:4])
	if int(length) < 1 || int(length)+4 > len(buf) {
		return nil, fmt.Errorf("mca: chunk (%d,%d) invalid length %d", x, z, length)
	}
	compression := buf[4]
	payload := buf[5 : 4+length]

	switch compression {
	case compressionGzip:
		gr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("mca: gzip reader: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	case compressionZlib:
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("mca: zlib reader: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case compressionNone:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	default:
		return nil, fmt.Errorf("mca: chunk (%d,%d) unknown compression type %d", x, z, compression)
	}
}

// ChunkPositions returns every (x,z) the location table marks present,
// without reading any payload.
func (r *Region) ChunkPositions() ([]ChunkPos, error) {
	locTable := make([]byte, sectorSize)
	if _, err := r.f.ReadAt(locTable, 0); err != nil && err != io.EOF {
		return nil, fmt.Errorf("mca: read location table: %w", err)
	}

	var positions []ChunkPos
	for z := 0; z < chunksPerSide; z++ {
		for x := 0; x < chunksPerSide; x++ {
			idx := x + z*chunksPerSide
			entry := binary.BigEndian.Uint32(locTable[idx*4 : idx*4+4])
			if entry != 0 {
				positions = append(positions, ChunkPos{X: x, Z: z})
			}
		}
	}
	return positions, nil
}
