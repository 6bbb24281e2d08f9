package lrf

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// Header is the in-memory mirror of an LRF region's fixed 8192-byte prefix:
// magic, version, chunk count, default compression id, and the 1024-entry
// offset table. A single slot is one atomic 32-bit word; reading or writing
// one slot never needs the caller to take a lock.
type Header struct {
	Version           uint32
	DefaultCompression CompressionID

	slots [ChunksPerRegion]atomic.Uint32 // packed (offsetSectors<<8)|sizeSectors; 0 == absent
}

// NewHeader returns an empty header for a freshly created region.
func NewHeader(defaultCompression CompressionID) *Header {
	return &Header{Version: Version, DefaultCompression: defaultCompression}
}

// Read parses a HeaderSize-byte buffer into h, validating the magic and
// version. buf must be at least HeaderSize bytes.
func (h *Header) Read(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("lrf: header buffer too small: %d", len(buf))
	}
	if string(buf[magicOffset:magicOffset+len(Magic)]) != Magic {
		return ErrInvalidMagic
	}
	version := binary.LittleEndian.Uint32(buf[versionOffset : versionOffset+4])
	if version == 0 || version > Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	chunkCount := binary.LittleEndian.Uint32(buf[chunkCountOffset : chunkCountOffset+4])
	if chunkCount > ChunksPerRegion {
		return fmt.Errorf("%w: %d", ErrInvalidChunkCount, chunkCount)
	}
	h.Version = version
	h.DefaultCompression = CompressionID(binary.LittleEndian.Uint32(buf[defaultCodecOffset : defaultCodecOffset+4]))

	for i := 0; i < ChunksPerRegion; i++ {
		off := offsetTableOffset + i*4
		h.slots[i].Store(binary.LittleEndian.Uint32(buf[off : off+4]))
	}
	return nil
}

// Write serializes h into a HeaderSize-byte buffer, which must already be
// allocated by the caller. The padding bytes [4117:8192) are zeroed.
func (h *Header) Write(buf []byte) error {
	if len(buf) < HeaderSize {
		return fmt.Errorf("lrf: header buffer too small: %d", len(buf))
	}
	copy(buf[magicOffset:], Magic)
	binary.LittleEndian.PutUint32(buf[versionOffset:], h.Version)
	binary.LittleEndian.PutUint32(buf[chunkCountOffset:], uint32(h.ChunkCount()))
	binary.LittleEndian.PutUint32(buf[defaultCodecOffset:], uint32(h.DefaultCompression))
	for i := 0; i < ChunksPerRegion; i++ {
		off := offsetTableOffset + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], h.slots[i].Load())
	}
	for i := offsetTableOffset + offsetTableBytes; i < HeaderSize; i++ {
		buf[i] = 0
	}
	return nil
}

// WriteSlot serializes only the 4-byte slot for chunk (x,z) at its header
// offset — the "granular on-disk header update" of the streaming writer.
func (h *Header) WriteSlot(buf []byte, x, z int) error {
	idx := ChunkIndex(x, z)
	off := offsetTableOffset + idx*4
	if len(buf) < off+4 {
		return fmt.Errorf("lrf: slot buffer too small")
	}
	binary.LittleEndian.PutUint32(buf[off:off+4], h.slots[idx].Load())
	return nil
}

// SlotByteOffset returns the absolute file offset of chunk (x,z)'s 4-byte
// offset-table entry, for granular header patches.
func SlotByteOffset(x, z int) int64 {
	return int64(offsetTableOffset + ChunkIndex(x, z)*4)
}

// HasChunk reports whether a chunk is present at (x,z).
func (h *Header) HasChunk(x, z int) bool {
	_, size := UnpackEntry(h.slots[ChunkIndex(x, z)].Load())
	return size > 0
}

// GetOffset returns the file offset of chunk (x,z), or 0 if absent.
func (h *Header) GetOffset(x, z int) int64 {
	offSectors, _ := UnpackEntry(h.slots[ChunkIndex(x, z)].Load())
	return int64(offSectors) * SectorSize
}

// GetSize returns the frame length of chunk (x,z) in bytes (not sectors), or
// 0 if absent. Since the table only records a sector count, the exact byte
// length is recovered by the caller from the frame's own 4-byte length
// prefix; GetSize reports the sector-rounded upper bound.
func (h *Header) GetSize(x, z int) int {
	_, sizeSectors := UnpackEntry(h.slots[ChunkIndex(x, z)].Load())
	return int(sizeSectors) * SizeUnit
}

// SetChunkData records the location of chunk (x,z): offset in bytes,
// frameLength in bytes. Setting frameLength to 0 clears existence.
func (h *Header) SetChunkData(x, z int, offset int64, frameLength int) error {
	if frameLength == 0 {
		h.slots[ChunkIndex(x, z)].Store(0)
		return nil
	}
	if frameLength > MaxChunkBytes {
		return ErrFrameLengthOutOfRange
	}
	if offset%SectorSize != 0 {
		return fmt.Errorf("lrf: offset %d not sector-aligned", offset)
	}
	offsetSectors := uint32(offset / SectorSize)
	sizeSectors := SectorsForLength(frameLength)
	if sizeSectors > MaxSizeSectors {
		return ErrFrameLengthOutOfRange
	}
	h.slots[ChunkIndex(x, z)].Store(PackEntry(offsetSectors, sizeSectors))
	return nil
}

// ChunkCount returns the number of slots currently marked present. This is
// informational only — the authoritative existence check is per-slot size.
func (h *Header) ChunkCount() int {
	n := 0
	for i := range h.slots {
		if _, size := UnpackEntry(h.slots[i].Load()); size > 0 {
			n++
		}
	}
	return n
}

// ForEachChunk invokes fn for every present chunk's local (x,z) coordinates.
func (h *Header) ForEachChunk(fn func(x, z int)) {
	for i := 0; i < ChunksPerRegion; i++ {
		if _, size := UnpackEntry(h.slots[i].Load()); size > 0 {
			fn(i&(RegionWidth-1), i>>5)
		}
	}
}
