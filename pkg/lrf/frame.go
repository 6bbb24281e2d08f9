package lrf

import (
	"encoding/binary"
	"fmt"
)

// FrameHeaderSize is the number of bytes preceding the encoded payload in a
// chunk frame: a 4-byte big-endian total length, then a 1-byte codec id.
const FrameHeaderSize = 5

// BuildFrame assembles the on-disk frame for an already-encoded payload:
// length (4B BE, includes itself) | codec id (1B) | payload.
func BuildFrame(codec CompressionID, encoded []byte) []byte {
	frameLen := FrameHeaderSize + len(encoded)
	out := make([]byte, frameLen)
	binary.BigEndian.PutUint32(out[0:4], uint32(frameLen))
	out[4] = byte(codec)
	copy(out[FrameHeaderSize:], encoded)
	return out
}

// ParseFrameHeader reads the 4-byte length and 1-byte codec id from the start
// of a frame buffer and validates them against the slot's recorded size.
func ParseFrameHeader(buf []byte, slotSize int) (frameLen int, codec CompressionID, err error) {
	if len(buf) < FrameHeaderSize {
		return 0, 0, ErrFrameTooShort
	}
	l := binary.BigEndian.Uint32(buf[0:4])
	if l < FrameHeaderSize || int(l) > slotSize || int(l) > MaxChunkBytes {
		return 0, 0, fmt.Errorf("%w: L=%d slotSize=%d", ErrFrameLengthOutOfRange, l, slotSize)
	}
	return int(l), CompressionID(buf[4]), nil
}

// DecodeFrame parses and decompresses a full frame buffer (exactly frameLen
// bytes, as returned by ParseFrameHeader) into the original chunk payload.
func DecodeFrame(buf []byte) ([]byte, error) {
	frameLen, codec, err := ParseFrameHeader(buf, len(buf))
	if err != nil {
		return nil, err
	}
	if frameLen != len(buf) {
		return nil, fmt.Errorf("%w: frame length %d != buffer length %d", ErrFrameTooShort, frameLen, len(buf))
	}
	return Decode(codec, buf[FrameHeaderSize:frameLen])
}
