package lrf

import (
	"bytes"
	"testing"
)

func TestBuildParseFrame(t *testing.T) {
	payload := []byte{0x10, 0x20, 0x30}
	encoded, used := EncodeWithFallback(CompressionLZ4, payload)
	frame := BuildFrame(used, encoded)

	frameLen, codec, err := ParseFrameHeader(frame, len(frame))
	if err != nil {
		t.Fatal(err)
	}
	if frameLen != len(frame) {
		t.Fatalf("frameLen = %d, want %d", frameLen, len(frame))
	}
	if codec != CompressionLZ4 {
		t.Fatalf("codec = %v, want lz4", codec)
	}

	decoded, err := DecodeFrame(frame)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatalf("decoded = %v, want %v", decoded, payload)
	}
}

func TestParseFrameHeaderTooShort(t *testing.T) {
	if _, _, err := ParseFrameHeader([]byte{1, 2, 3}, 100); err != ErrFrameTooShort {
		t.Fatalf("expected ErrFrameTooShort, got %v", err)
	}
}

func TestParseFrameHeaderOutOfRange(t *testing.T) {
	buf := make([]byte, 5)
	// Claim a length far larger than the slot size.
	buf[0], buf[1], buf[2], buf[3] = 0, 0, 0, 200
	if _, _, err := ParseFrameHeader(buf, 10); err == nil {
		t.Fatal("expected frame length out of range error")
	}
}
