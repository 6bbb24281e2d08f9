package lrf

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestCodecRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{},
		{0x10, 0x20, 0x30},
		bytes.Repeat([]byte{0xAB}, 4096),
	}
	randPayload := make([]byte, 8192)
	if _, err := rand.Read(randPayload); err != nil {
		t.Fatal(err)
	}
	payloads = append(payloads, randPayload)

	for _, id := range []CompressionID{CompressionNone, CompressionZlib, CompressionLZ4, CompressionZstd} {
		for _, p := range payloads {
			encoded, err := Encode(id, p)
			if err != nil {
				t.Fatalf("codec %s: encode failed: %v", id, err)
			}
			decoded, err := Decode(id, encoded)
			if err != nil {
				t.Fatalf("codec %s: decode failed: %v", id, err)
			}
			if !bytes.Equal(decoded, p) {
				t.Fatalf("codec %s: round-trip mismatch: got %d bytes, want %d bytes", id, len(decoded), len(p))
			}
		}
	}
}

func TestUnsupportedCodec(t *testing.T) {
	if _, err := Encode(CompressionID(99), []byte("x")); err == nil {
		t.Fatal("expected error for unsupported codec")
	}
	if _, err := Decode(CompressionID(99), []byte("x")); err == nil {
		t.Fatal("expected error for unsupported codec")
	}
}

func TestEncodeWithFallback(t *testing.T) {
	data := []byte("hello region")
	encoded, used := EncodeWithFallback(CompressionID(99), data)
	if used != CompressionNone {
		t.Fatalf("expected fallback to identity, got %s", used)
	}
	if !bytes.Equal(encoded, data) {
		t.Fatalf("identity fallback must return original bytes unchanged")
	}
}
