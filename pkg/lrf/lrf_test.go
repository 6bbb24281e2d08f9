package lrf

import "testing"

func TestChunkIndex(t *testing.T) {
	if got := ChunkIndex(0, 0); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if got := ChunkIndex(31, 31); got != 1023 {
		t.Fatalf("expected 1023, got %d", got)
	}
	// Coordinates outside 0..31 wrap modulo 32.
	if got, want := ChunkIndex(32, 0), ChunkIndex(0, 0); got != want {
		t.Fatalf("expected wraparound: got %d, want %d", got, want)
	}
	if got, want := ChunkIndex(-1, 0), ChunkIndex(31, 0); got != want {
		t.Fatalf("expected negative wraparound: got %d, want %d", got, want)
	}
}

func TestPackUnpackEntry(t *testing.T) {
	entry := PackEntry(12345, 7)
	off, size := UnpackEntry(entry)
	if off != 12345 || size != 7 {
		t.Fatalf("round-trip mismatch: off=%d size=%d", off, size)
	}
}

func TestSectorsForLength(t *testing.T) {
	cases := map[int]uint32{0: 0, 1: 1, SizeUnit: 1, SizeUnit + 1: 2, SizeUnit * 3: 3}
	for in, want := range cases {
		if got := SectorsForLength(in); got != want {
			t.Fatalf("SectorsForLength(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestAlignUp256(t *testing.T) {
	cases := map[int64]int64{0: 0, 1: 256, 255: 256, 256: 256, 257: 512}
	for in, want := range cases {
		if got := AlignUp256(in); got != want {
			t.Fatalf("AlignUp256(%d) = %d, want %d", in, got, want)
		}
	}
}
