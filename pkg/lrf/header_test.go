package lrf

import "testing"

func TestHeaderEmptyRoundTrip(t *testing.T) {
	h := NewHeader(CompressionZlib)
	buf := make([]byte, HeaderSize)
	if err := h.Write(buf); err != nil {
		t.Fatal(err)
	}
	if string(buf[:len(Magic)]) != Magic {
		t.Fatalf("magic prefix mismatch: %q", buf[:len(Magic)])
	}
	for i := offsetTableOffset; i < offsetTableOffset+offsetTableBytes; i++ {
		if buf[i] != 0 {
			t.Fatalf("expected zeroed offset table, found nonzero byte at %d", i)
		}
	}

	var h2 Header
	if err := h2.Read(buf); err != nil {
		t.Fatal(err)
	}
	if h2.DefaultCompression != CompressionZlib {
		t.Fatalf("default compression mismatch: %v", h2.DefaultCompression)
	}
	if h2.ChunkCount() != 0 {
		t.Fatalf("expected 0 chunks, got %d", h2.ChunkCount())
	}
}

func TestHeaderSetGetChunkData(t *testing.T) {
	h := NewHeader(CompressionNone)
	if err := h.SetChunkData(5, 7, 8192, 300); err != nil {
		t.Fatal(err)
	}
	if !h.HasChunk(5, 7) {
		t.Fatal("expected chunk present")
	}
	if got := h.GetOffset(5, 7); got != 8192 {
		t.Fatalf("offset = %d, want 8192", got)
	}
	if got := h.GetSize(5, 7); got != SizeUnit {
		t.Fatalf("size = %d, want %d (rounded to one sector)", got, SizeUnit)
	}

	if err := h.SetChunkData(5, 7, 0, 0); err != nil {
		t.Fatal(err)
	}
	if h.HasChunk(5, 7) {
		t.Fatal("expected chunk cleared by size=0")
	}
}

func TestHeaderInvalidMagic(t *testing.T) {
	buf := make([]byte, HeaderSize)
	copy(buf, "NOT_A_REG")
	var h Header
	if err := h.Read(buf); err != ErrInvalidMagic {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestHeaderFrameLengthOutOfRange(t *testing.T) {
	h := NewHeader(CompressionNone)
	if err := h.SetChunkData(0, 0, 8192, MaxChunkBytes+1); err != ErrFrameLengthOutOfRange {
		t.Fatalf("expected ErrFrameLengthOutOfRange, got %v", err)
	}
}

func TestForEachChunk(t *testing.T) {
	h := NewHeader(CompressionNone)
	want := map[[2]int]bool{{1, 2}: true, {30, 31}: true}
	for k := range want {
		if err := h.SetChunkData(k[0], k[1], 8192, 10); err != nil {
			t.Fatal(err)
		}
	}
	got := map[[2]int]bool{}
	h.ForEachChunk(func(x, z int) { got[[2]int{x, z}] = true })
	if len(got) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(got), len(want))
	}
	for k := range want {
		if !got[k] {
			t.Fatalf("missing chunk %v", k)
		}
	}
}
