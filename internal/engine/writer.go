package engine

import (
	"fmt"
	"os"

	"github.com/turbocraft/lrf/pkg/lrf"
)

// WriteEntry is one chunk scheduled to be written: local coordinates and the
// caller's raw (uncompressed) payload.
type WriteEntry struct {
	X, Z    int
	Payload []byte
}

// WriteResult reports the outcome of one WriteEntry within a batch: its
// final on-disk offset and the codec actually used (which may differ from
// the region's default if encoding fell back to identity).
type WriteResult struct {
	X, Z   int
	Offset int64
	Codec  lrf.CompressionID
	Err    error
}

// Writer appends chunks to a region, maintaining sector alignment and the
// granular per-slot header update described by the streaming write
// algorithm. A Writer does not cache anything; it is safe for concurrent use
// because all file mutation happens under the region's exclusive lock.
type Writer struct {
	region *SharedRegion
}

func NewWriter(region *SharedRegion) *Writer {
	return &Writer{region: region}
}

// WriteChunk performs one streaming write: encode, append, patch the header
// slot on disk, and update the in-memory header. It does not flush the full
// header or fsync — callers that need durability call Flush.
func (w *Writer) WriteChunk(x, z int, payload []byte) (WriteResult, error) {
	header, err := w.region.Header()
	if err != nil {
		return WriteResult{}, err
	}

	encoded, codec := lrf.EncodeWithFallback(header.DefaultCompression, payload)
	frame := lrf.BuildFrame(codec, encoded)
	if len(frame) > lrf.MaxChunkBytes {
		return WriteResult{}, ErrFrameLengthOutOfRange(len(frame))
	}

	w.region.Lock()
	defer w.region.Unlock()

	offset, err := w.appendLocked(frame)
	if err != nil {
		return WriteResult{}, err
	}

	if err := header.SetChunkData(x, z, offset, len(frame)); err != nil {
		return WriteResult{}, err
	}
	if err := w.patchSlotLocked(header, x, z); err != nil {
		return WriteResult{}, err
	}

	return WriteResult{X: x, Z: z, Offset: offset, Codec: codec}, nil
}

// WriteBatch applies WriteChunk to each entry in submission order (the
// batch's FIFO ordering guarantee), then performs one full Flush — a single
// header rewrite and fsync for the whole batch rather than per chunk.
// Per-entry I/O errors do not abort the batch; they are reported alongside
// whatever entries did succeed.
func (w *Writer) WriteBatch(entries []WriteEntry) ([]WriteResult, error) {
	results := make([]WriteResult, len(entries))
	for i, e := range entries {
		res, err := w.WriteChunk(e.X, e.Z, e.Payload)
		res.X, res.Z = e.X, e.Z
		res.Err = err
		results[i] = res
	}
	if err := w.Flush(); err != nil {
		return results, err
	}
	return results, nil
}

// appendLocked computes the next sector-aligned append offset, zero-pads any
// gap between the current end of file and that offset, and writes frame.
// Caller must hold the region's exclusive lock.
func (w *Writer) appendLocked(frame []byte) (int64, error) {
	var info os.FileInfo
	if err := withIOBackoff(func() error {
		var serr error
		info, serr = w.region.File().Stat()
		return serr
	}); err != nil {
		return 0, newErr(CodeIO, "stat region", err)
	}

	fileLen := info.Size()
	base := fileLen
	if base < lrf.HeaderSize {
		base = lrf.HeaderSize
	}
	offset := lrf.AlignUp256(base)

	if pad := offset - fileLen; pad > 0 {
		if err := writeZeroPad(w.region.File(), fileLen, pad); err != nil {
			return 0, newErr(CodeIO, "pad region", err)
		}
	}

	if err := withIOBackoff(func() error {
		_, werr := w.region.File().WriteAt(frame, offset)
		return werr
	}); err != nil {
		return 0, newErr(CodeIO, "write chunk frame", err)
	}
	return offset, nil
}

// writeZeroPad never leaves uninitialized bytes on disk between the old EOF
// and the new append point.
func writeZeroPad(f interface {
	WriteAt(p []byte, off int64) (int, error)
}, at int64, n int64) error {
	const chunk = 64 * 1024
	zeros := make([]byte, chunk)
	for n > 0 {
		w := n
		if w > chunk {
			w = chunk
		}
		if err := withIOBackoff(func() error {
			_, werr := f.WriteAt(zeros[:w], at)
			return werr
		}); err != nil {
			return err
		}
		at += w
		n -= w
	}
	return nil
}

// patchSlotLocked rewrites only the 4-byte offset-table entry for (x,z) at
// its absolute file offset — the granular update that avoids fsyncing the
// whole header on every write.
func (w *Writer) patchSlotLocked(header *lrf.Header, x, z int) error {
	buf := make([]byte, lrf.HeaderSize)
	if err := header.WriteSlot(buf, x, z); err != nil {
		return err
	}
	slotOff := lrf.SlotByteOffset(x, z)
	if err := withIOBackoff(func() error {
		_, werr := w.region.File().WriteAt(buf[slotOff:slotOff+4], slotOff)
		return werr
	}); err != nil {
		return newErr(CodeIO, "patch header slot", err)
	}
	return nil
}

// Flush rewrites the entire header and forces durability with fsync. Called
// explicitly by streaming callers that want durability now, and always once
// at the end of WriteBatch.
func (w *Writer) Flush() error {
	header, err := w.region.Header()
	if err != nil {
		return err
	}

	buf := make([]byte, lrf.HeaderSize)
	if err := header.Write(buf); err != nil {
		return err
	}

	w.region.Lock()
	err = withIOBackoff(func() error {
		_, werr := w.region.File().WriteAt(buf, 0)
		return werr
	})
	if err == nil {
		err = withIOBackoff(func() error { return w.region.File().Sync() })
	}
	w.region.Unlock()
	if err != nil {
		return newErr(CodeIO, "flush header", err)
	}
	w.region.InvalidateHeaderCache()
	return nil
}

// ErrFrameLengthOutOfRange reports that a frame of the given length cannot
// be represented by the offset table's 8-bit sector-count field, and leaves
// the region unmodified — the caller never reaches appendLocked.
func ErrFrameLengthOutOfRange(frameLen int) error {
	return fmt.Errorf("%w: frame length %d exceeds %d", lrf.ErrFrameLengthOutOfRange, frameLen, lrf.MaxChunkBytes)
}
