package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	expmmap "golang.org/x/exp/mmap"

	"github.com/turbocraft/lrf/pkg/lrf"
)

// headerTTL is how long a cached header is trusted before being re-read from
// disk, per the shared region resource's 2-second cache window.
const headerTTL = 2 * time.Second

// SharedRegion is the single owner of one region file's handle and optional
// memory mapping. It is reference-counted through Acquire/Release. The
// readers, writers, batch loader/saver and mmap engine built on it do not
// call Acquire themselves; they share the reference taken when the region
// was opened, and whoever opened it releases it.
type SharedRegion struct {
	Path string

	fileMu sync.RWMutex // guards the write position / file growth; readers take RLock
	file   *os.File

	mmapMu sync.RWMutex
	mmapR  *expmmap.ReaderAt
	mmapSz int64

	refCount int32
	refMu    sync.Mutex

	headerMu       sync.Mutex
	header         *lrf.Header
	headerLoadedAt time.Time
	headerModTime  time.Time
	headerFileSize int64
}

// OpenSharedRegion opens (creating if necessary) the region file at path and
// returns a SharedRegion with a reference count of 1.
func OpenSharedRegion(path string, defaultCompression lrf.CompressionID) (*SharedRegion, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create region dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, newErr(CodeIO, "open region", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newErr(CodeIO, "stat region", err)
	}

	r := &SharedRegion{Path: path, file: f, refCount: 1}

	if info.Size() == 0 {
		h := lrf.NewHeader(defaultCompression)
		buf := make([]byte, lrf.HeaderSize)
		if err := h.Write(buf); err != nil {
			f.Close()
			return nil, err
		}
		if _, err := f.WriteAt(buf, 0); err != nil {
			f.Close()
			return nil, newErr(CodeIO, "write initial header", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, newErr(CodeIO, "sync initial header", err)
		}
		r.header = h
		r.headerLoadedAt = time.Now()
		r.headerModTime = time.Now()
		r.headerFileSize = lrf.HeaderSize
	}

	return r, nil
}

// Acquire increments the reference count, returning r for chaining.
func (r *SharedRegion) Acquire() *SharedRegion {
	r.refMu.Lock()
	r.refCount++
	r.refMu.Unlock()
	return r
}

// Release decrements the reference count; at zero it unmaps and closes the
// file handle. Safe to call multiple times only once per matching Acquire.
func (r *SharedRegion) Release() error {
	r.refMu.Lock()
	r.refCount--
	last := r.refCount <= 0
	r.refMu.Unlock()
	if !last {
		return nil
	}

	r.mmapMu.Lock()
	if r.mmapR != nil {
		r.mmapR.Close()
		r.mmapR = nil
	}
	r.mmapMu.Unlock()

	r.fileMu.Lock()
	defer r.fileMu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// File returns the underlying handle. Callers must hold the region for the
// duration of use (i.e. have Acquired it) and should prefer ReadAt/WriteAt
// which are already goroutine-safe on *os.File.
func (r *SharedRegion) File() *os.File { return r.file }

// Header returns the cached header, refreshing it from disk if the TTL has
// expired or the file's size/mtime changed since the last load.
func (r *SharedRegion) Header() (*lrf.Header, error) {
	r.headerMu.Lock()
	defer r.headerMu.Unlock()

	info, err := r.file.Stat()
	if err != nil {
		return nil, newErr(CodeIO, "stat region", err)
	}

	stale := r.header == nil ||
		time.Since(r.headerLoadedAt) > headerTTL ||
		info.ModTime().After(r.headerModTime) ||
		info.Size() != r.headerFileSize

	if !stale {
		return r.header, nil
	}

	buf := make([]byte, lrf.HeaderSize)
	if _, err := r.file.ReadAt(buf, 0); err != nil {
		return nil, newErr(CodeFormat, "read header", err)
	}
	h := &lrf.Header{}
	if err := h.Read(buf); err != nil {
		return nil, newErr(CodeFormat, "parse header", err)
	}
	r.header = h
	r.headerLoadedAt = time.Now()
	r.headerModTime = info.ModTime()
	r.headerFileSize = info.Size()
	return r.header, nil
}

// InvalidateHeaderCache forces the next Header() call to re-read from disk,
// regardless of TTL. The batch saver's post-flush hook calls this once per
// flushed batch rather than once per chunk.
func (r *SharedRegion) InvalidateHeaderCache() {
	r.headerMu.Lock()
	r.headerLoadedAt = time.Time{}
	r.headerMu.Unlock()
}

// Lock/Unlock and RLock/RUnlock serialize mutation of the file's write
// position (exclusive) versus concurrent reads (shared), per the shared
// region resource's read/write lock policy.
func (r *SharedRegion) Lock()    { r.fileMu.Lock() }
func (r *SharedRegion) Unlock()  { r.fileMu.Unlock() }
func (r *SharedRegion) RLock()   { r.fileMu.RLock() }
func (r *SharedRegion) RUnlock() { r.fileMu.RUnlock() }

// MmapView returns a read-only view of the region file, (re-)opening it if
// absent or if the file has grown since the view was created. Re-mapping
// happens under the exclusive file lock; callers that observe a stale view
// mid-read should retry at most once, per the concurrency model.
func (r *SharedRegion) MmapView() (*expmmap.ReaderAt, error) {
	r.mmapMu.RLock()
	view := r.mmapR
	size := r.mmapSz
	r.mmapMu.RUnlock()

	info, err := r.file.Stat()
	if err != nil {
		return nil, newErr(CodeIO, "stat region", err)
	}
	if view != nil && info.Size() == size {
		return view, nil
	}

	r.mmapMu.Lock()
	defer r.mmapMu.Unlock()
	// Re-check after acquiring the write lock; another goroutine may have
	// already remapped.
	if r.mmapR != nil && r.mmapSz == info.Size() {
		return r.mmapR, nil
	}
	if r.mmapR != nil {
		r.mmapR.Close()
		r.mmapR = nil
	}
	newView, err := expmmap.Open(r.Path)
	if err != nil {
		return nil, newErr(CodeIO, "mmap open", err)
	}
	r.mmapR = newView
	r.mmapSz = info.Size()
	return newView, nil
}
