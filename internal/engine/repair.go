package engine

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	getter "github.com/hashicorp/go-getter"

	"github.com/turbocraft/lrf/pkg/lrf"
)

// IssueCode classifies one structural defect found while scanning a region
// file.
type IssueCode string

const (
	IssueInvalidMagic      IssueCode = "INVALID_MAGIC"
	IssueFileTooSmall      IssueCode = "FILE_TOO_SMALL"
	IssueInvalidChunkCount IssueCode = "INVALID_CHUNK_COUNT"
	IssueHeaderOverflow    IssueCode = "HEADER_OVERFLOW"
	IssueNegativeLength    IssueCode = "NEGATIVE_LENGTH"
	IssueLengthTooLarge    IssueCode = "LENGTH_TOO_LARGE"
	IssueInvalidOffset     IssueCode = "INVALID_OFFSET"
	IssueDataTruncated     IssueCode = "DATA_TRUNCATED"
)

// Issue is one defect found during detectCorruption, optionally localized
// to a chunk's local coordinates.
type Issue struct {
	Code    IssueCode
	X, Z    int
	Message string
}

// CorruptionFixer scans a region for structural damage and attempts to
// recover whatever chunks remain salvageable, backing up the original file
// before any destructive rewrite.
type CorruptionFixer struct {
	region    *SharedRegion
	backupDir string
}

// NewCorruptionFixer returns a fixer for region, backing up under
// <worldDir>/corruption_backup.
func NewCorruptionFixer(region *SharedRegion) *CorruptionFixer {
	return &CorruptionFixer{
		region:    region,
		backupDir: filepath.Join(filepath.Dir(region.Path), "corruption_backup"),
	}
}

// detectCorruption scans the header and offset table for structural
// problems without attempting to decode any chunk payload.
func (f *CorruptionFixer) detectCorruption() ([]Issue, error) {
	info, err := f.region.File().Stat()
	if err != nil {
		return nil, newErr(CodeIO, "stat region", err)
	}
	if info.Size() < lrf.HeaderSize {
		return []Issue{{Code: IssueFileTooSmall, Message: fmt.Sprintf("file is %d bytes, header requires %d", info.Size(), lrf.HeaderSize)}}, nil
	}

	buf := make([]byte, lrf.HeaderSize)
	if _, err := f.region.File().ReadAt(buf, 0); err != nil {
		return nil, newErr(CodeIO, "read header", err)
	}

	var issues []Issue
	if string(buf[0:len(lrf.Magic)]) != lrf.Magic {
		issues = append(issues, Issue{Code: IssueInvalidMagic, Message: "magic bytes do not match"})
		return issues, nil
	}

	header := &lrf.Header{}
	if err := header.Read(buf); err != nil {
		issues = append(issues, Issue{Code: IssueInvalidChunkCount, Message: err.Error()})
		return issues, nil
	}

	header.ForEachChunk(func(x, z int) {
		offset := header.GetOffset(x, z)
		size := header.GetSize(x, z)
		switch {
		case size < 0:
			issues = append(issues, Issue{Code: IssueNegativeLength, X: x, Z: z})
		case size > lrf.MaxChunkBytes:
			issues = append(issues, Issue{Code: IssueLengthTooLarge, X: x, Z: z})
		case offset < lrf.HeaderSize || offset%lrf.SectorSize != 0:
			issues = append(issues, Issue{Code: IssueInvalidOffset, X: x, Z: z})
		default:
			// The slot records a 4096-rounded size; the frame's own length
			// prefix says how many bytes must actually be on disk.
			frameLen := int64(size)
			head := make([]byte, 4)
			if n, _ := f.region.File().ReadAt(head, offset); n == len(head) {
				frameLen = int64(binary.BigEndian.Uint32(head))
			}
			if offset+frameLen > info.Size() {
				issues = append(issues, Issue{Code: IssueDataTruncated, X: x, Z: z})
			}
		}
	})
	return issues, nil
}

// repairFile backs up the current file, then rewrites it in place so that
// it holds only intact chunks and the chunks repairChunk can recover:
// recovered payloads are re-appended and the slots of unrecoverable chunks
// are cleared. It never mutates the original before the backup succeeds.
func (f *CorruptionFixer) repairFile() (IntegrityReport, error) {
	issues, err := f.detectCorruption()
	if err != nil {
		return IntegrityReport{}, err
	}

	if err := f.backup(); err != nil {
		return IntegrityReport{}, err
	}

	report := IntegrityReport{Statuses: make(map[int]Status)}
	writer := NewWriter(f.region)
	for _, issue := range issues {
		if issue.Code == IssueInvalidMagic || issue.Code == IssueFileTooSmall || issue.Code == IssueInvalidChunkCount {
			// Whole-file corruption: nothing structural to recover chunk by
			// chunk. Leave the (now-backed-up) file as an empty region.
			empty := lrf.NewHeader(lrf.CompressionNone)
			buf := make([]byte, lrf.HeaderSize)
			if err := empty.Write(buf); err != nil {
				return report, err
			}
			if _, err := f.region.File().WriteAt(buf, 0); err != nil {
				return report, newErr(CodeIO, "rewrite header", err)
			}
			f.region.InvalidateHeaderCache()
			return report, nil
		}

		report.Total++
		payload, ok := f.repairChunk(issue)
		if !ok {
			report.Corrupted++
			if header, herr := f.region.Header(); herr == nil {
				_ = header.SetChunkData(issue.X, issue.Z, 0, 0)
				f.region.Lock()
				_ = writer.patchSlotLocked(header, issue.X, issue.Z)
				f.region.Unlock()
			}
			continue
		}
		// Re-append the recovered payload at a fresh, correctly aligned
		// offset and repoint the chunk's header slot at it, rather than
		// trusting the damaged original offset/length.
		if _, err := writer.WriteChunk(issue.X, issue.Z, payload); err != nil {
			report.Corrupted++
			continue
		}
		report.Valid++
	}
	if err := writer.Flush(); err != nil {
		return report, err
	}
	return report, nil
}

// repairChunk attempts to recover one chunk's payload given the nature of
// its issue: a bad offset is retried at the nearest valid sector alignment;
// a bad length is retried by scanning forward from the recorded offset for
// the next plausible frame header.
func (f *CorruptionFixer) repairChunk(issue Issue) ([]byte, bool) {
	header, err := f.region.Header()
	if err != nil {
		return nil, false
	}
	offset := header.GetOffset(issue.X, issue.Z)

	switch issue.Code {
	case IssueInvalidOffset:
		aligned := lrf.AlignUp256(offset)
		if payload, ok := f.tryReadFrame(aligned); ok {
			return payload, true
		}
	case IssueNegativeLength, IssueLengthTooLarge, IssueDataTruncated:
		if payload, ok := f.scanForFrame(offset); ok {
			return payload, true
		}
	}
	return nil, false
}

// tryReadFrame attempts to parse and decode a frame starting exactly at off.
func (f *CorruptionFixer) tryReadFrame(off int64) ([]byte, bool) {
	info, err := f.region.File().Stat()
	if err != nil || off < lrf.HeaderSize || off >= info.Size() {
		return nil, false
	}
	head := make([]byte, lrf.FrameHeaderSize)
	if _, err := f.region.File().ReadAt(head, off); err != nil {
		return nil, false
	}
	frameLen, codec, err := lrf.ParseFrameHeader(head, lrf.MaxChunkBytes)
	if err != nil || off+int64(frameLen) > info.Size() {
		return nil, false
	}
	buf := make([]byte, frameLen)
	if _, err := f.region.File().ReadAt(buf, off); err != nil {
		return nil, false
	}
	payload, err := lrf.Decode(codec, buf[lrf.FrameHeaderSize:])
	if err != nil {
		return nil, false
	}
	return payload, true
}

// scanForFrame searches forward from off in 256-byte steps for the next
// offset at which a plausible frame header parses and decodes successfully.
func (f *CorruptionFixer) scanForFrame(off int64) ([]byte, bool) {
	info, err := f.region.File().Stat()
	if err != nil {
		return nil, false
	}
	start := off
	if start < lrf.HeaderSize {
		start = lrf.HeaderSize
	}
	const maxScan = 64
	for i := 0; i < maxScan; i++ {
		candidate := start + int64(i)*lrf.SectorSize
		if candidate >= info.Size() {
			break
		}
		if payload, ok := f.tryReadFrame(candidate); ok {
			return payload, true
		}
	}
	return nil, false
}

// backup copies the region file into the backup directory, suffixed with a
// timestamp and a uuid so repeated repairs never collide.
func (f *CorruptionFixer) backup() error {
	if err := os.MkdirAll(f.backupDir, 0o755); err != nil {
		return newErr(CodeIO, "create backup dir", err)
	}

	name := fmt.Sprintf("%s.%s.%s.bak", filepath.Base(f.region.Path), time.Now().UTC().Format("20060102T150405Z"), uuid.NewString())
	dst := filepath.Join(f.backupDir, name)

	src, err := os.Open(f.region.Path)
	if err != nil {
		return newErr(CodeIO, "open region for backup", err)
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return newErr(CodeIO, "create backup file", err)
	}
	defer out.Close()

	buf := make([]byte, 1<<20)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return newErr(CodeIO, "write backup file", werr)
			}
		}
		if rerr != nil {
			break
		}
	}
	return out.Sync()
}

// RestoreFromBackup fetches a region file from a remote backup source (any
// go-getter URL: local path, S3, GCS, HTTP, git) and installs it at the
// region's path, replacing whatever is currently there.
func RestoreFromBackup(ctx context.Context, regionPath, source string) error {
	tmpDir, err := os.MkdirTemp("", "lrf-restore-*")
	if err != nil {
		return newErr(CodeIO, "create restore temp dir", err)
	}
	defer os.RemoveAll(tmpDir)

	dst := filepath.Join(tmpDir, filepath.Base(regionPath))
	client := &getter.Client{
		Ctx:  ctx,
		Src:  source,
		Dst:  dst,
		Mode: getter.ClientModeFile,
	}
	if err := client.Get(); err != nil {
		return newErr(CodeIO, "fetch backup", err)
	}

	in, err := os.Open(dst)
	if err != nil {
		return newErr(CodeIO, "open fetched backup", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(regionPath), 0o755); err != nil {
		return newErr(CodeIO, "create region dir", err)
	}
	out, err := os.Create(regionPath)
	if err != nil {
		return newErr(CodeIO, "create region file", err)
	}
	defer out.Close()

	if _, err := out.ReadFrom(in); err != nil {
		return newErr(CodeIO, "write restored region", err)
	}
	return out.Sync()
}

// RestoreFromBackupInto fetches a region file from source the same way
// RestoreFromBackup does, but installs it into an already-open region's
// existing file handle (truncate + rewrite at offset 0) instead of
// replacing the path, so a SharedRegion held by in-flight callers keeps
// pointing at valid, live data rather than a stale descriptor for an inode
// that no longer exists on disk.
func RestoreFromBackupInto(ctx context.Context, region *SharedRegion, source string) error {
	tmpDir, err := os.MkdirTemp("", "lrf-restore-*")
	if err != nil {
		return newErr(CodeIO, "create restore temp dir", err)
	}
	defer os.RemoveAll(tmpDir)

	dst := filepath.Join(tmpDir, filepath.Base(region.Path))
	client := &getter.Client{
		Ctx:  ctx,
		Src:  source,
		Dst:  dst,
		Mode: getter.ClientModeFile,
	}
	if err := client.Get(); err != nil {
		return newErr(CodeIO, "fetch backup", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		return newErr(CodeIO, "read fetched backup", err)
	}

	region.Lock()
	defer region.Unlock()
	if err := region.File().Truncate(int64(len(data))); err != nil {
		return newErr(CodeIO, "truncate region", err)
	}
	if _, err := region.File().WriteAt(data, 0); err != nil {
		return newErr(CodeIO, "write restored region", err)
	}
	return region.File().Sync()
}
