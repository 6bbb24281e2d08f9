package engine

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/turbocraft/lrf/pkg/lrf"
)

// Algorithm identifies a checksum algorithm used by a sidecar record.
type Algorithm uint8

const (
	AlgorithmNone   Algorithm = 0
	AlgorithmCRC32C Algorithm = 1
	AlgorithmSHA256 Algorithm = 2
	AlgorithmXXH64  Algorithm = 3
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// Digest computes algo's digest of b. AlgorithmNone returns an empty digest.
func Digest(algo Algorithm, b []byte) ([]byte, error) {
	switch algo {
	case AlgorithmNone:
		return nil, nil
	case AlgorithmCRC32C:
		sum := crc32.Checksum(b, crc32cTable)
		out := make([]byte, 4)
		binary.BigEndian.PutUint32(out, sum)
		return out, nil
	case AlgorithmSHA256:
		sum := sha256.Sum256(b)
		return sum[:], nil
	case AlgorithmXXH64:
		sum := xxhash.Sum64(b)
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, sum)
		return out, nil
	default:
		return nil, fmt.Errorf("integrity: unknown algorithm %d", algo)
	}
}

// Status classifies the result of validating one chunk against its stored
// checksum(s).
type Status int

const (
	StatusValid Status = iota
	StatusCorruptedPrimary
	StatusCorruptedBoth
	StatusMissingChecksum
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "VALID"
	case StatusCorruptedPrimary:
		return "CORRUPTED_PRIMARY"
	case StatusCorruptedBoth:
		return "CORRUPTED_BOTH"
	case StatusMissingChecksum:
		return "MISSING_CHECKSUM"
	default:
		return "UNKNOWN"
	}
}

// checksumRecord is one sidecar entry: chunkIndex(2) | algorithmId(1) |
// digestLen(1) | digest(digestLen).
type checksumRecord struct {
	chunkIndex uint16
	algorithm  Algorithm
	digest     []byte
}

// IntegrityReport summarizes ValidateRegion's pass over every present chunk.
type IntegrityReport struct {
	Total     int
	Valid     int
	Corrupted int
	Missing   int
	Statuses  map[int]Status // by chunk index
}

// Validator checks and maintains per-chunk checksums for a region, stored in
// a sidecar file alongside the region (path + ".integrity"). A primary
// algorithm is always checked; a backup algorithm, if configured, is
// consulted only when the primary disagrees, distinguishing a single bad
// digest from genuine payload corruption.
type Validator struct {
	region  *SharedRegion
	primary Algorithm
	backup  Algorithm

	mu        sync.Mutex
	primByIdx map[uint16][]byte
	backByIdx map[uint16][]byte
	loaded    bool
}

func sidecarPath(regionPath string) string {
	return regionPath + ".integrity"
}

// NewValidator returns a Validator for region using primary (required) and
// backup (AlgorithmNone to disable) algorithms.
func NewValidator(region *SharedRegion, primary, backup Algorithm) *Validator {
	return &Validator{
		region:    region,
		primary:   primary,
		backup:    backup,
		primByIdx: make(map[uint16][]byte),
		backByIdx: make(map[uint16][]byte),
	}
}

// load reads the sidecar file once, lazily, splitting records by algorithm.
func (v *Validator) load() error {
	if v.loaded {
		return nil
	}
	v.loaded = true

	data, err := os.ReadFile(sidecarPath(v.region.Path))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return newErr(CodeIO, "read integrity sidecar", err)
	}

	off := 0
	for off+4 <= len(data) {
		idx := binary.LittleEndian.Uint16(data[off:])
		algo := Algorithm(data[off+2])
		digestLen := int(data[off+3])
		off += 4
		if off+digestLen > len(data) {
			break
		}
		digest := append([]byte(nil), data[off:off+digestLen]...)
		off += digestLen

		switch algo {
		case v.primary:
			v.primByIdx[idx] = digest
		case v.backup:
			if v.backup != AlgorithmNone {
				v.backByIdx[idx] = digest
			}
		}
	}
	return nil
}

// persist rewrites the whole sidecar file from the in-memory maps. Records
// are written in no particular order.
func (v *Validator) persist() error {
	var buf []byte
	write := func(idx uint16, algo Algorithm, digest []byte) {
		hdr := make([]byte, 4)
		binary.LittleEndian.PutUint16(hdr, idx)
		hdr[2] = byte(algo)
		hdr[3] = byte(len(digest))
		buf = append(buf, hdr...)
		buf = append(buf, digest...)
	}
	for idx, d := range v.primByIdx {
		write(idx, v.primary, d)
	}
	if v.backup != AlgorithmNone {
		for idx, d := range v.backByIdx {
			write(idx, v.backup, d)
		}
	}
	tmp := sidecarPath(v.region.Path) + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return newErr(CodeIO, "write integrity sidecar", err)
	}
	if err := os.Rename(tmp, sidecarPath(v.region.Path)); err != nil {
		return newErr(CodeIO, "rename integrity sidecar", err)
	}
	return nil
}

// UpdateChecksum computes and stores the configured algorithm(s)' digests
// for payload at chunkIndex, then persists the sidecar file. Called by the
// batch saver's post-flush hook, once per flushed chunk.
func (v *Validator) UpdateChecksum(chunkIndex int, payload []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.load(); err != nil {
		return err
	}

	idx := uint16(chunkIndex)
	primDigest, err := Digest(v.primary, payload)
	if err != nil {
		return newErr(CodeIntegrity, "compute primary digest", err)
	}
	v.primByIdx[idx] = primDigest

	if v.backup != AlgorithmNone {
		backDigest, err := Digest(v.backup, payload)
		if err != nil {
			return newErr(CodeIntegrity, "compute backup digest", err)
		}
		v.backByIdx[idx] = backDigest
	}
	return v.persist()
}

// ValidateChunk compares payload's computed digest(s) against what is
// stored for chunkIndex. ValidateChunk itself never triggers repair; the
// speculative flag marks validations of prefetched data and does not change
// the returned status.
func (v *Validator) ValidateChunk(chunkIndex int, payload []byte, speculative bool) (Status, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.load(); err != nil {
		return StatusMissingChecksum, err
	}

	idx := uint16(chunkIndex)
	storedPrim, ok := v.primByIdx[idx]
	if !ok {
		return StatusMissingChecksum, nil
	}

	gotPrim, err := Digest(v.primary, payload)
	if err != nil {
		return StatusMissingChecksum, newErr(CodeIntegrity, "compute primary digest", err)
	}
	if bytesEqual(gotPrim, storedPrim) {
		return StatusValid, nil
	}

	if v.backup == AlgorithmNone {
		return StatusCorruptedPrimary, nil
	}
	storedBack, ok := v.backByIdx[idx]
	if !ok {
		return StatusCorruptedPrimary, nil
	}
	gotBack, err := Digest(v.backup, payload)
	if err != nil {
		return StatusCorruptedPrimary, newErr(CodeIntegrity, "compute backup digest", err)
	}
	if bytesEqual(gotBack, storedBack) {
		return StatusCorruptedPrimary, nil
	}
	_ = speculative
	return StatusCorruptedBoth, nil
}

// ValidateRegion validates every chunk the region's header marks present,
// reading payloads through reader.
func (v *Validator) ValidateRegion(reader *Reader) (IntegrityReport, error) {
	header, err := v.region.Header()
	if err != nil {
		return IntegrityReport{}, err
	}

	report := IntegrityReport{Statuses: make(map[int]Status)}
	var firstErr error
	header.ForEachChunk(func(x, z int) {
		idx := lrf.ChunkIndex(x, z)
		payload, err := reader.ReadChunk(x, z)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		if payload == nil {
			return
		}
		status, err := v.ValidateChunk(idx, payload, false)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		report.Total++
		report.Statuses[idx] = status
		switch status {
		case StatusValid:
			report.Valid++
		case StatusMissingChecksum:
			report.Missing++
		default:
			report.Corrupted++
		}
	})
	return report, firstErr
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
