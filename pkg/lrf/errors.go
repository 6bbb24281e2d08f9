package lrf

import "errors"

// Format errors, per the on-disk contract. These are never retried.
var (
	ErrInvalidMagic          = errors.New("lrf: invalid magic")
	ErrUnsupportedVersion    = errors.New("lrf: unsupported version")
	ErrInvalidChunkCount     = errors.New("lrf: invalid chunk count")
	ErrInvalidSlotEntry      = errors.New("lrf: invalid offset-table slot")
	ErrFrameTooShort         = errors.New("lrf: frame too short")
	ErrFrameLengthOutOfRange = errors.New("lrf: frame length out of range")
)

// Codec errors.
var (
	// ErrUnsupportedCodec is fatal for the chunk it was produced for.
	ErrUnsupportedCodec = errors.New("lrf: unsupported compression codec")
	// ErrEncodeFailed is non-fatal on write: callers fall back to identity.
	ErrEncodeFailed = errors.New("lrf: encode failed")
	// ErrDecodeFailed is fatal for the chunk on read.
	ErrDecodeFailed = errors.New("lrf: decode failed")
)
