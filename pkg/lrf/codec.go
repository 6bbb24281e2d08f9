package lrf

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionID identifies the codec a chunk frame was encoded with.
type CompressionID uint8

const (
	CompressionNone CompressionID = 0
	CompressionZlib CompressionID = 1
	CompressionLZ4  CompressionID = 2
	CompressionZstd CompressionID = 3
)

func (c CompressionID) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZlib:
		return "zlib"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// zstd encoders/decoders are expensive to build; the registry keeps one pair
// alive for the process, the way klauspost/compress recommends for reuse.
var (
	zstdEncoder  *zstd.Encoder
	zstdDecoder  *zstd.Decoder
	zstdInitOnce sync.Once
	zstdInitErr  error
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdInitOnce.Do(func() {
		zstdEncoder, zstdInitErr = zstd.NewWriter(nil)
		if zstdInitErr != nil {
			return
		}
		zstdDecoder, zstdInitErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdInitErr
}

// Encode compresses b with the codec identified by id. Encoding is
// deterministic over identical input for every supported codec.
func Encode(id CompressionID, b []byte) ([]byte, error) {
	switch id {
	case CompressionNone:
		return b, nil
	case CompressionZlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(b); err != nil {
			return nil, fmt.Errorf("%w: zlib: %v", ErrEncodeFailed, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("%w: zlib: %v", ErrEncodeFailed, err)
		}
		return buf.Bytes(), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(b); err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrEncodeFailed, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrEncodeFailed, err)
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		enc, _, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("%w: zstd init: %v", ErrEncodeFailed, err)
		}
		return enc.EncodeAll(b, nil), nil
	default:
		return nil, fmt.Errorf("%w: id=%d", ErrUnsupportedCodec, id)
	}
}

// Decode reverses Encode. An unknown codec id fails with ErrUnsupportedCodec;
// a codec that rejects its own encoded input fails with ErrDecodeFailed.
func Decode(id CompressionID, b []byte) ([]byte, error) {
	switch id {
	case CompressionNone:
		return b, nil
	case CompressionZlib:
		r, err := zlib.NewReader(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("%w: zlib: %v", ErrDecodeFailed, err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: zlib: %v", ErrDecodeFailed, err)
		}
		return out, nil
	case CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(b))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrDecodeFailed, err)
		}
		return out, nil
	case CompressionZstd:
		_, dec, err := zstdCodecs()
		if err != nil {
			return nil, fmt.Errorf("%w: zstd init: %v", ErrDecodeFailed, err)
		}
		out, err := dec.DecodeAll(b, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrDecodeFailed, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: id=%d", ErrUnsupportedCodec, id)
	}
}

// EncodeWithFallback behaves like Encode, but on failure falls back to the
// identity codec and reports the codec id actually used — the writer records
// that id in the per-chunk frame rather than the region-level default.
func EncodeWithFallback(id CompressionID, b []byte) (encoded []byte, used CompressionID) {
	out, err := Encode(id, b)
	if err != nil {
		return b, CompressionNone
	}
	return out, id
}
