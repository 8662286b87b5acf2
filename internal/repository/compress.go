package store

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/gsitechorg/open-belex-debug/internal/domain"
)

// ParseEncoding parses a trace_compression setting.
func ParseEncoding(name string) (domain.PayloadEncoding, error) {
	switch domain.PayloadEncoding(name) {
	case domain.PayloadEncodingNone, domain.PayloadEncodingZstd, domain.PayloadEncodingLZ4:
		return domain.PayloadEncoding(name), nil
	case "":
		return domain.PayloadEncodingNone, nil
	default:
		return "", fmt.Errorf("unknown trace compression %q", name)
	}
}

var errIncompressible = errors.New("data is incompressible")

// zstd.Encoder and zstd.Decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

// compressPayload returns the stored form of data and the encoding that
// was actually applied. Incompressible payloads are stored as-is.
func compressPayload(data []byte, enc domain.PayloadEncoding) ([]byte, domain.PayloadEncoding, error) {
	var (
		out []byte
		err error
	)
	switch enc {
	case domain.PayloadEncodingNone, "":
		return data, domain.PayloadEncodingNone, nil
	case domain.PayloadEncodingZstd:
		out = zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			err = errIncompressible
		}
	case domain.PayloadEncodingLZ4:
		out, err = compressLZ4(data)
	default:
		return nil, "", fmt.Errorf("unsupported payload encoding %q", enc)
	}
	if errors.Is(err, errIncompressible) {
		return data, domain.PayloadEncodingNone, nil
	}
	if err != nil {
		return nil, "", err
	}
	return out, enc, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressPayload(stored []byte, enc domain.PayloadEncoding, rawSize int) ([]byte, error) {
	switch enc {
	case domain.PayloadEncodingNone, "":
		return stored, nil
	case domain.PayloadEncodingZstd:
		out, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	case domain.PayloadEncodingLZ4:
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != rawSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, rawSize)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported payload encoding %q", enc)
	}
}
