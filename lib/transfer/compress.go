// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transfer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression names the per-chunk compression of a transfer. The
// string form is what crosses the wire.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionLZ4  Compression = "lz4"
	CompressionZstd Compression = "zstd"

	// CompressionAuto is a sender setting, never a wire value: the
	// sender picks one of the others per transfer.
	CompressionAuto Compression = "auto"
)

// ParseCompression validates a configured or received compression
// name. The empty string means none.
func ParseCompression(name string) (Compression, error) {
	switch Compression(name) {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionLZ4, CompressionZstd, CompressionAuto:
		return Compression(name), nil
	}
	return "", fmt.Errorf("unknown compression %q", name)
}

// errIncompressible means compression did not shrink the input.
var errIncompressible = errors.New("data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("transfer: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("transfer: zstd decoder initialization failed: " + err.Error())
	}
}

// SelectCompression picks the compression for a transfer of
// contentType whose first chunk is sample. Media containers are
// already compressed by their codecs and always select none; anything
// else is probed with zstd.
func SelectCompression(sample []byte, contentType string) Compression {
	mediaType, _, _ := strings.Cut(contentType, ";")
	switch {
	case strings.HasPrefix(mediaType, "video/"), strings.HasPrefix(mediaType, "audio/"), strings.HasPrefix(mediaType, "image/"):
		return CompressionNone
	case strings.HasPrefix(mediaType, "text/"), mediaType == "application/json":
		return CompressionZstd
	}
	if len(sample) == 0 {
		return CompressionNone
	}
	ratio := float64(len(sample)) / float64(len(zstdEncoder.EncodeAll(sample, nil)))
	switch {
	case ratio >= 1.5:
		return CompressionZstd
	case ratio >= 1.1:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// compressChunk compresses data with method, returning data unchanged
// when the method is none or the result would not be smaller.
func compressChunk(data []byte, method Compression) ([]byte, error) {
	var (
		compressed []byte
		err        error
	)
	switch method {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed, err = compressZstd(data)
	default:
		return nil, fmt.Errorf("unsupported compression %q", method)
	}
	if errors.Is(err, errIncompressible) {
		return data, nil
	}
	return compressed, err
}

// decompressChunk reverses compressChunk. Data already at rawSize was
// sent uncompressed.
func decompressChunk(data []byte, method Compression, rawSize int) ([]byte, error) {
	if len(data) == rawSize {
		return data, nil
	}
	if len(data) > rawSize {
		return nil, fmt.Errorf("chunk data is %d bytes, larger than its raw size %d", len(data), rawSize)
	}
	switch method {
	case CompressionLZ4:
		destination := make([]byte, rawSize)
		read, err := lz4.UncompressBlock(data, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != rawSize {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, rawSize)
		}
		return destination, nil
	case CompressionZstd:
		result, err := zstdDecoder.DecodeAll(data, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(result) != rawSize {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), rawSize)
		}
		return result, nil
	}
	return nil, fmt.Errorf("chunk is compressed but transfer declared %q", method)
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

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}
