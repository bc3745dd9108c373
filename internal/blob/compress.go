package blob

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm used for a framed payload. The value
// is written as the first byte of every frame and must never be renumbered.
type Compression uint8

const (
	// CompressionNone stores the payload as-is.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression.
	CompressionLZ4 Compression = 1
	// CompressionZstd uses zstd at the default level; best for JSON.
	CompressionZstd Compression = 2
)

// maxFramedSize bounds the uncompressed size a frame header may claim.
const maxFramedSize = 512 << 20

var errIncompressible = errors.New("blob: incompressible")

// String returns the configuration name of c.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a configuration name. Empty selects zstd.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none", "off":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("blob: unknown compression %q (expected zstd|lz4|none)", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blob: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("blob: zstd decoder initialization failed: " + err.Error())
	}
}

// Frame compresses data with c and prefixes a header holding the algorithm
// and the uncompressed length. Incompressible input is stored uncompressed.
func Frame(data []byte, c Compression) ([]byte, error) {
	body, used, err := compress(data, c)
	if err != nil {
		return nil, err
	}
	header := make([]byte, 1+binary.MaxVarintLen64)
	header[0] = byte(used)
	n := binary.PutUvarint(header[1:], uint64(len(data)))
	out := make([]byte, 0, 1+n+len(body))
	out = append(out, header[:1+n]...)
	return append(out, body...), nil
}

// Unframe reverses Frame.
func Unframe(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("blob: frame too short")
	}
	tag := Compression(frame[0])
	size, n := binary.Uvarint(frame[1:])
	if n <= 0 || size > maxFramedSize {
		return nil, fmt.Errorf("blob: corrupt frame header")
	}
	body := frame[1+n:]
	switch tag {
	case CompressionNone:
		if uint64(len(body)) != size {
			return nil, fmt.Errorf("blob: frame size %d does not match header %d", len(body), size)
		}
		return body, nil
	case CompressionLZ4:
		out := make([]byte, size)
		read, err := lz4.UncompressBlock(body, out)
		if err != nil {
			return nil, fmt.Errorf("blob: lz4 decompress: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("blob: lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return out, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("blob: zstd decompress: %w", err)
		}
		if uint64(len(out)) != size {
			return nil, fmt.Errorf("blob: zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("blob: unsupported compression tag %d", tag)
	}
}

func compress(data []byte, c Compression) ([]byte, Compression, error) {
	var (
		out []byte
		err error
	)
	switch c {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		out, err = compressLZ4(data)
	case CompressionZstd:
		out = zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			err = errIncompressible
		}
	default:
		return nil, 0, fmt.Errorf("blob: unsupported compression %d", c)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return out, c, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("blob: lz4 compress: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return dst[:written], nil
}
