package swiftstream

import (
	"compress/bzip2"
	"io"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Compression identifies the codec wrapping a file.
type Compression string

const (
	CompressionNone   Compression = ""
	CompressionGzip   Compression = "gzip"
	CompressionBzip2  Compression = "bzip2"
	CompressionXZ     Compression = "xz"
	CompressionZstd   Compression = "zstd"
	CompressionLZ4    Compression = "lz4"
	CompressionSnappy Compression = "snappy"
)

// compressionForPath detects the codec from the file suffix.
func compressionForPath(path string) Compression {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz", ".gzip":
		return CompressionGzip
	case ".bz2":
		return CompressionBzip2
	case ".xz":
		return CompressionXZ
	case ".zst", ".zstd":
		return CompressionZstd
	case ".lz4":
		return CompressionLZ4
	case ".sz", ".snappy":
		return CompressionSnappy
	default:
		return CompressionNone
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// newDecompressor wraps r with the decoder for c. The returned closer, when
// non-nil, releases decoder resources and must run before r is closed.
func newDecompressor(c Compression, r io.Reader) (io.Reader, io.Closer, error) {
	switch c {
	case CompressionGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gz, gz, nil
	case CompressionBzip2:
		return bzip2.NewReader(r), nil, nil
	case CompressionXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return xr, nil, nil
	case CompressionZstd:
		// A single decoder goroutine keeps the worker the only consumer of the file.
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, nil, err
		}
		return dec, closerFunc(func() error { dec.Close(); return nil }), nil
	case CompressionLZ4:
		return lz4.NewReader(r), nil, nil
	case CompressionSnappy:
		return snappy.NewReader(r), nil, nil
	default:
		return r, nil, nil
	}
}
