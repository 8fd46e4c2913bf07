package metadata

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// compressionExts lists the suffixes createrepo_c may use for index files.
var compressionExts = []string{".gz", ".bz2", ".xz", ".zst"}

// TrimCompression strips a known compression suffix from name.
func TrimCompression(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range compressionExts {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// Open wraps r with the decompressor implied by name's suffix. Names without
// a known suffix are read as-is.
func Open(name string, r io.Reader) (io.ReadCloser, error) {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		return gzip.NewReader(r)
	case strings.HasSuffix(lower, ".bz2"):
		return io.NopCloser(bzip2.NewReader(r)), nil
	case strings.HasSuffix(lower, ".xz"):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(xr), nil
	case strings.HasSuffix(lower, ".zst"):
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	default:
		return io.NopCloser(r), nil
	}
}

// Decompress returns the uncompressed content of data.
func Decompress(name string, data []byte) ([]byte, error) {
	r, err := Open(name, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("decompress %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
