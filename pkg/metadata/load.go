package metadata

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/e2llm/rpmrepo-export/pkg/backend"
)

// DataFile is an index file read through its repomd entry.
type DataFile struct {
	Type         string
	Path         string
	Compressed   []byte
	Uncompressed []byte
	Checksum     string
	OpenChecksum string
}

// LoadRepoMD reads and unmarshals repodata/repomd.xml from backend.
func LoadRepoMD(ctx context.Context, b backend.Backend) (RepoMD, error) {
	data, err := b.ReadFile(ctx, RepomdPath)
	if err != nil {
		return RepoMD{}, err
	}
	return ParseRepoMD(data)
}

// ParseRepoMD unmarshals repomd XML from raw bytes.
func ParseRepoMD(data []byte) (RepoMD, error) {
	var md RepoMD
	if err := xml.Unmarshal(data, &md); err != nil {
		return RepoMD{}, err
	}
	return md, nil
}

// ReadData reads and decompresses the file referenced by d without
// verifying it.
func ReadData(ctx context.Context, b backend.Backend, d RepoData) (DataFile, error) {
	if d.Location.Href == "" {
		return DataFile{}, errors.New("missing location href")
	}
	compressed, err := b.ReadFile(ctx, d.Location.Href)
	if err != nil {
		return DataFile{}, fmt.Errorf("read %s: %w", d.Location.Href, err)
	}
	uncompressed, err := Decompress(d.Location.Href, compressed)
	if err != nil {
		return DataFile{}, err
	}
	return DataFile{
		Type:         d.Type,
		Path:         d.Location.Href,
		Compressed:   compressed,
		Uncompressed: uncompressed,
	}, nil
}

// ReadAndVerify reads the file referenced by d and checks it against the
// checksums and sizes recorded in repomd.xml.
func ReadAndVerify(ctx context.Context, b backend.Backend, d RepoData) (DataFile, error) {
	if d.Checksum.Type == "" {
		return DataFile{}, errors.New("missing checksum metadata")
	}
	if !SupportedChecksum(d.Checksum.Type) {
		return DataFile{}, fmt.Errorf("unsupported checksum type %q", d.Checksum.Type)
	}
	f, err := ReadData(ctx, b, d)
	if err != nil {
		return DataFile{}, err
	}

	sum, err := ComputeChecksum(f.Compressed, d.Checksum.Type)
	if err != nil {
		return DataFile{}, err
	}
	if sum != d.Checksum.Value {
		return DataFile{}, fmt.Errorf("checksum mismatch for %s: expected %s got %s", d.Type, d.Checksum.Value, sum)
	}
	f.Checksum = sum

	if d.OpenChecksum != nil && d.OpenChecksum.Type != "" {
		openSum, err := ComputeChecksum(f.Uncompressed, d.OpenChecksum.Type)
		if err != nil {
			return DataFile{}, err
		}
		if openSum != d.OpenChecksum.Value {
			return DataFile{}, fmt.Errorf("open-checksum mismatch for %s: expected %s got %s", d.Type, d.OpenChecksum.Value, openSum)
		}
		f.OpenChecksum = openSum
	}

	if d.Size != 0 && d.Size != int64(len(f.Compressed)) {
		return DataFile{}, fmt.Errorf("%s size mismatch: repomd=%d actual=%d", d.Type, d.Size, len(f.Compressed))
	}
	if d.OpenSize != 0 && d.OpenChecksum != nil && d.OpenSize != int64(len(f.Uncompressed)) {
		return DataFile{}, fmt.Errorf("%s open-size mismatch: repomd=%d actual=%d", d.Type, d.OpenSize, len(f.Uncompressed))
	}
	return f, nil
}
