// Package metadatatest writes repodata fixtures for tests.
package metadatatest

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/e2llm/rpmrepo-export/pkg/metadata"
)

// EmptyCore returns uncompressed primary, filelists and other documents
// describing zero packages.
func EmptyCore() map[string][]byte {
	return map[string][]byte{
		"primary":   []byte(xmlHeader + `<metadata xmlns="http://linux.duke.edu/metadata/common" xmlns:rpm="http://linux.duke.edu/metadata/rpm" packages="0"></metadata>`),
		"filelists": []byte(xmlHeader + `<filelists xmlns="http://linux.duke.edu/metadata/filelists" packages="0"></filelists>`),
		"other":     []byte(xmlHeader + `<otherdata xmlns="http://linux.duke.edu/metadata/other" packages="0"></otherdata>`),
	}
}

const xmlHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// WriteRepodata gzips every document, writes it to <repoDir>/repodata with a
// checksum-prefixed name and writes a matching repomd.xml.
func WriteRepodata(t testing.TB, repoDir string, docs map[string][]byte) metadata.RepoMD {
	t.Helper()
	dir := filepath.Join(repoDir, "repodata")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir repodata: %v", err)
	}
	types := make([]string, 0, len(docs))
	for typ := range docs {
		types = append(types, typ)
	}
	sort.Strings(types)

	now := time.Now().Unix()
	md := metadata.RepoMD{Revision: fmt.Sprintf("%d", now)}
	for _, typ := range types {
		raw := docs[typ]
		compressed := gzipBytes(t, raw)
		sum, err := metadata.ComputeChecksum(compressed, "sha256")
		if err != nil {
			t.Fatalf("checksum: %v", err)
		}
		openSum, err := metadata.ComputeChecksum(raw, "sha256")
		if err != nil {
			t.Fatalf("checksum: %v", err)
		}
		href := fmt.Sprintf("repodata/%s-%s.xml.gz", sum, typ)
		if err := os.WriteFile(filepath.Join(repoDir, filepath.FromSlash(href)), compressed, 0o644); err != nil {
			t.Fatalf("write %s: %v", href, err)
		}
		md.Data = append(md.Data, metadata.RepoData{
			Type:         typ,
			Checksum:     metadata.Checksum{Type: "sha256", Value: sum},
			OpenChecksum: &metadata.Checksum{Type: "sha256", Value: openSum},
			Location:     metadata.Location{Href: href},
			Timestamp:    now,
			Size:         int64(len(compressed)),
			OpenSize:     int64(len(raw)),
		})
	}
	out, err := metadata.MarshalRepoMD(md)
	if err != nil {
		t.Fatalf("marshal repomd: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "repomd.xml"), out, 0o644); err != nil {
		t.Fatalf("write repomd.xml: %v", err)
	}
	return md
}

func gzipBytes(t testing.TB, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(content); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	return buf.Bytes()
}
