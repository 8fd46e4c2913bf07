package metadata_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/e2llm/rpmrepo-export/pkg/backend"
	"github.com/e2llm/rpmrepo-export/pkg/metadata"
	"github.com/e2llm/rpmrepo-export/pkg/metadata/metadatatest"
)

func TestCheckValidRepodata(t *testing.T) {
	dir := t.TempDir()
	docs := metadatatest.EmptyCore()
	docs["updateinfo"] = []byte(`<updates></updates>`)
	metadatatest.WriteRepodata(t, dir, docs)

	res := metadata.Check(context.Background(), backend.NewFSBackend(dir))
	if res.Err != nil {
		t.Fatalf("Check: %v", res.Err)
	}
	if len(res.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", res.Warnings)
	}
}

func TestCheckDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	md := metadatatest.WriteRepodata(t, dir, metadatatest.EmptyCore())
	primary := md.Find("primary")
	if primary == nil {
		t.Fatal("fixture has no primary entry")
	}
	if err := os.WriteFile(filepath.Join(dir, primary.Location.Href), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	res := metadata.Check(context.Background(), backend.NewFSBackend(dir))
	if res.Err == nil {
		t.Fatal("expected checksum error")
	}
	if !strings.Contains(res.Err.Error(), "primary") {
		t.Fatalf("error should name primary: %v", res.Err)
	}
}

func TestCheckMissingCoreType(t *testing.T) {
	dir := t.TempDir()
	docs := metadatatest.EmptyCore()
	delete(docs, "other")
	metadatatest.WriteRepodata(t, dir, docs)

	res := metadata.Check(context.Background(), backend.NewFSBackend(dir))
	if res.Err == nil || !strings.Contains(res.Err.Error(), "missing other metadata") {
		t.Fatalf("expected missing other error, got %v", res.Err)
	}
}

func TestCheckMissingRepomd(t *testing.T) {
	res := metadata.Check(context.Background(), backend.NewFSBackend(t.TempDir()))
	if res.Err == nil {
		t.Fatal("expected error for missing repomd.xml")
	}
}

func TestFindAndRoundTrip(t *testing.T) {
	md := metadata.RepoMD{
		Revision: "1",
		Data: []metadata.RepoData{
			{Type: "primary", Location: metadata.Location{Href: "repodata/p.xml.gz"}},
			{Type: "updateinfo", Location: metadata.Location{Href: "repodata/u.xml.xz"}},
		},
	}
	out, err := metadata.MarshalRepoMD(md)
	if err != nil {
		t.Fatalf("MarshalRepoMD: %v", err)
	}
	parsed, err := metadata.ParseRepoMD(out)
	if err != nil {
		t.Fatalf("ParseRepoMD: %v", err)
	}
	if parsed.Xmlns != metadata.RepoNamespace {
		t.Fatalf("namespace not set: %q", parsed.Xmlns)
	}
	if d := parsed.Find("updateinfo"); d == nil || d.Location.Href != "repodata/u.xml.xz" {
		t.Fatalf("unexpected updateinfo entry: %+v", d)
	}
	if parsed.Find("modules") != nil {
		t.Fatal("expected nil for absent type")
	}
}

func TestComputeChecksum(t *testing.T) {
	tests := []struct {
		alg     string
		wantLen int
		wantErr bool
	}{
		{"sha", 40, false},
		{"sha1", 40, false},
		{"sha256", 64, false},
		{"SHA512", 128, false},
		{"md5", 0, true},
	}
	for _, tt := range tests {
		sum, err := metadata.ComputeChecksum([]byte("repomd"), tt.alg)
		if (err != nil) != tt.wantErr {
			t.Errorf("ComputeChecksum(%q) error = %v, wantErr %v", tt.alg, err, tt.wantErr)
			continue
		}
		if len(sum) != tt.wantLen {
			t.Errorf("ComputeChecksum(%q) length = %d, want %d", tt.alg, len(sum), tt.wantLen)
		}
	}
}

func TestDecompressVariants(t *testing.T) {
	payload := []byte("<updates><update/></updates>")

	var xzBuf bytes.Buffer
	xw, err := xz.NewWriter(&xzBuf)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}
	if _, err := xw.Write(payload); err != nil {
		t.Fatalf("xz write: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("xz close: %v", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	zstBytes := enc.EncodeAll(payload, nil)
	_ = enc.Close()

	tests := []struct {
		name string
		data []byte
	}{
		{"updateinfo.xml", payload},
		{"abc-updateinfo.xml.xz", xzBuf.Bytes()},
		{"abc-updateinfo.xml.zst", zstBytes},
	}
	for _, tt := range tests {
		got, err := metadata.Decompress(tt.name, tt.data)
		if err != nil {
			t.Errorf("Decompress(%s): %v", tt.name, err)
			continue
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("Decompress(%s) = %q", tt.name, got)
		}
	}

	if _, err := metadata.Decompress("bad.xml.gz", []byte("not gzip")); err == nil {
		t.Error("expected error for corrupt gzip")
	}
}

func TestTrimCompression(t *testing.T) {
	tests := map[string]string{
		"updateinfo.xml.gz":  "updateinfo.xml",
		"UPDATEINFO.XML.BZ2": "UPDATEINFO.XML",
		"updateinfo.xml.zst": "updateinfo.xml",
		"updateinfo.xml":     "updateinfo.xml",
	}
	for in, want := range tests {
		if got := metadata.TrimCompression(in); got != want {
			t.Errorf("TrimCompression(%q) = %q, want %q", in, got, want)
		}
	}
}
