package inspector

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/cavaliergopher/rpm"

	"github.com/e2llm/rpmrepo-export/pkg/inspector/rpmtest"
)

func TestSignatureSlotOrder(t *testing.T) {
	tests := []struct {
		name    string
		tags    map[int][]byte
		wantTag int
		want    string
	}{
		{"none", nil, 0, ""},
		{"pgp only", map[int][]byte{TagPGP: []byte("pgp")}, TagPGP, "pgp"},
		{"gpg wins over pgp", map[int][]byte{TagPGP: []byte("pgp"), TagGPG: []byte("gpg")}, TagGPG, "gpg"},
		{"empty gpg skipped", map[int][]byte{TagGPG: {}, TagPGP: []byte("pgp")}, TagPGP, "pgp"},
		{"header-only rsa", map[int][]byte{TagRSA: []byte("rsa"), TagDSA: []byte("dsa")}, TagRSA, "rsa"},
		{"header-only dsa", map[int][]byte{TagDSA: []byte("dsa")}, TagDSA, "dsa"},
	}
	for _, tt := range tests {
		h := &rpm.Header{Tags: map[int]*rpm.Tag{}}
		for id, v := range tt.tags {
			h.Tags[id] = &rpm.Tag{ID: id, Type: rpm.TagTypeBinary, Value: v}
		}
		gotTag, got := signatureFrom(h)
		if gotTag != tt.wantTag || string(got) != tt.want {
			t.Errorf("%s: signatureFrom = (%d, %q), want (%d, %q)", tt.name, gotTag, got, tt.wantTag, tt.want)
		}
	}
}

func TestReadFixture(t *testing.T) {
	data := rpmtest.Package{
		Name:       "bash",
		Version:    "5.1.8",
		Release:    "9.el9",
		Arch:       "x86_64",
		Signatures: map[int][]byte{TagPGP: []byte{0x89, 0x01}},
	}.Bytes()

	h, err := Read(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if h.NEVRA() != "bash-5.1.8-9.el9.x86_64" {
		t.Fatalf("unexpected NEVRA %s", h.NEVRA())
	}
	if h.SignatureTag != TagPGP || !bytes.Equal(h.Signature, []byte{0x89, 0x01}) {
		t.Fatalf("unexpected signature slot %d %x", h.SignatureTag, h.Signature)
	}
}

func TestReadFileUnsigned(t *testing.T) {
	dir := t.TempDir()
	path := rpmtest.Write(t, dir, rpmtest.Package{Name: "zlib", Version: "1.2.11", Release: "40.el9", Arch: "x86_64"})

	h, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if h.Signature != nil {
		t.Fatalf("expected no signature, got %x", h.Signature)
	}
}

func TestReadInvalidData(t *testing.T) {
	if _, err := Read(bytes.NewReader([]byte("not a valid RPM file"))); err == nil {
		t.Error("Read should return error for invalid RPM data")
	}
	if _, err := Read(bytes.NewReader(nil)); err == nil {
		t.Error("Read should return error for empty RPM data")
	}
}

func TestReadFileMissing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.rpm")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNEVRAWithEpoch(t *testing.T) {
	h := Header{Name: "perl", Epoch: 4, Version: "5.32.1", Release: "480.el9", Arch: "x86_64"}
	if h.NEVRA() != "perl-4:5.32.1-480.el9.x86_64" {
		t.Fatalf("unexpected NEVRA %s", h.NEVRA())
	}
}
