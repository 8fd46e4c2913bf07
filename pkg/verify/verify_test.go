package verify

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2llm/rpmrepo-export/pkg/faults"
	"github.com/e2llm/rpmrepo-export/pkg/inspector"
	"github.com/e2llm/rpmrepo-export/pkg/inspector/rpmtest"
	"github.com/e2llm/rpmrepo-export/pkg/logging"
	"github.com/e2llm/rpmrepo-export/pkg/sched"
)

type signer struct {
	entity *openpgp.Entity
	id     string
}

func newSigner(t *testing.T, name string) signer {
	t.Helper()
	e, err := openpgp.NewEntity(name, "", name+"@example.org", &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	require.NoError(t, err)
	return signer{entity: e, id: fmt.Sprintf("%016x", e.PrimaryKey.KeyId)}
}

func (s signer) sign(t *testing.T, msg string) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, openpgp.DetachSign(&buf, s.entity, strings.NewReader(msg), nil))
	return buf.Bytes()
}

func writePackage(t *testing.T, dir, name string, sig []byte) string {
	t.Helper()
	p := rpmtest.Package{Name: name, Version: "1.0", Release: "1.el9", Arch: "x86_64"}
	if sig != nil {
		p.Signatures = map[int][]byte{inspector.TagPGP: sig}
	}
	return rpmtest.Write(t, dir, p)
}

func TestCheckClassification(t *testing.T) {
	trusted := newSigner(t, "trusted")
	stranger := newSigner(t, "stranger")
	dir := t.TempDir()
	keys := NewKeySet(strings.ToUpper(trusted.id))

	garbage := filepath.Join(dir, "broken.rpm")
	require.NoError(t, os.WriteFile(garbage, []byte("not an rpm"), 0o644))

	tests := []struct {
		name       string
		path       string
		wantStatus Status
		wantSigner string
		wantKind   faults.Kind
	}{
		{"signed", writePackage(t, dir, "good", trusted.sign(t, "header")), Success, trusted.id, ""},
		{"unsigned", writePackage(t, dir, "bare", nil), NoSignature, "", faults.KindPolicy},
		{"untrusted", writePackage(t, dir, "other", stranger.sign(t, "header")), WrongSignature, stranger.id, faults.KindPolicy},
		{"corrupt signature", writePackage(t, dir, "mangled", []byte{0xc2, 0xff, 0x01}), ReadError, "", faults.KindDataIntegrity},
		{"unreadable", garbage, ReadError, "", faults.KindDataIntegrity},
		{"missing", filepath.Join(dir, "gone.rpm"), ReadError, "", faults.KindDataIntegrity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Check(tt.path, keys, NewSubkeys(nil))
			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantSigner, res.Signer)
			assert.Equal(t, tt.wantKind, faults.KindOf(res.Err))
			if res.Status == Success {
				assert.True(t, keys.Has(res.Signer))
			}
		})
	}
}

func TestCheckSubkeyReportsParent(t *testing.T) {
	sub := newSigner(t, "subkey")
	parent := "51D6647EC21AD6EA"
	keys := NewKeySet(parent)
	subkeys := NewSubkeys(map[string][]string{parent: {strings.ToUpper(sub.id)}})

	path := writePackage(t, t.TempDir(), "kernel", sub.sign(t, "header"))
	res := Check(path, keys, subkeys)
	assert.Equal(t, Success, res.Status)
	assert.Equal(t, strings.ToLower(parent), res.Signer)

	// A subkey of a parent outside the key set is not trusted.
	res = Check(path, NewKeySet("0000000000000001"), subkeys)
	assert.Equal(t, WrongSignature, res.Status)
	assert.Equal(t, sub.id, res.Signer)
}

func TestClassifyMultipleSignatures(t *testing.T) {
	a, b, c := newSigner(t, "a"), newSigner(t, "b"), newSigner(t, "c")
	block := append(a.sign(t, "x"), b.sign(t, "x")...)

	res := classify("pkg.rpm", block, NewKeySet(b.id), nil)
	assert.Equal(t, Success, res.Status)
	assert.Equal(t, b.id, res.Signer)

	res = classify("pkg.rpm", block, NewKeySet(c.id), nil)
	assert.Equal(t, WrongSignature, res.Status)
	assert.Equal(t, b.id, res.Signer, "last seen signer is reported")
}

// v3Signature builds an old-format version 3 signature packet issued by
// keyID, the layout rpmsign used for years.
func v3Signature(t *testing.T, keyID string) []byte {
	t.Helper()
	id, err := hex.DecodeString(keyID)
	require.NoError(t, err)
	require.Len(t, id, 8)
	body := []byte{3, 5, 0x00, 0x65, 0x5f, 0x00, 0x00}
	body = append(body, id...)
	body = append(body, 1, 8, 0xab, 0xcd, 0x00, 0x08, 0xff)
	return append([]byte{0x88, byte(len(body))}, body...)
}

func TestCheckVersion3Signature(t *testing.T) {
	dir := t.TempDir()
	path := writePackage(t, dir, "glibc", v3Signature(t, "51d6647ec21ad6ea"))

	res := Check(path, NewKeySet("51D6647EC21AD6EA"), NewSubkeys(nil))
	assert.Equal(t, Success, res.Status)
	assert.Equal(t, "51d6647ec21ad6ea", res.Signer)
	assert.NoError(t, res.Err)

	res = Check(path, NewKeySet("d36cb86cb86b3716"), NewSubkeys(nil))
	assert.Equal(t, WrongSignature, res.Status)
	assert.Equal(t, "51d6647ec21ad6ea", res.Signer)

	// A v4 packet following a v3 one is still considered.
	v4 := newSigner(t, "v4")
	block := append(v3Signature(t, "51d6647ec21ad6ea"), v4.sign(t, "header")...)
	res = classify("pkg.rpm", block, NewKeySet(v4.id), NewSubkeys(nil))
	assert.Equal(t, Success, res.Status)
	assert.Equal(t, v4.id, res.Signer)

	res = classify("pkg.rpm", []byte{0x88, 0x04, 3, 5, 0, 0}, NewKeySet(v4.id), NewSubkeys(nil))
	assert.Equal(t, ReadError, res.Status)
}

func TestLoadSubkeys(t *testing.T) {
	missing, err := LoadSubkeys(filepath.Join(t.TempDir(), "known_subkeys.json"))
	require.NoError(t, err)
	assert.Equal(t, 0, missing.Len())

	path := filepath.Join(t.TempDir(), "known_subkeys.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"51D6647EC21AD6EA": ["AAAABBBBCCCCDDDD", "1111222233334444"]}`), 0o644))
	s, err := LoadSubkeys(path)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"51d6647ec21ad6ea"}, s.Parents("aaaabbbbccccdddd"))

	require.NoError(t, os.WriteFile(path, []byte(`[not json`), 0o644))
	_, err = LoadSubkeys(path)
	assert.Error(t, err)
}

func TestVerifyDirectoryReportsNoSignature(t *testing.T) {
	trusted := newSigner(t, "trusted")
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		writePackage(t, dir, fmt.Sprintf("signed%d", i), trusted.sign(t, "h"))
	}
	bare := writePackage(t, dir, "bare", nil)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "repodata"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644))

	reportPath := filepath.Join(t.TempDir(), "export.err")
	v := New(sched.NewPool("sig", 3), NewSubkeys(nil), NewReport(reportPath), logging.Discard())
	summary := v.VerifyDirectory(context.Background(), dir, NewKeySet(trusted.id))

	assert.Equal(t, 6, summary.Checked)
	assert.Equal(t, 5, summary.Count(Success))
	require.Len(t, summary.Unsigned, 1)
	assert.Equal(t, bare, summary.Unsigned[0].Path)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "Errors when checking packages in "+dir)
	assert.Contains(t, text, "Packages without signature:\n"+bare)
	assert.NotContains(t, text, "Packages with wrong signature")
}

func TestVerifyDirectoryCleanWritesNothing(t *testing.T) {
	trusted := newSigner(t, "trusted")
	dir := t.TempDir()
	writePackage(t, dir, "one", trusted.sign(t, "h"))

	reportPath := filepath.Join(t.TempDir(), "export.err")
	v := New(sched.NewPool("sig", 2), nil, NewReport(reportPath), logging.Discard())
	summary := v.VerifyDirectory(context.Background(), dir, NewKeySet(trusted.id))
	assert.True(t, summary.Clean())
	_, err := os.Stat(reportPath)
	assert.True(t, os.IsNotExist(err))
}

func TestVerifyDirectoryMissingDir(t *testing.T) {
	v := New(sched.NewPool("sig", 2), nil, nil, logging.Discard())
	summary := v.VerifyDirectory(context.Background(), filepath.Join(t.TempDir(), "absent"), NewKeySet())
	assert.Equal(t, 0, summary.Checked)
}

func TestReportTruncatesThenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.err")
	require.NoError(t, os.WriteFile(path, []byte("stale from last run\n"), 0o644))

	r := NewReport(path)
	require.NoError(t, r.Append("first\n"))
	require.NoError(t, r.Append("second\n"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))

	require.NoError(t, r.Reset())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestReportConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.err")
	r := NewReport(path)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, r.Append(fmt.Sprintf("block-%02d\n", i)))
		}(i)
	}
	wg.Wait()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 20)
}

func TestStatusString(t *testing.T) {
	for _, st := range Statuses {
		assert.NotEqual(t, "unknown", st.String())
	}
	assert.Equal(t, "unknown", Status(42).String())
}
