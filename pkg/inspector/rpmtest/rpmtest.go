// Package rpmtest assembles minimal RPM files (lead plus signature and main
// headers, no payload) for tests.
package rpmtest

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

const (
	typeInt32  = 4
	typeString = 6
	typeBinary = 7
)

// Package describes the fixture to build.
type Package struct {
	Name    string
	Version string
	Release string
	Arch    string
	// Signatures maps a signature header tag (e.g. 1002) to its raw
	// OpenPGP packet bytes.
	Signatures map[int][]byte
}

type entry struct {
	tag   int
	typ   uint32
	value []byte
	count uint32
}

// Bytes encodes p as an RPM file.
func (p Package) Bytes() []byte {
	var buf bytes.Buffer
	buf.Write(lead(p.Name))

	sigEntries := []entry{int32Entry(1000, 0)}
	for tag, sig := range p.Signatures {
		sigEntries = append(sigEntries, entry{tag: tag, typ: typeBinary, value: sig, count: uint32(len(sig))})
	}
	buf.Write(header(sigEntries, true))

	buf.Write(header([]entry{
		stringEntry(1000, p.Name),
		stringEntry(1001, p.Version),
		stringEntry(1002, p.Release),
		stringEntry(1022, p.Arch),
	}, false))
	return buf.Bytes()
}

// Write stores p as dir/<name>-<version>-<release>.<arch>.rpm and returns
// the path.
func Write(t testing.TB, dir string, p Package) string {
	t.Helper()
	path := filepath.Join(dir, p.Name+"-"+p.Version+"-"+p.Release+"."+p.Arch+".rpm")
	if err := os.WriteFile(path, p.Bytes(), 0o644); err != nil {
		t.Fatalf("write rpm fixture: %v", err)
	}
	return path
}

func lead(name string) []byte {
	out := make([]byte, 96)
	copy(out, []byte{0xED, 0xAB, 0xEE, 0xDB, 3, 0})
	binary.BigEndian.PutUint16(out[8:], 1)
	copy(out[10:76], name)
	binary.BigEndian.PutUint16(out[76:], 1)
	binary.BigEndian.PutUint16(out[78:], 5)
	return out
}

func int32Entry(tag int, v uint32) entry {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return entry{tag: tag, typ: typeInt32, value: b, count: 1}
}

func stringEntry(tag int, v string) entry {
	return entry{tag: tag, typ: typeString, value: append([]byte(v), 0), count: 1}
}

func header(entries []entry, pad bool) []byte {
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	var store bytes.Buffer
	index := make([]byte, 0, 16*len(entries))
	for _, e := range entries {
		if e.typ == typeInt32 {
			for store.Len()%4 != 0 {
				store.WriteByte(0)
			}
		}
		rec := make([]byte, 16)
		binary.BigEndian.PutUint32(rec[0:], uint32(e.tag))
		binary.BigEndian.PutUint32(rec[4:], e.typ)
		binary.BigEndian.PutUint32(rec[8:], uint32(store.Len()))
		binary.BigEndian.PutUint32(rec[12:], e.count)
		index = append(index, rec...)
		store.Write(e.value)
	}

	var out bytes.Buffer
	out.Write([]byte{0x8E, 0xAD, 0xE8, 0x01, 0, 0, 0, 0})
	n := make([]byte, 8)
	binary.BigEndian.PutUint32(n[0:], uint32(len(entries)))
	binary.BigEndian.PutUint32(n[4:], uint32(store.Len()))
	out.Write(n)
	out.Write(index)
	out.Write(store.Bytes())
	if pad {
		for out.Len()%8 != 0 {
			out.WriteByte(0)
		}
	}
	return out.Bytes()
}
