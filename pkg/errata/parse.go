package errata

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/e2llm/rpmrepo-export/pkg/backend"
	"github.com/e2llm/rpmrepo-export/pkg/faults"
	"github.com/e2llm/rpmrepo-export/pkg/metadata"
)

type xmlUpdate struct {
	From      string         `xml:"from,attr"`
	Status    string         `xml:"status,attr"`
	Type      string         `xml:"type,attr"`
	Version   string         `xml:"version,attr"`
	ID        string         `xml:"id"`
	Title     string         `xml:"title"`
	Issued    xmlDate        `xml:"issued"`
	Updated   xmlDate        `xml:"updated"`
	Rights    string         `xml:"rights"`
	Release   string         `xml:"release"`
	Pushcount string         `xml:"pushcount"`
	Severity  string         `xml:"severity"`
	Summary   string         `xml:"summary"`
	Desc      string         `xml:"description"`
	Solution  string         `xml:"solution"`
	Refs      []xmlReference `xml:"references>reference"`
	Colls     []xmlColl      `xml:"pkglist>collection"`
}

type xmlDate struct {
	Date string `xml:"date,attr"`
}

type xmlReference struct {
	Href  string `xml:"href,attr"`
	ID    string `xml:"id,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

type xmlColl struct {
	Short    string       `xml:"short,attr"`
	Name     string       `xml:"name"`
	Module   *xmlModule   `xml:"module"`
	Packages []xmlPackage `xml:"package"`
}

type xmlModule struct {
	Name    string `xml:"name,attr"`
	Stream  string `xml:"stream,attr"`
	Version string `xml:"version,attr"`
	Context string `xml:"context,attr"`
	Arch    string `xml:"arch,attr"`
}

type xmlPackage struct {
	Name     string `xml:"name,attr"`
	Epoch    string `xml:"epoch,attr"`
	Version  string `xml:"version,attr"`
	Release  string `xml:"release,attr"`
	Arch     string `xml:"arch,attr"`
	Src      string `xml:"src,attr"`
	Filename string `xml:"filename"`
	Sum      struct {
		Type  string `xml:"type,attr"`
		Value string `xml:",chardata"`
	} `xml:"sum"`
	Reboot *string `xml:"reboot_suggested"`
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05 UTC",
	time.RFC3339,
	"2006-01-02",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func rebootSuggested(v *string) bool {
	if v == nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(*v)) {
	case "", "true", "1", "yes":
		return true
	}
	return false
}

// convert builds both record shapes from one parsed update.
func convert(u xmlUpdate) (Record, ModernRecord, error) {
	id := strings.TrimSpace(u.ID)
	if err := CheckID(id); err != nil {
		return Record{}, ModernRecord{}, err
	}
	issued, err := parseDate(u.Issued.Date)
	if err != nil {
		return Record{}, ModernRecord{}, fmt.Errorf("%s issued: %w", id, err)
	}
	updated := issued
	if u.Updated.Date != "" {
		if updated, err = parseDate(u.Updated.Date); err != nil {
			return Record{}, ModernRecord{}, fmt.Errorf("%s updated: %w", id, err)
		}
	}

	legacy := Record{
		UpdateinfoID: id,
		Type:         u.Type,
		Status:       u.Status,
		Version:      u.Version,
		From:         u.From,
		Title:        strings.TrimSpace(u.Title),
		Severity:     u.Severity,
		Rights:       u.Rights,
		Release:      u.Release,
		Pushcount:    u.Pushcount,
		Summary:      u.Summary,
		Description:  u.Desc,
		Solution:     u.Solution,
		IssuedDate:   Date{issued},
		UpdatedDate:  Date{updated},
		References:   []Reference{},
		Pkglist:      []Collection{},
	}
	modern := ModernRecord{
		ID:          id,
		Type:        u.Type,
		Title:       legacy.Title,
		Severity:    u.Severity,
		Description: u.Desc,
		IssuedDate:  issued.Unix(),
		UpdatedDate: updated.Unix(),
		References:  []ModernReference{},
		Packages:    []ModernPackage{},
		Modules:     []Module{},
	}
	for _, r := range u.Refs {
		legacy.References = append(legacy.References, Reference{Href: r.Href, RefID: r.ID, Type: r.Type, Title: r.Title})
		modern.References = append(modern.References, ModernReference{ID: r.ID, Type: r.Type, Href: r.Href})
	}
	for _, c := range u.Colls {
		coll := Collection{Name: c.Name, Shortname: c.Short, Packages: []Package{}}
		if c.Module != nil {
			m := Module(*c.Module)
			coll.Module = &m
			modern.Modules = append(modern.Modules, m)
		}
		for _, p := range c.Packages {
			reboot := rebootSuggested(p.Reboot)
			coll.Packages = append(coll.Packages, Package{
				Name: p.Name, Epoch: p.Epoch, Version: p.Version, Release: p.Release, Arch: p.Arch,
				Src: p.Src, Filename: p.Filename, Sum: p.Sum.Value, SumType: p.Sum.Type,
				RebootSuggested: reboot,
			})
			modern.Packages = append(modern.Packages, ModernPackage{
				Name: p.Name, Epoch: p.Epoch, Version: p.Version, Release: p.Release, Arch: p.Arch,
				Filename: p.Filename, Checksum: p.Sum.Value, ChecksumType: p.Sum.Type,
				RebootSuggested: reboot,
			})
		}
		legacy.Pkglist = append(legacy.Pkglist, coll)
	}
	return legacy, modern, nil
}

// Parse streams an updateinfo document and returns both record shapes.
func Parse(r io.Reader) ([]Record, []ModernRecord, error) {
	var legacy []Record
	var modern []ModernRecord
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, faults.Parse(err, "decode updateinfo")
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "update" {
			continue
		}
		var u xmlUpdate
		if err := dec.DecodeElement(&u, &start); err != nil {
			return nil, nil, faults.Parse(err, "decode update")
		}
		l, m, err := convert(u)
		if err != nil {
			return nil, nil, faults.Parse(err, "convert update")
		}
		legacy = append(legacy, l)
		modern = append(modern, m)
	}
	return legacy, modern, nil
}

// FindUpdateinfo returns the updateinfo file of repoDir relative to it, or
// "" when the repository has none. repomd.xml is consulted first; without
// it the repodata directory is scanned for any compression or case variant.
func FindUpdateinfo(ctx context.Context, repoDir string) (string, error) {
	md, err := metadata.LoadRepoMD(ctx, backend.NewFSBackend(repoDir))
	if err == nil {
		if d := md.Find("updateinfo"); d != nil && d.Location.Href != "" {
			return d.Location.Href, nil
		}
		return "", nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", faults.Parse(err, "read repomd.xml")
	}
	entries, err := os.ReadDir(filepath.Join(repoDir, "repodata"))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(metadata.TrimCompression(e.Name())), "updateinfo.xml") {
			return "repodata/" + e.Name(), nil
		}
	}
	return "", nil
}

// Extract parses the advisories of the repository at repoDir. A repository
// without updateinfo yields no records and no error.
func Extract(ctx context.Context, repoDir string) ([]Record, []ModernRecord, error) {
	rel, err := FindUpdateinfo(ctx, repoDir)
	if err != nil || rel == "" {
		return nil, nil, err
	}
	f, err := os.Open(filepath.Join(repoDir, filepath.FromSlash(rel)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	r, err := metadata.Open(rel, f)
	if err != nil {
		return nil, nil, faults.Parse(err, "open "+rel)
	}
	defer r.Close()
	return Parse(r)
}
