package errata

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"
)

// LegacyJSON renders errata.json.
func LegacyJSON(c *PlatformCache) ([]byte, error) {
	return json.Marshal(c.Legacy())
}

// ModernJSON renders errata.full.json.
func ModernJSON(c *PlatformCache) ([]byte, error) {
	return json.Marshal(struct {
		Data []ModernRecord `json:"data"`
	}{Data: c.Modern()})
}

// CheckID rejects advisory ids that cannot be used as an output file name.
func CheckID(id string) error {
	switch {
	case id == "":
		return errors.New("update without id")
	case strings.ContainsAny(id, "/\\") || strings.Contains(id, ".."):
		return fmt.Errorf("advisory id %q is not a valid file name", id)
	}
	return nil
}

// HTMLName is the page name of an advisory; colons are not portable in
// file names or URLs.
func HTMLName(id string) string {
	return strings.ReplaceAll(id, ":", "-") + ".html"
}

// FeedOptions describes the RSS channel.
type FeedOptions struct {
	Site        string
	AuthorName  string
	AuthorEmail string
	Limit       int
}

// DefaultFeedOptions matches errata.almalinux.org.
func DefaultFeedOptions() FeedOptions {
	return FeedOptions{
		Site:        "https://errata.almalinux.org",
		AuthorName:  "AlmaLinux Team",
		AuthorEmail: "packager@almalinux.org",
		Limit:       500,
	}
}

type rssDoc struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Content string     `xml:"xmlns:content,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title          string    `xml:"title"`
	Link           string    `xml:"link"`
	Description    string    `xml:"description"`
	ManagingEditor string    `xml:"managingEditor"`
	LastBuildDate  string    `xml:"lastBuildDate"`
	Items          []rssItem `xml:"item"`
}

type rssItem struct {
	Title   string   `xml:"title"`
	Link    string   `xml:"link"`
	GUID    string   `xml:"guid"`
	Content rssCDATA `xml:"content:encoded"`
	PubDate string   `xml:"pubDate"`
}

type rssCDATA struct {
	Text string `xml:",cdata"`
}

// RSS renders the platform feed with the newest advisories by updated date.
// platform is expected in the AlmaLinux-<n> form.
func RSS(platform string, c *PlatformCache, opts FeedOptions, now time.Time) ([]byte, error) {
	dist := strings.ReplaceAll(platform, "-", " ")
	version := platform[strings.LastIndex(platform, "-")+1:]

	records := c.Modern()
	sort.SliceStable(records, func(i, j int) bool { return records[i].UpdatedDate > records[j].UpdatedDate })
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}

	doc := rssDoc{
		Version: "2.0",
		Content: "http://purl.org/rss/1.0/modules/content/",
		Channel: rssChannel{
			Title:          "Errata Feed for " + dist,
			Link:           opts.Site,
			Description:    "Errata Feed for " + dist,
			ManagingEditor: fmt.Sprintf("%s (%s)", opts.AuthorEmail, opts.AuthorName),
			LastBuildDate:  now.UTC().Format(time.RFC1123Z),
		},
	}
	for _, r := range records {
		link := fmt.Sprintf("%s/%s/%s", strings.TrimRight(opts.Site, "/"), version, HTMLName(r.ID))
		doc.Channel.Items = append(doc.Channel.Items, rssItem{
			Title:   fmt.Sprintf("[%s] %s", r.ID, r.Title),
			Link:    link,
			GUID:    link,
			Content: rssCDATA{Text: "<pre>" + r.Description + "</pre>"},
			PubDate: time.Unix(r.UpdatedDate, 0).UTC().Format(time.RFC1123Z),
		})
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

var pageTemplate = template.Must(template.New("errata").Funcs(template.FuncMap{
	"date": func(sec int64) string { return time.Unix(sec, 0).UTC().Format("2006-01-02") },
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.ID}}: {{.Title}}</title>
</head>
<body>
<h1>{{.ID}}</h1>
<h2>{{.Title}}</h2>
<table>
<tr><th>Type</th><td>{{.Type}}</td></tr>
<tr><th>Severity</th><td>{{.Severity}}</td></tr>
<tr><th>Issued</th><td>{{date .IssuedDate}}</td></tr>
<tr><th>Updated</th><td>{{date .UpdatedDate}}</td></tr>
</table>
<h3>Description</h3>
<pre>{{.Description}}</pre>
{{- if .References}}
<h3>References</h3>
<ul>
{{- range .References}}
<li><a href="{{.Href}}">{{.ID}}</a> ({{.Type}})</li>
{{- end}}
</ul>
{{- end}}
{{- if .Packages}}
<h3>Updated packages</h3>
<ul>
{{- range .Packages}}
<li>{{.Filename}}{{if .Checksum}} <code>{{.ChecksumType}}:{{.Checksum}}</code>{{end}}</li>
{{- end}}
</ul>
{{- end}}
</body>
</html>
`))

// HTMLPage renders the advisory page.
func HTMLPage(r ModernRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// OSVDir is the directory name of a platform's OSV documents, AlmaLinux-9
// becoming almalinux9.
func OSVDir(platform string) string {
	return strings.ReplaceAll(strings.ToLower(platform), "-", "")
}

// Ecosystem is the OSV ecosystem of a platform, AlmaLinux-9 becoming
// AlmaLinux:9.
func Ecosystem(platform string) string {
	if i := strings.LastIndex(platform, "-"); i > 0 {
		return platform[:i] + ":" + platform[i+1:]
	}
	return platform
}

// OSV is the subset of the OSV schema the exporter emits.
type OSV struct {
	SchemaVersion string         `json:"schema_version"`
	ID            string         `json:"id"`
	Modified      string         `json:"modified"`
	Published     string         `json:"published"`
	Summary       string         `json:"summary"`
	Details       string         `json:"details"`
	Related       []string       `json:"related,omitempty"`
	Affected      []OSVAffected  `json:"affected"`
	References    []OSVReference `json:"references,omitempty"`
}

type OSVAffected struct {
	Package OSVPackage `json:"package"`
	Ranges  []OSVRange `json:"ranges"`
}

type OSVPackage struct {
	Ecosystem string `json:"ecosystem"`
	Name      string `json:"name"`
}

type OSVRange struct {
	Type   string     `json:"type"`
	Events []OSVEvent `json:"events"`
}

type OSVEvent struct {
	Introduced string `json:"introduced,omitempty"`
	Fixed      string `json:"fixed,omitempty"`
}

type OSVReference struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// ToOSV converts an advisory. Packages are deduplicated by name and fixed
// version; source packages are skipped.
func ToOSV(r ModernRecord, platform string) OSV {
	ecosystem := Ecosystem(platform)
	doc := OSV{
		SchemaVersion: "1.6.0",
		ID:            r.ID,
		Modified:      time.Unix(r.UpdatedDate, 0).UTC().Format(time.RFC3339),
		Published:     time.Unix(r.IssuedDate, 0).UTC().Format(time.RFC3339),
		Summary:       r.Title,
		Details:       r.Description,
		Affected:      []OSVAffected{},
	}
	seen := make(map[string]bool)
	for _, p := range r.Packages {
		if p.Arch == "src" {
			continue
		}
		key := p.Name + "\x00" + p.EVR()
		if seen[key] {
			continue
		}
		seen[key] = true
		doc.Affected = append(doc.Affected, OSVAffected{
			Package: OSVPackage{Ecosystem: ecosystem, Name: p.Name},
			Ranges: []OSVRange{{
				Type:   "ECOSYSTEM",
				Events: []OSVEvent{{Introduced: "0"}, {Fixed: p.EVR()}},
			}},
		})
	}
	for _, ref := range r.References {
		switch strings.ToLower(ref.Type) {
		case "cve":
			doc.Related = append(doc.Related, ref.ID)
			doc.References = append(doc.References, OSVReference{Type: "REPORT", URL: ref.Href})
		case "self":
			doc.References = append(doc.References, OSVReference{Type: "ADVISORY", URL: ref.Href})
		default:
			if ref.Href != "" {
				doc.References = append(doc.References, OSVReference{Type: "WEB", URL: ref.Href})
			}
		}
	}
	return doc
}
