package errata

import (
	"encoding/json"
	"fmt"
	"time"
)

// Date encodes as the {"$date": <unix millis>} document used by errata.json.
type Date struct {
	time.Time
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]int64{"$date": d.UnixMilli()})
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var doc struct {
		Date *int64 `json:"$date"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Date == nil {
		return fmt.Errorf("missing $date in %s", data)
	}
	d.Time = time.UnixMilli(*doc.Date).UTC()
	return nil
}

// Record is the legacy errata.json shape.
type Record struct {
	UpdateinfoID string       `json:"updateinfo_id"`
	Type         string       `json:"type"`
	Status       string       `json:"status"`
	Version      string       `json:"version"`
	From         string       `json:"fromstr"`
	Title        string       `json:"title"`
	Severity     string       `json:"severity"`
	Rights       string       `json:"rights"`
	Release      string       `json:"release"`
	Pushcount    string       `json:"pushcount"`
	Summary      string       `json:"summary"`
	Description  string       `json:"description"`
	Solution     string       `json:"solution"`
	IssuedDate   Date         `json:"issued_date"`
	UpdatedDate  Date         `json:"updated_date"`
	References   []Reference  `json:"references"`
	Pkglist      []Collection `json:"pkglist"`
}

type Reference struct {
	Href  string `json:"href"`
	RefID string `json:"ref_id"`
	Type  string `json:"ref_type"`
	Title string `json:"title"`
}

type Collection struct {
	Name      string    `json:"name"`
	Shortname string    `json:"shortname"`
	Module    *Module   `json:"module,omitempty"`
	Packages  []Package `json:"packages"`
}

type Package struct {
	Name            string `json:"name"`
	Epoch           string `json:"epoch"`
	Version         string `json:"version"`
	Release         string `json:"release"`
	Arch            string `json:"arch"`
	Src             string `json:"src"`
	Filename        string `json:"filename"`
	Sum             string `json:"sum"`
	SumType         string `json:"sum_type"`
	RebootSuggested bool   `json:"reboot_suggested"`
}

type Module struct {
	Name    string `json:"name"`
	Stream  string `json:"stream"`
	Version string `json:"version"`
	Context string `json:"context"`
	Arch    string `json:"arch"`
}

// ModernRecord is the flattened errata.full.json shape; dates are unix
// seconds.
type ModernRecord struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Title       string            `json:"title"`
	Severity    string            `json:"severity"`
	Description string            `json:"description"`
	IssuedDate  int64             `json:"issued_date"`
	UpdatedDate int64             `json:"updated_date"`
	References  []ModernReference `json:"references"`
	Packages    []ModernPackage   `json:"packages"`
	Modules     []Module          `json:"modules"`
}

type ModernReference struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Href string `json:"href"`
}

type ModernPackage struct {
	Name            string `json:"name"`
	Epoch           string `json:"epoch"`
	Version         string `json:"version"`
	Release         string `json:"release"`
	Arch            string `json:"arch"`
	Filename        string `json:"filename"`
	Checksum        string `json:"checksum"`
	ChecksumType    string `json:"checksum_type"`
	RebootSuggested bool   `json:"reboot_suggested"`
}

// EVR formats the package version as [epoch:]version-release.
func (p ModernPackage) EVR() string {
	if p.Epoch != "" && p.Epoch != "0" {
		return p.Epoch + ":" + p.Version + "-" + p.Release
	}
	return p.Version + "-" + p.Release
}
