package errata

import (
	"sort"
)

// PlatformCache holds the deduplicated advisories of one platform keyed by
// advisory id. It is not safe for concurrent use; Engine confines every
// cache to its merge goroutine.
type PlatformCache struct {
	Platform string
	legacy   map[string]Record
	modern   map[string]ModernRecord
}

func NewPlatformCache(platform string) *PlatformCache {
	return &PlatformCache{
		Platform: platform,
		legacy:   make(map[string]Record),
		modern:   make(map[string]ModernRecord),
	}
}

// Merge folds one repository's advisories into the cache. A record is
// inserted when its id is new and replaces the cached one only when its
// updated date is strictly later, compared in whole seconds for both
// shapes.
func (c *PlatformCache) Merge(legacy []Record, modern []ModernRecord) {
	for _, r := range legacy {
		cur, ok := c.legacy[r.UpdateinfoID]
		if !ok || r.UpdatedDate.Unix() > cur.UpdatedDate.Unix() {
			c.legacy[r.UpdateinfoID] = r
		}
	}
	for _, r := range modern {
		cur, ok := c.modern[r.ID]
		if !ok || r.UpdatedDate > cur.UpdatedDate {
			c.modern[r.ID] = r
		}
	}
}

func (c *PlatformCache) Len() int { return len(c.modern) }

// Legacy returns the cached legacy records ordered by id.
func (c *PlatformCache) Legacy() []Record {
	out := make([]Record, 0, len(c.legacy))
	for _, r := range c.legacy {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdateinfoID < out[j].UpdateinfoID })
	return out
}

// Modern returns the cached modern records ordered by id.
func (c *PlatformCache) Modern() []ModernRecord {
	out := make([]ModernRecord, 0, len(c.modern))
	for _, r := range c.modern {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the cached modern record for id.
func (c *PlatformCache) Get(id string) (ModernRecord, bool) {
	r, ok := c.modern[id]
	return r, ok
}
