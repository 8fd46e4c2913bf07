package verify

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// KeySet holds lower-cased key ids trusted for one platform.
type KeySet map[string]struct{}

func NewKeySet(ids ...string) KeySet {
	ks := make(KeySet, len(ids))
	for _, id := range ids {
		ks[strings.ToLower(id)] = struct{}{}
	}
	return ks
}

func (k KeySet) Has(id string) bool {
	_, ok := k[strings.ToLower(id)]
	return ok
}

// Subkeys maps a subkey id to the parent keys that delegated to it.
type Subkeys struct {
	parents map[string][]string
}

// NewSubkeys inverts a parent -> subkeys table.
func NewSubkeys(byParent map[string][]string) *Subkeys {
	s := &Subkeys{parents: make(map[string][]string)}
	for parent, subs := range byParent {
		parent = strings.ToLower(parent)
		for _, sub := range subs {
			sub = strings.ToLower(sub)
			s.parents[sub] = append(s.parents[sub], parent)
		}
	}
	return s
}

// LoadSubkeys reads the known subkeys file, a JSON object of
// {"<parent keyid>": ["<subkey id>", ...]}. A missing file yields an empty
// table.
func LoadSubkeys(path string) (*Subkeys, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewSubkeys(nil), nil
	}
	if err != nil {
		return nil, err
	}
	var byParent map[string][]string
	if err := json.Unmarshal(data, &byParent); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return NewSubkeys(byParent), nil
}

// Parents returns the parent keys of subkey.
func (s *Subkeys) Parents(subkey string) []string {
	if s == nil {
		return nil
	}
	return s.parents[strings.ToLower(subkey)]
}

// Len reports the number of known subkeys.
func (s *Subkeys) Len() int {
	if s == nil {
		return 0
	}
	return len(s.parents)
}
