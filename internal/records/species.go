package records

import "strings"

// SpeciesSet is an immutable allow-list of taxonomy identifiers such as
// "TAX:9606". The zero value allows every species.
type SpeciesSet struct {
	ids map[string]struct{}
}

// NewSpeciesSet builds an allow-list from ids. Blank entries are ignored.
func NewSpeciesSet(ids ...string) SpeciesSet {
	set := SpeciesSet{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if set.ids == nil {
			set.ids = make(map[string]struct{}, len(ids))
		}
		set.ids[id] = struct{}{}
	}
	return set
}

// Empty reports whether the set imposes no filtering.
func (s SpeciesSet) Empty() bool {
	return len(s.ids) == 0
}

// Allows reports whether taxID passes the filter. An empty set and an empty
// taxID always pass.
func (s SpeciesSet) Allows(taxID string) bool {
	if s.Empty() || taxID == "" {
		return true
	}
	_, ok := s.ids[taxID]
	return ok
}

// Len returns the number of species in the set.
func (s SpeciesSet) Len() int {
	return len(s.ids)
}
