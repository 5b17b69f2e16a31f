package models

import "sort"

// ParticipantFilter restricts a scan to a set of participant ids. A nil filter means "all".
type ParticipantFilter map[string]struct{}

// NewParticipantFilter builds a filter from ids. No ids yields the "all" filter.
func NewParticipantFilter(ids ...string) ParticipantFilter {
	if len(ids) == 0 {
		return nil
	}
	f := make(ParticipantFilter, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		f[id] = struct{}{}
	}
	if len(f) == 0 {
		return nil
	}
	return f
}

// All reports whether the filter admits every participant
func (f ParticipantFilter) All() bool {
	return f == nil
}

// Allows reports whether the participant id passes the filter
func (f ParticipantFilter) Allows(id string) bool {
	if f == nil {
		return true
	}
	_, ok := f[id]
	return ok
}

// IDs returns the filtered ids in sorted order, or nil for the "all" filter
func (f ParticipantFilter) IDs() []string {
	if f == nil {
		return nil
	}
	ids := make([]string, 0, len(f))
	for id := range f {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
