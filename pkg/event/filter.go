package event

import (
	"encoding/json"
	"fmt"
)

// Filter is a client-supplied event selector (NIP-01 §3).
type Filter struct {
	IDs     []string            `json:"ids,omitempty"`
	Authors []string            `json:"authors,omitempty"`
	Kinds   []int               `json:"kinds,omitempty"`
	Tags    map[string][]string `json:"-"`
	Since   *int64              `json:"since,omitempty"`
	Until   *int64              `json:"until,omitempty"`
	Limit   *int                `json:"limit,omitempty"`
}

// UnmarshalJSON decodes the known fields plus any "#x" tag-filter keys,
// which NIP-01 allows for an arbitrary set of single-letter tag names.
func (f *Filter) UnmarshalJSON(data []byte) error {
	type alias Filter
	aux := &struct{ *alias }{alias: (*alias)(f)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	for key, raw := range m {
		if len(key) < 2 || key[0] != '#' {
			continue
		}
		var values []string
		if err := json.Unmarshal(raw, &values); err != nil {
			return fmt.Errorf("invalid tag filter value for %s: %w", key, err)
		}
		if f.Tags == nil {
			f.Tags = make(map[string][]string)
		}
		f.Tags[key[1:]] = values
	}

	return nil
}

// MarshalJSON re-emits "#x" tag-filter keys alongside the known fields.
func (f *Filter) MarshalJSON() ([]byte, error) {
	type alias Filter
	m := make(map[string]interface{})

	intermediate, err := json.Marshal((*alias)(f))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(intermediate, &m); err != nil {
		return nil, err
	}
	for name, values := range f.Tags {
		m["#"+name] = values
	}
	return json.Marshal(m)
}

// Matches implements the C4 Filter Matcher of spec.md §4.4: every
// constraint the filter names must hold, absent/empty constraints impose
// no restriction, and since/until are exclusive bounds.
func (e *Event) Matches(f *Filter) bool {
	if len(f.IDs) > 0 && !anyPrefixMatches(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !anyPrefixMatches(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, e.Kind) {
		return false
	}
	if f.Since != nil && e.CreatedAt <= *f.Since {
		return false
	}
	if f.Until != nil && e.CreatedAt >= *f.Until {
		return false
	}
	for tagName, filterValues := range f.Tags {
		if !e.hasAnyTagValue(tagName, filterValues) {
			return false
		}
	}
	return true
}

// MatchesAny implements REQ's multi-filter OR semantics (spec.md §4.7):
// an empty filter set matches nothing, any single matching filter suffices.
func (e *Event) MatchesAny(filters []*Filter) bool {
	for _, f := range filters {
		if e.Matches(f) {
			return true
		}
	}
	return false
}

func (e *Event) hasAnyTagValue(name string, candidates []string) bool {
	for _, tag := range e.Tags {
		if len(tag) < 2 || tag[0] != name {
			continue
		}
		for _, c := range candidates {
			if tag[1] == c {
				return true
			}
		}
	}
	return false
}

func anyPrefixMatches(prefixes []string, target string) bool {
	for _, p := range prefixes {
		if matchesPrefix(target, p) {
			return true
		}
	}
	return false
}

func matchesPrefix(target, prefix string) bool {
	if len(prefix) > len(target) {
		return false
	}
	return target[:len(prefix)] == prefix
}

func containsKind(kinds []int, k int) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}
