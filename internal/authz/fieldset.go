package authz

import "sort"

// FieldSet is a set of authorized field names.
type FieldSet map[string]struct{}

func NewFieldSet(fields ...string) FieldSet {
	s := make(FieldSet, len(fields))
	for _, f := range fields {
		s[f] = struct{}{}
	}
	return s
}

func (s FieldSet) Has(field string) bool {
	_, ok := s[field]
	return ok
}

func (s FieldSet) Add(fields ...string) {
	for _, f := range fields {
		s[f] = struct{}{}
	}
}

func (s FieldSet) Union(other FieldSet) FieldSet {
	out := make(FieldSet, len(s)+len(other))
	for f := range s {
		out[f] = struct{}{}
	}
	for f := range other {
		out[f] = struct{}{}
	}
	return out
}

// List returns the fields sorted, for stable logs and tests.
func (s FieldSet) List() []string {
	out := make([]string, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
