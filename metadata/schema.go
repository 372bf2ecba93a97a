package metadata

import (
	"slices"
	"sort"
)

// Schema records, per metadata key, the set of value kinds observed within
// one database. It is inferred from data rather than declared: every insert
// and load feeds observed documents through Observe.
type Schema map[string][]Kind

// Observe folds one document into the schema.
func (s Schema) Observe(doc Document) {
	for k, v := range doc {
		if v.Kind == KindInvalid {
			continue
		}
		kinds := s[k]
		if slices.Contains(kinds, v.Kind) {
			continue
		}
		kinds = append(kinds, v.Kind)
		slices.Sort(kinds)
		s[k] = kinds
	}
}

// Kinds returns the observed kinds for a key, nil if the key was never seen.
func (s Schema) Kinds(key string) []Kind {
	return s[key]
}

// Clone returns a deep copy of the schema.
func (s Schema) Clone() Schema {
	if s == nil {
		return nil
	}
	clone := make(Schema, len(s))
	for k, kinds := range s {
		clone[k] = slices.Clone(kinds)
	}
	return clone
}

// Strings renders the schema as key -> kind names with deterministic
// ordering, the shape Info responses expose.
func (s Schema) Strings() map[string][]string {
	out := make(map[string][]string, len(s))
	for k, kinds := range s {
		names := make([]string, len(kinds))
		for i, kind := range kinds {
			names[i] = kind.String()
		}
		sort.Strings(names)
		out[k] = names
	}
	return out
}
