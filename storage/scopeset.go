package storage

import (
	"sort"
	"strings"
)

// ScopeSet is a set of application scopes keyed by name. Iteration helpers
// always walk the keys in lexicographic order, so serializing a set is
// deterministic. The space-separated wire form relies on that.
type ScopeSet map[string]*ApplicationScope

// NewScopeSet builds a set from individual scopes. Nil entries are skipped.
func NewScopeSet(scopes ...*ApplicationScope) ScopeSet {
	set := make(ScopeSet, len(scopes))
	for _, s := range scopes {
		if s != nil {
			set[s.Name] = s
		}
	}
	return set
}

// Has reports whether the named scope is in the set.
func (s ScopeSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the scope names in lexicographic order.
func (s ScopeSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String serializes the set as a space-separated, sorted scope string.
func (s ScopeSet) String() string {
	return strings.Join(s.Names(), " ")
}

// Clone returns a shallow copy of the set.
func (s ScopeSet) Clone() ScopeSet {
	out := make(ScopeSet, len(s))
	for name, scope := range s {
		out[name] = scope
	}
	return out
}

// SubsetOf reports whether every name in s is present in other.
func (s ScopeSet) SubsetOf(other ScopeSet) bool {
	for name := range s {
		if !other.Has(name) {
			return false
		}
	}
	return true
}

// SplitScopes splits a space-separated scope string into individual names,
// dropping empty fields. A nil result means no scopes were requested.
func SplitScopes(scope string) []string {
	return strings.Fields(scope)
}
