package intercept

import (
	"strings"
	"sync/atomic"
)

// ClassnameFilter decides per class name, in internal form (java/lang/String).
type ClassnameFilter interface {
	Matches(classname string) bool
}

// FilterFunc adapts a function to ClassnameFilter.
type FilterFunc func(classname string) bool

func (f FilterFunc) Matches(classname string) bool { return f(classname) }

// excludedPrefixes are the packages never transformed: the core runtime,
// vendor internals and the XML parsers.
var excludedPrefixes = map[string]bool{
	"java":    true,
	"javax":   true,
	"com/sun": true,
	"sun":     true,
	"org/w3c": true,
	"org/xml": true,
}

// DefaultExclusionFilter matches a name whose first one or two path segments
// form a built-in excluded prefix.
var DefaultExclusionFilter ClassnameFilter = FilterFunc(matchesBuiltin)

func matchesBuiltin(classname string) bool {
	idx := strings.IndexByte(classname, '/')
	if idx == -1 {
		return excludedPrefixes[classname]
	}
	if excludedPrefixes[classname[:idx]] {
		return true
	}
	next := strings.IndexByte(classname[idx+1:], '/')
	if next == -1 {
		return false
	}
	return excludedPrefixes[classname[:idx+1+next]]
}

// CompoundFilter matches when any of its filters matches.
type CompoundFilter []ClassnameFilter

func (c CompoundFilter) Matches(classname string) bool {
	for _, f := range c {
		if f != nil && f.Matches(classname) {
			return true
		}
	}
	return false
}

// ContainsFilter matches names containing any of the given substrings.
func ContainsFilter(substrings ...string) ClassnameFilter {
	return FilterFunc(func(classname string) bool {
		for _, s := range substrings {
			if s != "" && strings.Contains(classname, s) {
				return true
			}
		}
		return false
	})
}

// Exclusion is the process-wide exclusion rule: the built-in deny-list OR'd
// with caller filters. Filters can be added but never removed, so the set of
// excluded names only grows. Safe for concurrent use.
type Exclusion struct {
	filters atomic.Pointer[CompoundFilter]
}

// NewExclusion returns an Exclusion with the given caller filters.
func NewExclusion(filters ...ClassnameFilter) *Exclusion {
	e := &Exclusion{}
	cf := CompoundFilter(append([]ClassnameFilter(nil), filters...))
	e.filters.Store(&cf)
	return e
}

// Add widens the exclusion set.
func (e *Exclusion) Add(filters ...ClassnameFilter) {
	for {
		old := e.filters.Load()
		next := make(CompoundFilter, 0, len(*old)+len(filters))
		next = append(next, *old...)
		next = append(next, filters...)
		if e.filters.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Matches reports whether classname must not be transformed. The empty name
// is always excluded.
func (e *Exclusion) Matches(classname string) bool {
	if classname == "" || matchesBuiltin(classname) {
		return true
	}
	return e.filters.Load().Matches(classname)
}
