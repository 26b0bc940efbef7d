// Package set implement sets for various types. Well, only string for now :)
package set

// String set.
type String struct {
	m map[string]struct{}
}

// Add values to the string set.
func (s *String) Add(values ...string) {
	if s.m == nil {
		s.m = map[string]struct{}{}
	}

	for _, v := range values {
		s.m[v] = struct{}{}
	}
}

// Has checks if the set has the given value.
func (s *String) Has(value string) bool {
	// We explicitly allow s to be nil *in this function* to simplify callers'
	// code.  Note that Add will not tolerate it, and will panic.
	if s == nil || s.m == nil {
		return false
	}
	_, ok := s.m[value]
	return ok
}

// AddNew adds the value to the set, and returns true if it was not there
// before.
func (s *String) AddNew(value string) bool {
	if s.Has(value) {
		return false
	}
	s.Add(value)
	return true
}
