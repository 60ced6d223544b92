package address

// Set is a case-insensitive set of accounts that remembers the canonical form
// and first-seen order of its members.
type Set struct {
	keys  map[string]struct{}
	order []string
}

// NewSet builds a set from addrs, skipping blanks and duplicates.
func NewSet(addrs ...string) *Set {
	s := &Set{keys: make(map[string]struct{}, len(addrs))}
	for _, a := range addrs {
		s.Add(a)
	}
	return s
}

// Add inserts a and reports whether it was new.
func (s *Set) Add(a string) bool {
	k := Key(a)
	if k == "" {
		return false
	}
	if _, ok := s.keys[k]; ok {
		return false
	}
	s.keys[k] = struct{}{}
	s.order = append(s.order, Checksum(a))
	return true
}

func (s *Set) Contains(a string) bool {
	if s == nil {
		return false
	}
	_, ok := s.keys[Key(a)]
	return ok && Key(a) != ""
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// List returns the canonical members in insertion order.
func (s *Set) List() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
