package tag

// Set is an insertion-ordered set of tags. Membership follows set semantics;
// the order only keeps payloads and output stable.
type Set struct {
	order []string
	index map[string]struct{}
}

// NewSet builds a Set from tags, dropping duplicates.
func NewSet(tags ...string) *Set {
	s := &Set{index: make(map[string]struct{}, len(tags))}
	for _, t := range tags {
		s.Add(t)
	}
	return s
}

// Has reports whether t is in the set.
func (s *Set) Has(t string) bool {
	_, ok := s.index[t]
	return ok
}

// Add inserts t and reports whether the set changed.
func (s *Set) Add(t string) bool {
	if s.Has(t) {
		return false
	}
	s.index[t] = struct{}{}
	s.order = append(s.order, t)
	return true
}

// Remove deletes t and reports whether the set changed.
func (s *Set) Remove(t string) bool {
	if !s.Has(t) {
		return false
	}
	delete(s.index, t)
	for i, v := range s.order {
		if v == t {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Slice returns the tags in insertion order. The result is a copy.
func (s *Set) Slice() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Change records which half of a replacement actually altered a set.
type Change struct {
	RemovedOld bool
	AddedNew   bool
}

// Replace computes (tags - {oldTag}) ∪ {newTag} without mutating tags.
// When oldTag == newTag and the tag is present, the set is returned unchanged.
func Replace(tags []string, oldTag, newTag string) ([]string, Change) {
	s := NewSet(tags...)
	var c Change
	if oldTag == newTag {
		c.AddedNew = s.Add(newTag)
		return s.Slice(), c
	}
	c.RemovedOld = s.Remove(oldTag)
	c.AddedNew = s.Add(newTag)
	return s.Slice(), c
}
