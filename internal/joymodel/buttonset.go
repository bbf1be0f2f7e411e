package joymodel

import "sort"

// ButtonSet is a set of buttons enumerated in (order, serial) order.
type ButtonSet struct {
	index   map[*Button]struct{}
	ordered []*Button
}

func NewButtonSet(buttons ...*Button) *ButtonSet {
	s := &ButtonSet{index: make(map[*Button]struct{})}
	for _, b := range buttons {
		s.Add(b)
	}
	return s
}

// Add inserts b, reporting whether it was not already present.
func (s *ButtonSet) Add(b *Button) bool {
	if _, ok := s.index[b]; ok {
		return false
	}
	s.index[b] = struct{}{}
	i := sort.Search(len(s.ordered), func(i int) bool {
		return b.Less(s.ordered[i])
	})
	s.ordered = append(s.ordered, nil)
	copy(s.ordered[i+1:], s.ordered[i:])
	s.ordered[i] = b
	return true
}

// Remove deletes b, reporting whether it was present.
func (s *ButtonSet) Remove(b *Button) bool {
	if _, ok := s.index[b]; !ok {
		return false
	}
	delete(s.index, b)
	for i, other := range s.ordered {
		if other == b {
			s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
			break
		}
	}
	return true
}

func (s *ButtonSet) Contains(b *Button) bool {
	_, ok := s.index[b]
	return ok
}

func (s *ButtonSet) Len() int {
	return len(s.ordered)
}

// Buttons returns the members in order. The slice is owned by the set
// and must not be mutated.
func (s *ButtonSet) Buttons() []*Button {
	return s.ordered
}

func (s *ButtonSet) Clone() *ButtonSet {
	c := &ButtonSet{
		index:   make(map[*Button]struct{}, len(s.index)),
		ordered: append([]*Button(nil), s.ordered...),
	}
	for b := range s.index {
		c.index[b] = struct{}{}
	}
	return c
}

// ButtonMapping rewrites buttons during name lookup. A nil target marks
// the source button as erased.
type ButtonMapping map[*Button]*Button

// Apply maps every member of set through the mapping: mapped buttons
// are replaced (or dropped when erased), unmapped ones pass through.
func (m ButtonMapping) Apply(set *ButtonSet) *ButtonSet {
	out := NewButtonSet()
	for _, b := range set.Buttons() {
		to, ok := m[b]
		switch {
		case !ok:
			out.Add(b)
		case to != nil:
			out.Add(to)
		}
	}
	return out
}
