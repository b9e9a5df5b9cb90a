package cache

// sortedStore keeps entities ordered ascending by id with unique ids.
// Lookups are binary searches; inserts and removals shift the slice.
type sortedStore[T any] struct {
	items []*T
	idOf  func(*T) int64
}

func newSortedStore[T any](idOf func(*T) int64) *sortedStore[T] {
	return &sortedStore[T]{idOf: idOf}
}

// insertionPoint returns the index where id belongs whether or not it is
// present. When the search range empties, the result is the last index
// tested, advanced by one if the entity there sorts before id.
func (s *sortedStore[T]) insertionPoint(id int64) int {
	if len(s.items) == 0 {
		return 0
	}

	lo, hi := 0, len(s.items)-1
	cur := 0
	var curID int64
	for lo <= hi {
		cur = (lo + hi) / 2
		curID = s.idOf(s.items[cur])
		switch {
		case curID < id:
			lo = cur + 1
		case curID > id:
			hi = cur - 1
		default:
			return cur
		}
	}
	if curID < id {
		return cur + 1
	}
	return cur
}

// find returns the index of the entity with id.
func (s *sortedStore[T]) find(id int64) (int, bool) {
	i := s.insertionPoint(id)
	if i < len(s.items) && s.idOf(s.items[i]) == id {
		return i, true
	}
	return i, false
}

func (s *sortedStore[T]) at(i int) *T {
	return s.items[i]
}

func (s *sortedStore[T]) insertAt(i int, e *T) {
	s.items = append(s.items, nil)
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = e
}

func (s *sortedStore[T]) removeAt(i int) *T {
	e := s.items[i]
	copy(s.items[i:], s.items[i+1:])
	s.items[len(s.items)-1] = nil
	s.items = s.items[:len(s.items)-1]
	return e
}

func (s *sortedStore[T]) len() int {
	return len(s.items)
}

func (s *sortedStore[T]) snapshot() []*T {
	out := make([]*T, len(s.items))
	copy(out, s.items)
	return out
}

func (s *sortedStore[T]) reset() {
	clear(s.items)
	s.items = s.items[:0]
}
