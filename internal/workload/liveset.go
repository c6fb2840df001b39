package workload

// LiveSet is the set of names believed to exist on the device. Order carries no
// meaning: removal swaps the last element into the vacated slot.
type LiveSet struct {
	names []string
	index map[string]int
}

// NewLiveSet returns an empty LiveSet.
func NewLiveSet() *LiveSet {
	return &LiveSet{index: make(map[string]int)}
}

// Len returns the number of live names.
func (s *LiveSet) Len() int { return len(s.names) }

// Add inserts name. Returns false if it was already present.
func (s *LiveSet) Add(name string) bool {
	if _, ok := s.index[name]; ok {
		return false
	}
	s.index[name] = len(s.names)
	s.names = append(s.names, name)
	return true
}

// Contains reports whether name is live.
func (s *LiveSet) Contains(name string) bool {
	_, ok := s.index[name]
	return ok
}

// Remove deletes name. Returns false if it was not present.
func (s *LiveSet) Remove(name string) bool {
	i, ok := s.index[name]
	if !ok {
		return false
	}
	s.removeAt(i)
	return true
}

func (s *LiveSet) removeAt(i int) string {
	name := s.names[i]
	last := len(s.names) - 1
	if i != last {
		moved := s.names[last]
		s.names[i] = moved
		s.index[moved] = i
	}
	s.names[last] = ""
	s.names = s.names[:last]
	delete(s.index, name)
	return name
}

// PopRandom removes and returns a name chosen uniformly at random, using intn as the
// source of randomness. ok is false if the set is empty.
func (s *LiveSet) PopRandom(intn func(int) int) (name string, ok bool) {
	if len(s.names) == 0 {
		return "", false
	}
	return s.removeAt(intn(len(s.names))), true
}

// Names returns a copy of the live names in no particular order.
func (s *LiveSet) Names() []string {
	return append([]string(nil), s.names...)
}

// Reset empties the set.
func (s *LiveSet) Reset() {
	s.names = nil
	s.index = make(map[string]int)
}
