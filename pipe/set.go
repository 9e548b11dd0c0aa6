package pipe

import "sync"

// ID names one pipe within a Set, assigned by whichever transport
// endpoint (connecting- or binding-side) added it.
type ID uint64

// Set is the small owned collection of currently-connected pipes a REQ
// or SURVEYOR overlay may send on — spec.md §4's "raw XREQ/XSURVEYOR
// socket" underneath the protocol overlay. Grounded on
// consumer/resolver.go's map[ShardID]*Replica plus notify-on-change
// callback: transport endpoints Add/Remove themselves as their framer
// becomes active or breaks, and the overlay is notified so it can
// resend onto a different pipe.
type Set struct {
	mu       sync.Mutex
	next     ID
	pipes    map[ID]Pipe
	onAdd    func(ID, Pipe)
	onRemove func(ID)
}

// NewSet constructs an empty Set. onAdd/onRemove are invoked (outside
// the Set's own lock) whenever a pipe joins or leaves; either may be
// nil.
func NewSet(onAdd func(ID, Pipe), onRemove func(ID)) *Set {
	return &Set{pipes: make(map[ID]Pipe), onAdd: onAdd, onRemove: onRemove}
}

// Add registers p as newly active, assigning it a fresh ID.
func (s *Set) Add(p Pipe) ID {
	s.mu.Lock()
	s.next++
	var id = s.next
	s.pipes[id] = p
	s.mu.Unlock()

	if s.onAdd != nil {
		s.onAdd(id, p)
	}
	return id
}

// Remove drops id from the set, e.g. because its framer broke.
func (s *Set) Remove(id ID) {
	s.mu.Lock()
	_, ok := s.pipes[id]
	delete(s.pipes, id)
	s.mu.Unlock()

	if ok && s.onRemove != nil {
		s.onRemove(id)
	}
}

// Get returns the pipe registered under id, if still present.
func (s *Set) Get(id ID) (Pipe, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p, ok = s.pipes[id]
	return p, ok
}

// Any returns an arbitrary connected pipe (the load-balancing choice for
// REQ's next send), or false if the set is empty.
func (s *Set) Any() (ID, Pipe, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.pipes {
		return id, p, true
	}
	return 0, nil, false
}

// Each calls fn for every currently-connected pipe, e.g. for
// SURVEYOR's fan-out send. fn must not call back into the Set.
func (s *Set) Each(fn func(ID, Pipe)) {
	s.mu.Lock()
	var snapshot = make(map[ID]Pipe, len(s.pipes))
	for id, p := range s.pipes {
		snapshot[id] = p
	}
	s.mu.Unlock()

	for id, p := range snapshot {
		fn(id, p)
	}
}

// Len reports the number of currently-connected pipes.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pipes)
}
