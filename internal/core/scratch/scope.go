package scratch

import "sync"

// Scope owns a set of scratch objects and frees whatever it still owns on
// Release. Kernels defer Release right after creating the scope so every exit
// path, panics included, returns memory to the arena.
type Scope struct {
	arena *Arena

	mu       sync.Mutex
	entries  []scopeEntry
	index    map[any]int
	released bool
}

type scopeEntry struct {
	ptr  any
	free func()
}

func (a *Arena) Scope() *Scope {
	return &Scope{arena: a, index: make(map[any]int)}
}

// Arena returns the arena the scope allocates from.
func (s *Scope) Arena() *Arena { return s.arena }

// New allocates a *T owned by the scope.
func New[T any](s *Scope) (*T, error) {
	p, err := Alloc[T](s.arena)
	if err != nil {
		return nil, err
	}
	Adopt(s, p)
	return p, nil
}

// Adopt transfers ownership of p (allocated from the same arena) into the scope.
// Adopting into a released scope frees p immediately.
func Adopt[T any](s *Scope, p *T) {
	if p == nil {
		return
	}
	arena := s.arena
	free := func() { Free(arena, p) }

	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		free()
		return
	}
	s.index[p] = len(s.entries)
	s.entries = append(s.entries, scopeEntry{ptr: p, free: free})
	s.mu.Unlock()
}

// Handoff gives up ownership of p; the receiver becomes responsible for
// freeing it. Reports false if the scope did not own p. The memory p grew
// while owned here is charged before it leaves.
func (s *Scope) Handoff(p any) bool {
	s.mu.Lock()
	i, ok := s.index[p]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.index, p)
	s.entries[i] = scopeEntry{}
	s.mu.Unlock()

	s.arena.Settle(p)
	return true
}

// Owns reports whether p is still owned by the scope.
func (s *Scope) Owns(p any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[p]
	return ok
}

// Release frees every object still owned, in allocation order. Idempotent.
func (s *Scope) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	entries := s.entries
	s.entries = nil
	s.index = nil
	s.mu.Unlock()

	for _, e := range entries {
		if e.free != nil {
			e.free()
		}
	}
}
