package render

import (
	"fmt"
	"sync"
)

// Library maps resource-database ids to device resources. The first
// Acquire of a source creates the device resource; the last Release
// destroys it.
type Library struct {
	dev Device

	mu      sync.Mutex
	entries map[uint64]*libraryEntry
}

type libraryEntry struct {
	id   ResourceID
	refs int
}

func NewLibrary(dev Device) *Library {
	return &Library{dev: dev, entries: make(map[uint64]*libraryEntry)}
}

// Acquire returns the device mesh for source, creating it on first use.
func (l *Library) Acquire(source uint64) (ResourceID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.entries[source]; ok {
		e.refs++
		return e.id, nil
	}
	id, err := l.dev.Create(Desc{Kind: ResourceMesh, Source: source})
	if err != nil {
		return 0, fmt.Errorf("create mesh %#x: %w", source, err)
	}
	l.entries[source] = &libraryEntry{id: id, refs: 1}
	return id, nil
}

// Release drops one reference to source.
func (l *Library) Release(source uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[source]
	if !ok {
		return fmt.Errorf("release mesh %#x: %w", source, ErrUnknownResource)
	}
	e.refs--
	if e.refs > 0 {
		return nil
	}
	delete(l.entries, source)
	if err := l.dev.Destroy(e.id); err != nil {
		return fmt.Errorf("destroy mesh %#x: %w", source, err)
	}
	return nil
}

// Lookup returns the device resource of an acquired source.
func (l *Library) Lookup(source uint64) (ResourceID, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[source]
	if !ok {
		return 0, false
	}
	return e.id, true
}

// Len returns the number of distinct sources held.
func (l *Library) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
