package render

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBackend wraps every failure reported by a device.
var ErrBackend = errors.New("render backend error")

// ErrUnknownResource is returned for ids the device never created or already
// destroyed.
var ErrUnknownResource = fmt.Errorf("%w: unknown resource", ErrBackend)

type ResourceID uint64

type ResourceKind uint8

const (
	ResourceMesh ResourceKind = iota
	ResourceTexture
	ResourceRenderTarget
)

// Desc describes a device resource. Source is the opaque id from the
// resource database.
type Desc struct {
	Kind   ResourceKind
	Source uint64
	Width  int
	Height int
}

// Device is the graphics backend contract. Submit is only ever called from
// the dispatch task, which is pinned to one worker.
type Device interface {
	Create(d Desc) (ResourceID, error)
	Destroy(id ResourceID) error
	Describe(id ResourceID) (Desc, bool)
	Submit(ctxs []*Context) error
	Close() error
}

// Resources is the resource table shared by the backends.
type Resources struct {
	mu   sync.Mutex
	next ResourceID
	m    map[ResourceID]Desc
}

func NewResources() *Resources {
	return &Resources{m: make(map[ResourceID]Desc)}
}

func (r *Resources) Create(d Desc) (ResourceID, error) {
	if d.Kind > ResourceRenderTarget {
		return 0, fmt.Errorf("%w: create: resource kind %d", ErrBackend, d.Kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.m[r.next] = d
	return r.next, nil
}

func (r *Resources) Destroy(id ResourceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[id]; !ok {
		return fmt.Errorf("destroy %d: %w", id, ErrUnknownResource)
	}
	delete(r.m, id)
	return nil
}

func (r *Resources) Describe(id ResourceID) (Desc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.m[id]
	return d, ok
}

func (r *Resources) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

// Backend names accepted by configuration.
const (
	BackendNull     = "null"
	BackendSoftware = "software"
)
