// Package visual holds the render-side view of the world: visual
// representation records (meshes, cameras), the per-batch streams that carry
// changes to them, the aggregate those streams are applied to, and the culled
// lists produced from it.
package visual

import (
	"sync"

	"github.com/butane/engine/internal/core/ecs"
)

// ID names a visual representation. The zero ID is none.
type ID ecs.EntityID

func (id ID) IsZero() bool   { return id == 0 }
func (id ID) String() string { return ecs.EntityID(id).String() }

// Allocator hands out IDs from any goroutine.
type Allocator struct {
	mu   sync.Mutex
	pool *ecs.EntityPool
}

func NewAllocator() *Allocator {
	return &Allocator{pool: ecs.NewEntityPool()}
}

func (a *Allocator) New() ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ID(a.pool.Create())
}

func (a *Allocator) Free(id ID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pool.Destroy(ecs.EntityID(id))
}

func (a *Allocator) Alive(id ID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pool.Alive(ecs.EntityID(id))
}

func (a *Allocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pool.Live()
}
