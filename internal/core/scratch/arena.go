// Package scratch provides the short-lived, frame-scoped allocator that task
// payloads are carved from.
//
// The arena is a byte budget over per-type sync.Pools: allocation reserves the
// object's size against the budget, Free returns it. Objects implementing
// Resetter are reset instead of zeroed so slices inside them keep their
// capacity across frames. Objects implementing Sizer are also charged for
// that retained memory: at Alloc for what the pooled object already holds,
// and at Settle (which Scope.Handoff calls) for what it grew since.
package scratch

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// ErrOutOfMemory is returned when an allocation would exceed the arena budget.
var ErrOutOfMemory = errors.New("scratch arena out of memory")

// Resetter is implemented by payloads that clear themselves for reuse.
type Resetter interface {
	Reset()
}

// Sizer is implemented by payloads that hold memory outside their own
// struct, typically slice capacity.
type Sizer interface {
	ScratchBytes() int64
}

// Arena is safe for concurrent Alloc/Free from any number of workers.
type Arena struct {
	capacity int64 // bytes; 0 = unbounded
	inUse    atomic.Int64
	live     atomic.Int64
	pools    sync.Map // reflect.Type -> *sync.Pool
	charges  sync.Map // Sizer pointer -> int64 bytes charged beyond its struct
}

func NewArena(capacity int64) *Arena {
	return &Arena{capacity: capacity}
}

// Capacity returns the byte budget (0 = unbounded).
func (a *Arena) Capacity() int64 { return a.capacity }

// InUse returns the bytes currently reserved.
func (a *Arena) InUse() int64 { return a.inUse.Load() }

// Outstanding returns the number of objects allocated and not yet freed.
func (a *Arena) Outstanding() int64 { return a.live.Load() }

func (a *Arena) reserve(size int64) bool {
	for {
		cur := a.inUse.Load()
		if a.capacity > 0 && cur+size > a.capacity {
			return false
		}
		if a.inUse.CompareAndSwap(cur, cur+size) {
			return true
		}
	}
}

func sizeOf[T any]() (reflect.Type, int64) {
	t := reflect.TypeFor[T]()
	size := int64(t.Size())
	if size == 0 {
		size = 1
	}
	return t, size
}

func poolFor[T any](a *Arena, t reflect.Type) *sync.Pool {
	if p, ok := a.pools.Load(t); ok {
		return p.(*sync.Pool)
	}
	p, _ := a.pools.LoadOrStore(t, &sync.Pool{New: func() any { return new(T) }})
	return p.(*sync.Pool)
}

// Alloc returns a zeroed (or Reset) *T charged against the arena budget.
func Alloc[T any](a *Arena) (*T, error) {
	t, size := sizeOf[T]()
	pool := poolFor[T](a, t)
	p := pool.Get().(*T)
	sz, sized := any(p).(Sizer)
	var extra int64
	if sized {
		extra = sz.ScratchBytes()
	}
	if !a.reserve(size + extra) {
		pool.Put(p)
		return nil, fmt.Errorf("%w: alloc %s (%d bytes), %d of %d in use",
			ErrOutOfMemory, t, size+extra, a.inUse.Load(), a.capacity)
	}
	if sized {
		a.charges.Store(any(p), extra)
	}
	a.live.Add(1)
	return p, nil
}

// Settle charges whatever a Sizer grew since it was allocated or last
// settled. Growth is not checked against the budget; the next Alloc is.
func (a *Arena) Settle(p any) {
	sz, ok := p.(Sizer)
	if !ok {
		return
	}
	now := sz.ScratchBytes()
	var before int64
	if prev, loaded := a.charges.Swap(p, now); loaded {
		before = prev.(int64)
	}
	a.inUse.Add(now - before)
}

// Free returns p to the arena. Freeing nil is a no-op.
func Free[T any](a *Arena, p *T) {
	if p == nil {
		return
	}
	t, size := sizeOf[T]()
	if prev, ok := a.charges.LoadAndDelete(any(p)); ok {
		size += prev.(int64)
	}
	if r, ok := any(p).(Resetter); ok {
		r.Reset()
	} else {
		var zero T
		*p = zero
	}
	poolFor[T](a, t).Put(p)
	a.inUse.Add(-size)
	a.live.Add(-1)
}
