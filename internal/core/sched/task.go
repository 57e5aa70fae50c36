package sched

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// Handle names one task slot at one generation. Slot indices start at 1, so
// the zero Handle is never valid. A handle whose task completed goes stale:
// the slot generation moves on and the handle resolves to "completed".
type Handle uint64

func newHandle(index, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) Index() uint32      { return uint32(h) }
func (h Handle) Generation() uint32 { return uint32(h >> 32) }
func (h Handle) IsZero() bool       { return h == 0 }

func (h Handle) String() string {
	return fmt.Sprintf("task(%d:%d)", h.Index(), h.Generation())
}

// Kernel is the body of a task. data is the payload passed to Create; the
// kernel owns it and must release or hand it off before returning.
type Kernel func(ctx *Context, data any)

// Context is what a kernel sees of the scheduler while it runs.
type Context struct {
	Scheduler *Scheduler
	Task      Handle
	Name      string
	// Worker is the executing worker index, or -1 when the driver goroutine
	// runs the task through DoSomeWork.
	Worker int
}

// Child creates a task whose completion the running task waits for.
func (c *Context) Child(name string, kernel Kernel, data any, affinity Affinity) (Handle, error) {
	return c.Scheduler.CreateChild(c.Task, name, kernel, data, affinity)
}

// Bind adapts a typed kernel. A payload of the wrong type is a programming
// error in graph construction and panics with a DependencyViolation.
func Bind[T any](fn func(ctx *Context, data T)) Kernel {
	return func(ctx *Context, data any) {
		d, ok := data.(T)
		if !ok {
			panic(dependencyErrorf("task %s: payload is %T, want %v", ctx.Name, data, reflect.TypeFor[T]()))
		}
		fn(ctx, d)
	}
}

type taskState uint32

const (
	stateFree taskState = iota
	stateCreated
	stateKicked // kicked, waiting on dependencies
	stateQueued
	stateRunning
	stateDone
)

func (s taskState) String() string {
	switch s {
	case stateFree:
		return "free"
	case stateCreated:
		return "created"
	case stateKicked:
		return "kicked"
	case stateQueued:
		return "queued"
	case stateRunning:
		return "running"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// task is one slot of the fixed pool.
type task struct {
	index uint32
	gen   atomic.Uint32
	state atomic.Uint32

	// pending counts open dependencies plus one hold released by Kick.
	pending atomic.Int32
	// openWork counts the kernel itself plus unfinished children.
	openWork atomic.Int32

	name     string
	kernel   Kernel
	data     any
	affinity Affinity
	parent   *task
	// discarded tasks complete without running their kernel.
	discarded bool

	mu         sync.Mutex // guards dependents, preds, done
	dependents []*task
	preds      []Handle
	done       bool
}

func (t *task) handle() Handle { return newHandle(t.index, t.gen.Load()) }

func (t *task) loadState() taskState { return taskState(t.state.Load()) }

func (t *task) setState(s taskState) { t.state.Store(uint32(s)) }

func (t *task) reset() {
	t.name = ""
	t.kernel = nil
	t.data = nil
	t.affinity = 0
	t.parent = nil
	t.discarded = false
	t.dependents = t.dependents[:0]
	t.preds = t.preds[:0]
	t.done = false
	t.pending.Store(0)
	t.openWork.Store(0)
}
