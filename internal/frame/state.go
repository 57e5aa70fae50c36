package frame

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/butane/engine/internal/core/scratch"
	"github.com/butane/engine/internal/render"
	"github.com/butane/engine/internal/stats"
	"github.com/butane/engine/internal/visual"
	"github.com/butane/engine/internal/world"
)

// state is everything one frame's tasks share. Slots indexed by camera are
// written by exactly one task and read by its dependents.
type state struct {
	d      *Driver
	number uint64
	dt     float64
	start  time.Time
	// scope owns the frame's payloads; RenderWorld releases it.
	scope         *scratch.Scope
	executedStart uint64

	cameras  []world.CameraRef
	culled   []*visual.CulledList
	contexts []*render.Context

	mu      sync.Mutex
	streams []*visual.Stream
	errs    []error

	nodes          atomic.Int64
	culledCount    atomic.Int64
	draws          atomic.Int64
	graduated      int
	despawned      int
	dispatchWorker int

	sample stats.FrameSample
}

// fail records an error that aborts the frame once it completes.
func (f *state) fail(err error) {
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
}

func (f *state) err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return errors.Join(f.errs...)
}

// addStream takes a visual stream handed off by an update batch.
func (f *state) addStream(s *visual.Stream) {
	f.mu.Lock()
	f.streams = append(f.streams, s)
	f.mu.Unlock()
}

func (f *state) takeStreams() []*visual.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.streams
	f.streams = nil
	return s
}

// alloc carves a payload for f out of the frame scope.
func alloc[T any, P interface {
	*T
	Payload
	bind(*state)
}](f *state) (P, error) {
	p, err := scratch.New[T](f.scope)
	if err != nil {
		return nil, err
	}
	P(p).bind(f)
	return P(p), nil
}

func (b *base) bind(f *state) { b.f = f }
