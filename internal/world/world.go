// Package world owns the simulated units and their render-side mirror: the
// live set walked by the frame graph, the pending set of units that have not
// been through a full frame yet, the despawn queue, the cameras and the
// visual aggregate.
package world

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/butane/engine/internal/core/ecs"
	"github.com/butane/engine/internal/core/event"
	"github.com/butane/engine/internal/scene"
	"github.com/butane/engine/internal/visual"
)

// UnitID is a generational unit handle.
type UnitID = ecs.EntityID

// Unit is one simulated object. Its Graph is touched by one frame task at a
// time: UpdateWorld, then its scene-graph batch, then its visual batch.
type Unit struct {
	ID       UnitID
	Template string
	Graph    *scene.Graph
	// Visuals[i] is the visual id of node i, zero for transform nodes.
	Visuals   []visual.ID
	Viewports map[int]visual.Viewport

	visualsCreated bool
}

// VisualsCreated reports whether the unit's records were streamed to the
// aggregate.
func (u *Unit) VisualsCreated() bool { return u.visualsCreated }

func (u *Unit) MarkVisualsCreated() { u.visualsCreated = true }

// CameraRef is a camera node registered for rendering.
type CameraRef struct {
	Unit     UnitID
	Node     int
	Visual   visual.ID
	Viewport visual.Viewport
}

type pendingUnit struct {
	id        UnitID
	frame     uint64
	afterCull bool
}

type World struct {
	log *zap.Logger
	Bus *event.Bus

	ids *visual.Allocator
	agg *visual.Aggregate

	mu          sync.Mutex
	pool        *ecs.EntityPool
	units       *ecs.Store[Unit]
	live        []UnitID
	pending     []pendingUnit
	despawns    []UnitID
	destroys    *visual.Stream
	cameras     []CameraRef
	frame       uint64
	cullStarted bool
}

func New(log *zap.Logger) *World {
	ids := visual.NewAllocator()
	w := &World{
		log:      log.Named("world"),
		Bus:      event.NewBus(),
		ids:      ids,
		agg:      visual.NewAggregate(ids),
		pool:     ecs.NewEntityPool(),
		units:    ecs.NewStore[Unit](),
		destroys: &visual.Stream{},
	}
	return w
}

func (w *World) Aggregate() *visual.Aggregate { return w.agg }

// BeginFrame advances the frame counter and reopens the pre-cull window.
func (w *World) BeginFrame() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frame++
	w.cullStarted = false
	return w.frame
}

func (w *World) Frame() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frame
}

// MarkCullStarted closes the window: units spawned from now on graduate no
// earlier than next frame.
func (w *World) MarkCullStarted() {
	w.mu.Lock()
	w.cullStarted = true
	w.mu.Unlock()
}

// Spawn adds a unit built from graph, which the world takes ownership of.
// The unit is pending until GraduateUnits promotes it. Safe from any
// goroutine.
func (w *World) Spawn(template string, graph *scene.Graph) UnitID {
	u := &Unit{
		Template: template,
		Graph:    graph,
		Visuals:  make([]visual.ID, graph.Len()),
	}
	for i := 0; i < graph.Len(); i++ {
		switch graph.Node(i).Kind {
		case scene.KindMesh, scene.KindCamera:
			u.Visuals[i] = w.ids.New()
		}
	}

	w.mu.Lock()
	u.ID = w.pool.Create()
	w.units.Set(u.ID, u)
	w.pending = append(w.pending, pendingUnit{id: u.ID, frame: w.frame, afterCull: w.cullStarted})
	frame := w.frame
	w.mu.Unlock()

	event.Emit(w.Bus, event.UnitSpawned{Unit: u.ID, Template: template, Frame: frame})
	return u.ID
}

// Despawn queues id for removal at the next graduation. Unknown ids report
// false.
func (w *World) Despawn(id UnitID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.pool.Alive(id) {
		return false
	}
	w.despawns = append(w.despawns, id)
	return true
}

// Unit returns the unit behind id.
func (w *World) Unit(id UnitID) (*Unit, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.pool.Alive(id) {
		return nil, false
	}
	return w.units.Get(id)
}

// Live returns a snapshot of the live set in graduation order.
func (w *World) Live() []UnitID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]UnitID(nil), w.live...)
}

// Units returns the live set followed by the pending set: every unit a frame
// simulates.
func (w *World) Units() []UnitID {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]UnitID, 0, len(w.live)+len(w.pending))
	out = append(out, w.live...)
	for _, p := range w.pending {
		out = append(out, p.id)
	}
	return out
}

// Counts returns live, pending and queued-despawn sizes.
func (w *World) Counts() (live, pending, despawning int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.live), len(w.pending), len(w.despawns)
}

// AddCamera registers node of unit as a rendering camera.
func (w *World) AddCamera(unit UnitID, node int, vp visual.Viewport) (visual.ID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	u, ok := w.units.Get(unit)
	if !ok || !w.pool.Alive(unit) {
		return 0, fmt.Errorf("add camera: unit %s not found", unit)
	}
	if node < 0 || node >= u.Graph.Len() || u.Graph.Node(node).Kind != scene.KindCamera {
		return 0, fmt.Errorf("add camera: unit %s node %d is not a camera", unit, node)
	}
	if u.Viewports == nil {
		u.Viewports = make(map[int]visual.Viewport)
	}
	u.Viewports[node] = vp
	ref := CameraRef{Unit: unit, Node: node, Visual: u.Visuals[node], Viewport: vp}
	w.cameras = append(w.cameras, ref)
	return ref.Visual, nil
}

// Cameras returns the registered cameras in registration order.
func (w *World) Cameras() []CameraRef {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]CameraRef(nil), w.cameras...)
}

// TakeDestroys hands the queued visual destroys to the caller, which applies
// them, and starts a new queue. spare, if non-nil, becomes the new queue
// after a Reset.
func (w *World) TakeDestroys(spare *visual.Stream) *visual.Stream {
	if spare == nil {
		spare = &visual.Stream{}
	}
	spare.Reset()
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.destroys
	w.destroys = spare
	return s
}
