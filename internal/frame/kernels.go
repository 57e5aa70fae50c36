package frame

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/butane/engine/internal/core/sched"
	"github.com/butane/engine/internal/core/scratch"
	"github.com/butane/engine/internal/render"
	"github.com/butane/engine/internal/scene"
	"github.com/butane/engine/internal/stats"
	"github.com/butane/engine/internal/visual"
	"github.com/butane/engine/internal/vmath"
	"github.com/butane/engine/internal/world"
)

// updateWorld delivers last frame's world events and runs the gameplay hook.
// It is the only writer of unit poses and of the pending set this frame.
func updateWorld(_ *sched.Context, p *UpdateWorldData) {
	f := p.frame()
	w := f.d.world
	w.Bus.SwapBuffers()
	w.Bus.DispatchAll()
	if f.d.script == nil {
		return
	}
	if err := f.d.script.Update(p.DT); err != nil {
		f.d.log.Warn("script update failed", zap.Uint64("frame", f.number), zap.Error(err))
	}
}

// updateUnits goes wide: one scene-graph task and one visual task per batch
// of units, all children of this task.
func updateUnits(ctx *sched.Context, p *UpdateUnitsData) {
	f := p.frame()
	units := f.d.world.Units()
	size := f.d.cfg.BatchSize
	for start := 0; start < len(units); start += size {
		end := min(start+size, len(units))
		if err := spawnBatch(ctx, f, units[start:end]); err != nil {
			f.fail(fmt.Errorf("update units [%d:%d]: %w", start, end, err))
			return
		}
	}
}

func spawnBatch(ctx *sched.Context, f *state, units []world.UnitID) error {
	sg, err := alloc[SceneGraphsData](f)
	if err != nil {
		return err
	}
	sg.Units = append(sg.Units, units...)
	vr, err := alloc[VisualRepresentationsData](f)
	if err != nil {
		return err
	}
	vr.Units = append(vr.Units, units...)

	s := ctx.Scheduler
	usg, err := ctx.Child(KindUpdateSceneGraphs.String(), sched.Bind(updateSceneGraphs), sg, sched.AnyWorker)
	if err != nil {
		return err
	}
	uvr, err := ctx.Child(KindUpdateVisualRepresentations.String(), sched.Bind(updateVisualRepresentations), vr, sched.AnyWorker)
	if err != nil {
		s.Discard(usg)
		return err
	}
	if err := s.DependsOn(uvr, usg); err != nil {
		s.Discard(usg, uvr)
		return err
	}
	if err := s.KickN(usg, uvr); err != nil {
		s.Discard(usg, uvr)
		return err
	}
	return nil
}

func updateSceneGraphs(_ *sched.Context, p *SceneGraphsData) {
	f := p.frame()
	var n int
	for _, id := range p.Units {
		u, ok := f.d.world.Unit(id)
		if !ok {
			continue
		}
		n += u.Graph.Update()
	}
	f.nodes.Add(int64(n))
}

// updateVisualRepresentations streams creates for units seen for the first
// time and moves for nodes whose world transform changed.
func updateVisualRepresentations(_ *sched.Context, p *VisualRepresentationsData) {
	f := p.frame()
	sc := f.d.arena.Scope()
	defer sc.Release()

	stream, err := scratch.New[visual.Stream](sc)
	if err != nil {
		f.fail(fmt.Errorf("visual stream: %w", err))
		return
	}
	for _, id := range p.Units {
		u, ok := f.d.world.Unit(id)
		if !ok {
			continue
		}
		g := u.Graph
		create := !u.VisualsCreated()
		for i, vid := range u.Visuals {
			moved := g.TakeChanged(i)
			if vid.IsZero() {
				continue
			}
			switch {
			case create:
				node := g.Node(i)
				if node.Kind == scene.KindMesh {
					stream.CreateMesh(vid, visual.MeshDesc{Resource: node.Mesh.Resource, Radius: node.Mesh.Radius}, g.World(i))
				} else {
					stream.CreateCamera(vid, visual.CameraDesc{
						FovY:     node.Camera.FovY,
						Near:     node.Camera.Near,
						Far:      node.Camera.Far,
						Viewport: u.Viewports[i],
					}, g.World(i))
				}
			case moved:
				stream.Move(vid, g.World(i))
			}
		}
		if create {
			u.MarkVisualsCreated()
		}
	}
	if sc.Handoff(stream) {
		f.addStream(stream)
	}
}

// applyVisualRepresentationStream applies last frame's despawn destroys and
// every update stream in one write-locked pass, then opens culling. Device
// meshes follow the mesh records created and destroyed by the pass.
func applyVisualRepresentationStream(_ *sched.Context, p *ApplyData) {
	f := p.frame()
	d := f.d
	sc := d.arena.Scope()
	defer sc.Release()

	streams := f.takeStreams()
	for _, s := range streams {
		scratch.Adopt(sc, s)
	}
	destroys := d.world.TakeDestroys(d.spare)
	st := d.world.Aggregate().Apply(append([]*visual.Stream{destroys}, streams...)...)
	d.spare = destroys
	d.world.MarkCullStarted()

	for _, src := range st.Released {
		if err := d.lib.Release(src); err != nil {
			d.log.Warn("release mesh", zap.Uint64("frame", f.number), zap.Error(err))
		}
	}
	for _, src := range st.Acquired {
		if _, err := d.lib.Acquire(src); err != nil {
			d.log.Error("acquire mesh", zap.Uint64("frame", f.number), zap.Error(err))
		}
	}

	if st.Dropped > 0 {
		d.log.Debug("visual changes dropped", zap.Uint64("frame", f.number), zap.Int("count", st.Dropped))
	}
}

func frustumCull(_ *sched.Context, p *CullData) {
	f := p.frame()
	d := f.d
	sc := d.arena.Scope()
	defer sc.Release()

	out, err := scratch.New[visual.CulledList](sc)
	if err != nil {
		f.fail(fmt.Errorf("culled list: %w", err))
		return
	}
	ref := f.cameras[p.Camera]
	if cam, ok := d.world.Aggregate().Camera(ref.Visual); ok {
		frusta := []vmath.Frustum{cam.Frustum()}
		var cullErr error
		d.world.Aggregate().ReadMeshes(func(ms []visual.Mesh) {
			cullErr = visual.Cull(ms, frusta, cam.Eye(), out)
		})
		if cullErr != nil {
			f.fail(cullErr)
			return
		}
	}
	f.culledCount.Add(int64(out.Len()))
	if sc.Handoff(out) {
		f.culled[p.Camera] = out
	}
}

// generateRenderCommands turns one camera's culled list into a render
// context. An empty list still yields clear, viewport and present.
func generateRenderCommands(_ *sched.Context, p *GenerateData) {
	f := p.frame()
	d := f.d
	sc := d.arena.Scope()
	defer sc.Release()

	in := f.culled[p.Camera]
	f.culled[p.Camera] = nil
	scratch.Adopt(sc, in)

	rc, err := scratch.New[render.Context](sc)
	if err != nil {
		f.fail(fmt.Errorf("render context: %w", err))
		return
	}
	ref := f.cameras[p.Camera]
	rc.Camera = ref.Visual
	far := float32(1)
	if cam, ok := d.world.Aggregate().Camera(ref.Visual); ok {
		rc.ViewProjection = cam.ViewProjection()
		far = cam.Desc.Far
	}
	rc.Clear(d.cfg.ClearColor)
	rc.SetViewport(ref.Viewport)
	if in != nil {
		for _, c := range in.Items {
			if c.Visible&1 == 0 {
				continue
			}
			res, ok := d.lib.Lookup(c.Resource)
			if !ok {
				continue // creation failed at apply, already logged
			}
			key := render.SortKey(render.LayerWorld, render.PassOpaque, render.QuantizeDepth(c.Distance, far))
			rc.Draw(key, render.Draw{Resource: res, Visual: c.ID, World: c.World, Radius: c.Radius})
		}
	}
	rc.Present()
	f.draws.Add(int64(rc.DrawCount()))
	if sc.Handoff(rc) {
		f.contexts[p.Camera] = rc
	}
}

// dispatch submits the frame's contexts in camera order on the render
// worker, then frees them. Backend failures are logged, not retried.
func dispatch(ctx *sched.Context, p *DispatchData) {
	f := p.frame()
	d := f.d
	sc := d.arena.Scope()
	defer sc.Release()

	f.dispatchWorker = ctx.Worker
	ctxs := make([]*render.Context, 0, len(f.contexts))
	for i, rc := range f.contexts {
		if rc == nil {
			continue
		}
		scratch.Adopt(sc, rc)
		ctxs = append(ctxs, rc)
		f.contexts[i] = nil
	}
	if err := d.device.Submit(ctxs); err != nil {
		d.log.Error("dispatch failed",
			zap.Uint64("frame", f.number),
			zap.Int("contexts", len(ctxs)),
			zap.Error(err))
	}
}

func graduateUnits(_ *sched.Context, p *GraduateData) {
	f := p.frame()
	res := f.d.world.Graduate(f.number)
	f.graduated = len(res.Graduated)
	f.despawned = len(res.Despawned)
}

// renderWorld closes the frame: it builds the sample and releases the frame
// scope, payloads included.
func renderWorld(_ *sched.Context, p *RenderWorldData) {
	f := p.frame()
	d := f.d
	defer f.scope.Release()

	live, pending, _ := d.world.Counts()
	f.sample = stats.FrameSample{
		Frame:     f.number,
		DT:        f.dt,
		Elapsed:   time.Since(f.start),
		Live:      live,
		Pending:   pending,
		Graduated: f.graduated,
		Despawned: f.despawned,
		Cameras:   len(f.cameras),
		Culled:    int(f.culledCount.Load()),
		Draws:     int(f.draws.Load()),
		Tasks:     d.sched.Executed() - f.executedStart,

		DispatchWorker: f.dispatchWorker,
	}
	if d.stats != nil {
		d.stats.RecordFrame(f.sample)
	}
}
