// Package frame builds and runs the per-frame task graph:
//
//	UpdateWorld → UpdateUnits ⇉ {UpdateSceneGraphs → UpdateVisualRepresentations}
//	  → ApplyVisualRepresentationStream → FrustumCull[cam] → GenerateRenderCommands[cam]
//	  → Dispatch (render worker) ─┐
//	GraduateUnits (after UpdateUnits and every cull) ─┴→ RenderWorld → Waitable
//
// The driver goroutine blocks on the waitable, running shared tasks while it
// waits.
package frame

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/butane/engine/internal/core/sched"
	"github.com/butane/engine/internal/core/scratch"
	"github.com/butane/engine/internal/render"
	"github.com/butane/engine/internal/stats"
	"github.com/butane/engine/internal/visual"
	"github.com/butane/engine/internal/world"
)

const defaultBatchSize = 64

type Config struct {
	// BatchSize is the number of units per scene-graph/visual task.
	BatchSize int
	// RenderWorker pins Dispatch; -1 selects the last worker.
	RenderWorker int
	ClearColor   render.Color
}

// Script is the gameplay hook run by UpdateWorld.
type Script interface {
	Update(dt float64) error
}

type Driver struct {
	cfg    Config
	log    *zap.Logger
	sched  *sched.Scheduler
	world  *world.World
	device render.Device
	lib    *render.Library
	arena  *scratch.Arena
	script Script
	stats  *stats.Collector
	step   *TimeStepPolicy

	renderAffinity sched.Affinity
	spare          *visual.Stream // touched only by the apply task
}

type Option func(*Driver)

func WithScript(s Script) Option { return func(d *Driver) { d.script = s } }

func WithStats(c *stats.Collector) Option { return func(d *Driver) { d.stats = c } }

// WithTimeStep sets how Run turns measured tick times into frames. The
// default is one frame per tick with the measured delta.
func WithTimeStep(p *TimeStepPolicy) Option { return func(d *Driver) { d.step = p } }

func NewDriver(cfg Config, s *sched.Scheduler, w *world.World, dev render.Device, arena *scratch.Arena, log *zap.Logger, opts ...Option) (*Driver, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	rw := cfg.RenderWorker
	if rw < 0 {
		rw = s.LastWorker()
	}
	if rw >= s.NumWorkers() {
		return nil, fmt.Errorf("render worker %d with %d workers: %w", rw, s.NumWorkers(), sched.ErrNoAffinity)
	}
	d := &Driver{
		cfg:            cfg,
		log:            log.Named("frame"),
		sched:          s,
		world:          w,
		device:         dev,
		lib:            render.NewLibrary(dev),
		arena:          arena,
		renderAffinity: sched.Worker(rw),
		spare:          &visual.Stream{},
	}
	for _, o := range opts {
		o(d)
	}
	if d.step == nil {
		d.step, _ = NewTimeStepPolicy(TimeStepConfig{Policy: TimeStepVariable})
	}
	return d, nil
}

// Library returns the device meshes held for the aggregate's mesh records.
func (d *Driver) Library() *render.Library { return d.lib }

// RenderWorker returns the worker Dispatch is pinned to.
func (d *Driver) RenderWorker() int {
	i, _ := d.renderAffinity.Single()
	return i
}

// Frame runs one frame to completion.
func (d *Driver) Frame(dt float64) (stats.FrameSample, error) {
	f := &state{
		d:             d,
		number:        d.world.BeginFrame(),
		dt:            dt,
		start:         time.Now(),
		scope:         d.arena.Scope(),
		executedStart: d.sched.Executed(),
	}
	done := sched.NewWaitable()
	hs, err := d.build(f, done)
	if err != nil {
		d.abandon(f, hs)
		return stats.FrameSample{}, fmt.Errorf("frame %d: build graph: %w", f.number, err)
	}
	if err := d.sched.KickN(hs...); err != nil {
		d.abandon(f, hs)
		return stats.FrameSample{}, fmt.Errorf("frame %d: kick: %w", f.number, err)
	}
	done.WaitHelping(d.sched)

	if err := f.err(); err != nil {
		return f.sample, fmt.Errorf("frame %d: %w", f.number, err)
	}
	return f.sample, nil
}

// abandon frees a frame whose graph never ran: the created tasks are
// discarded and the scope goes back to the arena.
func (d *Driver) abandon(f *state, hs []sched.Handle) {
	if err := d.sched.Discard(hs...); err != nil {
		d.log.Error("discard frame tasks", zap.Uint64("frame", f.number), zap.Error(err))
	}
	f.scope.Release()
}

// graph collects created handles so a failed build reports which task broke.
type graph struct {
	s   *sched.Scheduler
	hs  []sched.Handle
	err error
}

func (g *graph) add(k Kind, kernel sched.Kernel, data Payload, aff sched.Affinity, deps ...sched.Handle) sched.Handle {
	if g.err != nil {
		return 0
	}
	h, err := g.s.Create(k.String(), kernel, data, aff)
	if err != nil {
		g.err = fmt.Errorf("create %s: %w", k, err)
		return 0
	}
	g.hs = append(g.hs, h)
	g.after(h, deps...)
	return h
}

func (g *graph) after(h sched.Handle, deps ...sched.Handle) {
	for _, dep := range deps {
		if g.err != nil {
			return
		}
		if err := g.s.DependsOn(h, dep); err != nil {
			g.err = fmt.Errorf("edge %s -> %s: %w", dep, h, err)
		}
	}
}

func (d *Driver) build(f *state, done *sched.Waitable) ([]sched.Handle, error) {
	f.cameras = d.world.Cameras()
	f.culled = make([]*visual.CulledList, len(f.cameras))
	f.contexts = make([]*render.Context, len(f.cameras))

	uwd, err := alloc[UpdateWorldData](f)
	if err != nil {
		return nil, err
	}
	uwd.DT = f.dt
	uud, err := alloc[UpdateUnitsData](f)
	if err != nil {
		return nil, err
	}
	ad, err := alloc[ApplyData](f)
	if err != nil {
		return nil, err
	}
	dd, err := alloc[DispatchData](f)
	if err != nil {
		return nil, err
	}
	gd, err := alloc[GraduateData](f)
	if err != nil {
		return nil, err
	}
	rwd, err := alloc[RenderWorldData](f)
	if err != nil {
		return nil, err
	}

	g := &graph{s: d.sched}
	uw := g.add(KindUpdateWorld, sched.Bind(updateWorld), uwd, sched.AnyWorker)
	uu := g.add(KindUpdateUnits, sched.Bind(updateUnits), uud, sched.AnyWorker, uw)
	apply := g.add(KindApplyVisualRepresentationStream, sched.Bind(applyVisualRepresentationStream), ad, sched.AnyWorker, uu)
	disp := g.add(KindDispatch, sched.Bind(dispatch), dd, d.renderAffinity, apply)
	grad := g.add(KindGraduateUnits, sched.Bind(graduateUnits), gd, sched.AnyWorker, uu)

	for i := range f.cameras {
		cd, err := alloc[CullData](f)
		if err != nil {
			return g.hs, err
		}
		cd.Camera = i
		gen, err := alloc[GenerateData](f)
		if err != nil {
			return g.hs, err
		}
		gen.Camera = i

		fc := g.add(KindFrustumCull, sched.Bind(frustumCull), cd, sched.AnyWorker, apply)
		gr := g.add(KindGenerateRenderCommands, sched.Bind(generateRenderCommands), gen, sched.AnyWorker, fc)
		g.after(disp, gr)
		g.after(grad, fc)
	}
	rw := g.add(KindRenderWorld, sched.Bind(renderWorld), rwd, sched.AnyWorker, disp, grad)
	if g.err != nil {
		return g.hs, g.err
	}

	wt, err := d.sched.CreateWaitable(done, rw)
	if err != nil {
		return g.hs, fmt.Errorf("create %s: %w", KindWaitable, err)
	}
	return append(g.hs, wt), nil
}

// Run ticks at the given interval until ctx is cancelled. Each tick runs as
// many frames as the time step policy asks for. A frame error stops the loop
// and is returned; maxFrames > 0 stops it after that many frames.
func (d *Driver) Run(ctx context.Context, interval time.Duration, maxFrames uint64) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.log.Info("frame loop started", zap.String("time_step", d.step.Name()), zap.Duration("interval", interval))
	last := time.Now()
	var n uint64
	for {
		select {
		case <-ctx.Done():
			d.log.Info("frame loop stopped", zap.Uint64("frames", n))
			return nil
		case now := <-ticker.C:
			steps, perStep := d.step.Frame(now.Sub(last).Seconds())
			last = now
			for i := 0; i < steps; i++ {
				if _, err := d.Frame(perStep); err != nil {
					return err
				}
				n++
				if maxFrames > 0 && n >= maxFrames {
					d.log.Info("frame limit reached", zap.Uint64("frames", n))
					return nil
				}
			}
		}
	}
}
