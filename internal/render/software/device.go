// Package software rasterizes submitted contexts on the CPU with gg. Each
// draw becomes a disc at the projected bounding sphere.
package software

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gogpu/gg"
	"go.uber.org/zap"

	"github.com/butane/engine/internal/render"
	"github.com/butane/engine/internal/vmath"
)

type Config struct {
	Width, Height int
	// SnapshotEvery writes a PNG every n submitted frames; 0 disables.
	SnapshotEvery int
	SnapshotDir   string
}

type Device struct {
	*render.Resources
	cfg Config
	log *zap.Logger

	mu     sync.Mutex
	dc     *gg.Context
	frames uint64
	drawn  uint64
}

func New(cfg Config, log *zap.Logger) (*Device, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: software target %dx%d", render.ErrBackend, cfg.Width, cfg.Height)
	}
	if cfg.SnapshotEvery > 0 {
		if err := os.MkdirAll(cfg.SnapshotDir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: snapshot dir: %v", render.ErrBackend, err)
		}
	}
	return &Device{
		Resources: render.NewResources(),
		cfg:       cfg,
		log:       log.Named("software"),
		dc:        gg.NewContext(cfg.Width, cfg.Height),
	}, nil
}

func (d *Device) Submit(ctxs []*render.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dc == nil {
		return fmt.Errorf("%w: device closed", render.ErrBackend)
	}
	for _, c := range ctxs {
		if err := d.execute(c); err != nil {
			return err
		}
	}
	d.frames++
	if d.cfg.SnapshotEvery > 0 && d.frames%uint64(d.cfg.SnapshotEvery) == 0 {
		path := filepath.Join(d.cfg.SnapshotDir, fmt.Sprintf("frame-%06d.png", d.frames))
		if err := d.dc.SavePNG(path); err != nil {
			return fmt.Errorf("%w: snapshot: %v", render.ErrBackend, err)
		}
		d.log.Debug("snapshot written", zap.String("path", path))
	}
	return nil
}

func (d *Device) execute(c *render.Context) error {
	var vp struct{ x, y, w, h float64 }
	vp.w, vp.h = float64(d.cfg.Width), float64(d.cfg.Height)

	for _, cmd := range c.Sorted() {
		switch cmd.Kind {
		case render.CmdClear:
			d.dc.ClearWithColor(gg.RGBA2(float64(cmd.Color.R), float64(cmd.Color.G), float64(cmd.Color.B), float64(cmd.Color.A)))
		case render.CmdViewport:
			if cmd.Viewport.Width > 0 && cmd.Viewport.Height > 0 {
				vp.x, vp.y = float64(cmd.Viewport.X), float64(cmd.Viewport.Y)
				vp.w, vp.h = float64(cmd.Viewport.Width), float64(cmd.Viewport.Height)
			}
		case render.CmdDraw:
			desc, ok := d.Describe(cmd.Draw.Resource)
			if !ok {
				return fmt.Errorf("draw %d: %w", cmd.Draw.Resource, render.ErrUnknownResource)
			}
			x, y, r, ok := project(c.ViewProjection, cmd.Draw.World.Translation(), cmd.Draw.Radius)
			if !ok {
				continue
			}
			shade := 0.3 + 0.7*float64(desc.Source%7)/6
			d.dc.SetRGB(shade, 0.6, 1-shade)
			d.dc.DrawCircle(vp.x+(x+1)/2*vp.w, vp.y+(1-y)/2*vp.h, max(1, r*vp.h/2))
			if err := d.dc.Fill(); err != nil {
				return fmt.Errorf("%w: fill: %v", render.ErrBackend, err)
			}
			d.drawn++
		case render.CmdPresent:
		}
	}
	return nil
}

// project maps a world-space sphere to normalized device coordinates.
func project(vp vmath.Mat4, center vmath.Vec3, radius float32) (x, y, r float64, ok bool) {
	cx := vp[0]*center.X + vp[4]*center.Y + vp[8]*center.Z + vp[12]
	cy := vp[1]*center.X + vp[5]*center.Y + vp[9]*center.Z + vp[13]
	cw := vp[3]*center.X + vp[7]*center.Y + vp[11]*center.Z + vp[15]
	if cw <= 0 {
		return 0, 0, 0, false
	}
	return float64(cx / cw), float64(cy / cw), float64(radius*vp[5]) / float64(cw), true
}

// Stats returns frames submitted and discs drawn.
func (d *Device) Stats() (frames, drawn uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frames, d.drawn
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dc == nil {
		return nil
	}
	err := d.dc.Close()
	d.dc = nil
	return err
}
