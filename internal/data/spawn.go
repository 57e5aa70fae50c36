package data

import (
	"fmt"
	"math/rand/v2"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/butane/engine/internal/visual"
	"github.com/butane/engine/internal/vmath"
	"github.com/butane/engine/internal/world"
)

// SpawnEntry places Count units of a template around Origin, offset by up to
// Spread on each axis.
type SpawnEntry struct {
	Template string     `yaml:"template"`
	Count    int        `yaml:"count"`
	Origin   [3]float32 `yaml:"origin"`
	Spread   [3]float32 `yaml:"spread"`
	Seed     uint64     `yaml:"seed"`
}

type ViewportDef struct {
	X      float32 `yaml:"x"`
	Y      float32 `yaml:"y"`
	Width  float32 `yaml:"width"`
	Height float32 `yaml:"height"`
}

// CameraEntry spawns a unit and registers one of its camera nodes.
type CameraEntry struct {
	Template string      `yaml:"template"`
	Node     string      `yaml:"node"`
	Position [3]float32  `yaml:"position"`
	Viewport ViewportDef `yaml:"viewport"`
}

type SpawnList struct {
	Units   []SpawnEntry  `yaml:"units"`
	Cameras []CameraEntry `yaml:"cameras"`
}

// LoadSpawnList loads spawns.yaml.
func LoadSpawnList(path string) (*SpawnList, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read spawn list: %w", err)
	}
	var l SpawnList
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("parse spawn list: %w", err)
	}
	return &l, nil
}

// Count returns the number of units the list spawns, cameras included.
func (l *SpawnList) Count() int {
	n := len(l.Cameras)
	for _, e := range l.Units {
		n += e.Count
	}
	return n
}

// Populate spawns everything in the list into w.
func (l *SpawnList) Populate(w *world.World, units *UnitTable) error {
	for _, c := range l.Cameras {
		tpl := units.Get(c.Template)
		if tpl == nil {
			return fmt.Errorf("camera: unknown unit template %q", c.Template)
		}
		node, ok := tpl.NodeIndex(c.Node)
		if !ok {
			return fmt.Errorf("camera: template %q has no node %q", c.Template, c.Node)
		}
		g, err := units.Instantiate(c.Template)
		if err != nil {
			return err
		}
		g.Translate(vec(c.Position))
		id := w.Spawn(c.Template, g)
		vp := visual.Viewport{X: c.Viewport.X, Y: c.Viewport.Y, Width: c.Viewport.Width, Height: c.Viewport.Height}
		if _, err := w.AddCamera(id, node, vp); err != nil {
			return err
		}
	}
	for _, e := range l.Units {
		rng := rand.New(rand.NewPCG(e.Seed, uint64(e.Count)))
		for i := 0; i < e.Count; i++ {
			g, err := units.Instantiate(e.Template)
			if err != nil {
				return err
			}
			pos := vec(e.Origin).Add(vmath.Vec3{
				X: jitter(rng, e.Spread[0]),
				Y: jitter(rng, e.Spread[1]),
				Z: jitter(rng, e.Spread[2]),
			})
			g.Translate(pos)
			w.Spawn(e.Template, g)
		}
	}
	return nil
}

func jitter(rng *rand.Rand, spread float32) float32 {
	if spread == 0 {
		return 0
	}
	return (rng.Float32()*2 - 1) * spread
}

func vec(v [3]float32) vmath.Vec3 { return vmath.Vec3{X: v[0], Y: v[1], Z: v[2]} }
