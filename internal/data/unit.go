package data

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/butane/engine/internal/scene"
	"github.com/butane/engine/internal/vmath"
)

// NodeEntry is one scene-graph node of a unit template.
type NodeEntry struct {
	Name     string      `yaml:"name"`
	Kind     string      `yaml:"kind"`
	Parent   string      `yaml:"parent"` // empty = root
	Position [3]float32  `yaml:"position"`
	Rotation RotationDef `yaml:"rotation"`
	Scale    *[3]float32 `yaml:"scale"`
	Mesh     *MeshDef    `yaml:"mesh"`
	Camera   *CameraDef  `yaml:"camera"`
}

type RotationDef struct {
	Axis    [3]float32 `yaml:"axis"`
	Degrees float32    `yaml:"degrees"`
}

type MeshDef struct {
	Resource string  `yaml:"resource"`
	Radius   float32 `yaml:"radius"`
}

type CameraDef struct {
	Fov  float32 `yaml:"fov"` // vertical, degrees
	Near float32 `yaml:"near"`
	Far  float32 `yaml:"far"`
}

// UnitTemplate describes a spawnable unit.
type UnitTemplate struct {
	Name  string      `yaml:"name"`
	Nodes []NodeEntry `yaml:"nodes"`

	graph *scene.Graph
}

// UnitTable holds the unit templates by name, each prebuilt into a graph.
type UnitTable struct {
	units map[string]*UnitTemplate
}

// LoadUnitTable loads units.yaml.
func LoadUnitTable(path string) (*UnitTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read unit list: %w", err)
	}
	return ParseUnitTable(raw)
}

func ParseUnitTable(raw []byte) (*UnitTable, error) {
	var entries []UnitTemplate
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse unit list: %w", err)
	}
	t := &UnitTable{units: make(map[string]*UnitTemplate, len(entries))}
	for i := range entries {
		u := &entries[i]
		if _, dup := t.units[u.Name]; dup {
			return nil, fmt.Errorf("unit %q defined twice", u.Name)
		}
		g, err := u.build()
		if err != nil {
			return nil, fmt.Errorf("unit %q: %w", u.Name, err)
		}
		u.graph = g
		t.units[u.Name] = u
	}
	return t, nil
}

func (u *UnitTemplate) build() (*scene.Graph, error) {
	g := scene.New()
	index := make(map[string]int, len(u.Nodes))
	for _, n := range u.Nodes {
		kind, err := scene.ParseNodeKind(n.Kind)
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", n.Name, err)
		}
		parent := scene.NoParent
		if n.Parent != "" {
			p, ok := index[n.Parent]
			if !ok {
				return nil, fmt.Errorf("node %q: parent %q must be listed before it", n.Name, n.Parent)
			}
			parent = p
		}
		node := scene.Node{
			Name:   n.Name,
			Kind:   kind,
			Parent: parent,
			Local:  n.pose(),
		}
		switch kind {
		case scene.KindMesh:
			if n.Mesh == nil {
				return nil, fmt.Errorf("mesh node %q has no mesh", n.Name)
			}
			node.Mesh = scene.Mesh{Resource: ResourceID(n.Mesh.Resource), Radius: n.Mesh.Radius}
		case scene.KindCamera:
			if n.Camera == nil {
				return nil, fmt.Errorf("camera node %q has no camera", n.Name)
			}
			node.Camera = scene.Camera{
				FovY: n.Camera.Fov * math.Pi / 180,
				Near: n.Camera.Near,
				Far:  n.Camera.Far,
			}
		}
		i, err := g.Add(node)
		if err != nil {
			return nil, err
		}
		index[n.Name] = i
	}
	if g.Len() == 0 {
		return nil, fmt.Errorf("no nodes")
	}
	return g, nil
}

func (n *NodeEntry) pose() vmath.Pose {
	p := vmath.IdentityPose()
	p.Position = vmath.Vec3{X: n.Position[0], Y: n.Position[1], Z: n.Position[2]}
	if n.Rotation.Degrees != 0 {
		axis := vmath.Vec3{X: n.Rotation.Axis[0], Y: n.Rotation.Axis[1], Z: n.Rotation.Axis[2]}
		p.Rotation = vmath.AxisAngle(axis, n.Rotation.Degrees*math.Pi/180)
	}
	if n.Scale != nil {
		p.Scale = vmath.Vec3{X: n.Scale[0], Y: n.Scale[1], Z: n.Scale[2]}
	}
	return p
}

// Instantiate returns a fresh graph for a new unit of the named template.
func (t *UnitTable) Instantiate(name string) (*scene.Graph, error) {
	u, ok := t.units[name]
	if !ok {
		return nil, fmt.Errorf("unknown unit template %q", name)
	}
	return u.graph.Clone(), nil
}

// Get returns the template, or nil if none.
func (t *UnitTable) Get(name string) *UnitTemplate {
	return t.units[name]
}

// NodeIndex returns the graph index of the named node of a template.
func (u *UnitTemplate) NodeIndex(name string) (int, bool) {
	for i, n := range u.Nodes {
		if n.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Count returns the total number of templates loaded.
func (t *UnitTable) Count() int {
	return len(t.units)
}
