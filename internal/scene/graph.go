// Package scene implements the per-unit scene graph: a flat list of nodes in
// parent-before-child order, each with a local pose and a cached world
// transform that is recomputed only when it, or an ancestor, is dirty.
package scene

import (
	"fmt"

	"github.com/butane/engine/internal/vmath"
)

type NodeKind uint8

const (
	KindTransform NodeKind = iota
	KindMesh
	KindCamera
)

func (k NodeKind) String() string {
	switch k {
	case KindTransform:
		return "transform"
	case KindMesh:
		return "mesh"
	case KindCamera:
		return "camera"
	default:
		return fmt.Sprintf("NodeKind(%d)", uint8(k))
	}
}

// ParseNodeKind maps the data-file spelling to a kind.
func ParseNodeKind(s string) (NodeKind, error) {
	switch s {
	case "", "transform":
		return KindTransform, nil
	case "mesh":
		return KindMesh, nil
	case "camera":
		return KindCamera, nil
	}
	return 0, fmt.Errorf("unknown node kind %q", s)
}

// Mesh references an opaque resource; Radius bounds it in local space.
type Mesh struct {
	Resource uint64
	Radius   float32
}

type Camera struct {
	FovY float32 // radians
	Near float32
	Far  float32
}

// NoParent marks a root node.
const NoParent = -1

type Node struct {
	Name   string
	Kind   NodeKind
	Parent int
	Local  vmath.Pose
	Mesh   Mesh
	Camera Camera
}

// Graph is owned by exactly one unit. It is not synchronized; the frame
// graph gives each unit to one task per stage.
type Graph struct {
	nodes   []Node
	world   []vmath.Mat4
	dirty   []bool
	changed []bool
	moved   []bool // per Update pass
}

func New() *Graph { return &Graph{} }

// Add appends a node. Its parent must already be in the graph.
func (g *Graph) Add(n Node) (int, error) {
	if n.Parent != NoParent && (n.Parent < 0 || n.Parent >= len(g.nodes)) {
		return 0, fmt.Errorf("node %q: parent %d not in graph of %d nodes", n.Name, n.Parent, len(g.nodes))
	}
	g.nodes = append(g.nodes, n)
	g.world = append(g.world, vmath.Identity())
	g.dirty = append(g.dirty, true)
	g.changed = append(g.changed, false)
	return len(g.nodes) - 1, nil
}

func (g *Graph) Len() int { return len(g.nodes) }

func (g *Graph) Node(i int) Node { return g.nodes[i] }

// World returns the world transform as of the last Update.
func (g *Graph) World(i int) vmath.Mat4 { return g.world[i] }

func (g *Graph) Local(i int) vmath.Pose { return g.nodes[i].Local }

func (g *Graph) SetLocal(i int, p vmath.Pose) {
	g.nodes[i].Local = p
	g.dirty[i] = true
}

// Translate moves the root node.
func (g *Graph) Translate(pos vmath.Vec3) {
	if len(g.nodes) == 0 {
		return
	}
	p := g.nodes[0].Local
	p.Position = pos
	g.SetLocal(0, p)
}

func (g *Graph) Dirty(i int) bool { return g.dirty[i] }

// Update recomputes the world transform of every dirty node and its
// descendants, and returns how many were recomputed.
func (g *Graph) Update() int {
	if len(g.moved) != len(g.nodes) {
		g.moved = make([]bool, len(g.nodes))
	}
	clear(g.moved)
	n := 0
	for i := range g.nodes {
		node := &g.nodes[i]
		if node.Parent != NoParent && g.moved[node.Parent] {
			g.dirty[i] = true
		}
		if !g.dirty[i] {
			continue
		}
		local := vmath.TRS(node.Local)
		if node.Parent == NoParent {
			g.world[i] = local
		} else {
			g.world[i] = g.world[node.Parent].Mul(local)
		}
		g.dirty[i] = false
		g.moved[i] = true
		g.changed[i] = true
		n++
	}
	return n
}

// TakeChanged reports whether node i moved since the previous call and
// clears the flag. Visual representation updates consume it.
func (g *Graph) TakeChanged(i int) bool {
	c := g.changed[i]
	g.changed[i] = false
	return c
}

// Clone copies the node layout for a new unit. World transforms start dirty.
func (g *Graph) Clone() *Graph {
	c := &Graph{
		nodes:   append([]Node(nil), g.nodes...),
		world:   make([]vmath.Mat4, len(g.nodes)),
		dirty:   make([]bool, len(g.nodes)),
		changed: make([]bool, len(g.nodes)),
	}
	for i := range c.dirty {
		c.world[i] = vmath.Identity()
		c.dirty[i] = true
	}
	return c
}
