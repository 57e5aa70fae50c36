package scene

import (
	"testing"

	"github.com/butane/engine/internal/vmath"
)

func buildChain(t *testing.T) *Graph {
	t.Helper()
	g := New()
	root := vmath.IdentityPose()
	if _, err := g.Add(Node{Name: "root", Parent: NoParent, Local: root}); err != nil {
		t.Fatal(err)
	}
	arm := vmath.IdentityPose()
	arm.Position = vmath.Vec3{X: 1}
	if _, err := g.Add(Node{Name: "arm", Parent: 0, Local: arm}); err != nil {
		t.Fatal(err)
	}
	hand := vmath.IdentityPose()
	hand.Position = vmath.Vec3{X: 1}
	if _, err := g.Add(Node{Name: "hand", Kind: KindMesh, Parent: 1, Local: hand}); err != nil {
		t.Fatal(err)
	}
	return g
}

func TestUpdatePropagatesToDescendants(t *testing.T) {
	g := buildChain(t)
	if n := g.Update(); n != 3 {
		t.Fatalf("first Update recomputed %d, want 3", n)
	}
	for i := 0; i < g.Len(); i++ {
		g.TakeChanged(i)
	}
	if n := g.Update(); n != 0 {
		t.Fatalf("clean Update recomputed %d, want 0", n)
	}

	g.Translate(vmath.Vec3{Y: 5})
	if n := g.Update(); n != 3 {
		t.Fatalf("Update after moving root recomputed %d, want 3", n)
	}
	got := g.World(2).Translation()
	if got != (vmath.Vec3{X: 2, Y: 5}) {
		t.Fatalf("hand world position = %+v", got)
	}
	if !g.TakeChanged(2) || g.TakeChanged(2) {
		t.Fatal("TakeChanged did not report then clear")
	}
}

func TestAddRejectsForwardParent(t *testing.T) {
	g := New()
	if _, err := g.Add(Node{Name: "orphan", Parent: 3}); err == nil {
		t.Fatal("Add accepted a parent that is not in the graph")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	g := buildChain(t)
	g.Update()
	c := g.Clone()
	c.Translate(vmath.Vec3{Z: 9})
	c.Update()
	if g.World(0).Translation() == c.World(0).Translation() {
		t.Fatal("moving the clone moved the original")
	}
}
