package vmath

import (
	"math"
	"testing"
)

func near(a, b float32) bool { return math.Abs(float64(a-b)) < 1e-4 }

func TestTRSComposesParentChild(t *testing.T) {
	parent := IdentityPose()
	parent.Position = Vec3{10, 0, 0}
	parent.Rotation = AxisAngle(Vec3{0, 1, 0}, math.Pi/2)
	child := IdentityPose()
	child.Position = Vec3{0, 0, -1}

	world := TRS(parent).Mul(TRS(child))
	got := world.Translation()
	// Rotating (0,0,-1) by +90° about Y gives (-1,0,0).
	if !near(got.X, 9) || !near(got.Y, 0) || !near(got.Z, 0) {
		t.Fatalf("child world position = %+v, want (9,0,0)", got)
	}
}

func TestRigidInverse(t *testing.T) {
	p := IdentityPose()
	p.Position = Vec3{1, 2, 3}
	p.Rotation = AxisAngle(Vec3{1, 1, 0}, 0.7)
	m := TRS(p)
	id := m.Mul(m.RigidInverse())
	for i, v := range Identity() {
		if !near(id[i], v) {
			t.Fatalf("m * inverse(m)[%d] = %v, want %v", i, id[i], v)
		}
	}
}

func TestFrustumSphere(t *testing.T) {
	proj := Perspective(math.Pi/2, 1, 0.1, 100)
	f := FrustumFromMatrix(proj)
	cases := []struct {
		name   string
		center Vec3
		radius float32
		want   bool
	}{
		{"ahead", Vec3{0, 0, -10}, 1, true},
		{"behind", Vec3{0, 0, 10}, 1, false},
		{"beyond far", Vec3{0, 0, -200}, 1, false},
		{"far left", Vec3{-50, 0, -10}, 1, false},
		{"straddles left", Vec3{-10.5, 0, -10}, 1, true},
	}
	for _, c := range cases {
		if got := f.IntersectsSphere(c.center, c.radius); got != c.want {
			t.Errorf("%s: IntersectsSphere = %v, want %v", c.name, got, c.want)
		}
	}
}
