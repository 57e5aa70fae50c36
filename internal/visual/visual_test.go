package visual

import (
	"math"
	"slices"
	"testing"

	"github.com/butane/engine/internal/vmath"
)

func at(x, y, z float32) vmath.Mat4 {
	p := vmath.IdentityPose()
	p.Position = vmath.Vec3{X: x, Y: y, Z: z}
	return vmath.TRS(p)
}

func TestApplySwapRemove(t *testing.T) {
	ids := NewAllocator()
	agg := NewAggregate(ids)
	a, b, c := ids.New(), ids.New(), ids.New()

	var s Stream
	s.CreateMesh(a, MeshDesc{Resource: 1, Radius: 1}, at(0, 0, 0))
	s.CreateMesh(b, MeshDesc{Resource: 2, Radius: 1}, at(1, 0, 0))
	s.CreateMesh(c, MeshDesc{Resource: 3, Radius: 1}, at(2, 0, 0))
	if st := agg.Apply(&s); st.Created != 3 || !slices.Equal(st.Acquired, []uint64{1, 2, 3}) {
		t.Fatalf("create stats = %+v", st)
	}

	var d Stream
	d.Destroy(a)
	d.Move(c, at(9, 0, 0))
	d.Move(a, at(5, 5, 5))
	st := agg.Apply(&d)
	if st.Destroyed != 1 || st.Moved != 1 || st.Dropped != 1 || !slices.Equal(st.Released, []uint64{1}) {
		t.Fatalf("stats = %+v", st)
	}
	if _, ok := agg.Mesh(a); ok {
		t.Fatal("destroyed mesh still present")
	}
	m, ok := agg.Mesh(c)
	if !ok || m.World.Translation().X != 9 {
		t.Fatalf("moved mesh = %+v, %v", m, ok)
	}
	if n, _ := agg.Counts(); n != 2 {
		t.Fatalf("mesh count = %d, want 2", n)
	}
	if ids.Alive(a) {
		t.Fatal("destroyed id not returned to the allocator")
	}
}

func TestStreamsApplyInOrder(t *testing.T) {
	ids := NewAllocator()
	agg := NewAggregate(ids)
	id := ids.New()
	var first, second Stream
	first.CreateCamera(id, CameraDesc{FovY: 1, Near: 0.1, Far: 10}, at(0, 0, 0))
	second.Move(id, at(0, 3, 0))
	agg.Apply(&first, nil, &second)
	cam, ok := agg.Camera(id)
	if !ok || cam.Eye().Y != 3 {
		t.Fatalf("camera = %+v, %v", cam, ok)
	}
}

func TestCull(t *testing.T) {
	cam := Camera{
		Desc:  CameraDesc{FovY: math.Pi / 2, Near: 0.1, Far: 100, Viewport: Viewport{Width: 4, Height: 4}},
		World: vmath.Identity(),
	}
	meshes := []Mesh{
		{ID: 1, Desc: MeshDesc{Radius: 1}, World: at(0, 0, -10)},
		{ID: 2, Desc: MeshDesc{Radius: 1}, World: at(0, 0, 10)},
		{ID: 3, Desc: MeshDesc{Radius: 1}, World: at(0, 0, -20)},
	}
	var out CulledList
	if err := Cull(meshes, []vmath.Frustum{cam.Frustum()}, cam.Eye(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 2 || out.Items[0].ID != 1 || out.Items[1].ID != 3 {
		t.Fatalf("culled = %+v", out.Items)
	}
	if out.Items[0].Distance != 10 || out.Items[0].Visible != 1 {
		t.Fatalf("first culled = %+v", out.Items[0])
	}

	out.Reset()
	if err := Cull(nil, []vmath.Frustum{cam.Frustum()}, cam.Eye(), &out); err != nil || out.Len() != 0 {
		t.Fatalf("empty input: len %d, err %v", out.Len(), err)
	}

	if err := Cull(meshes, make([]vmath.Frustum, MaxFrustums+1), cam.Eye(), &out); err == nil {
		t.Fatal("accepted more frusta than the visibility mask holds")
	}
}
