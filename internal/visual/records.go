package visual

import "github.com/butane/engine/internal/vmath"

type Viewport struct {
	X, Y, Width, Height float32
}

func (v Viewport) Aspect() float32 {
	if v.Height == 0 {
		return 1
	}
	return v.Width / v.Height
}

type MeshDesc struct {
	Resource uint64
	Radius   float32
}

type CameraDesc struct {
	FovY, Near, Far float32
	Viewport        Viewport
}

type Mesh struct {
	ID    ID
	Desc  MeshDesc
	World vmath.Mat4
}

// Bounds returns the world-space bounding sphere.
func (m *Mesh) Bounds() (vmath.Vec3, float32) {
	return m.World.Translation(), m.Desc.Radius * m.World.MaxScale()
}

type Camera struct {
	ID    ID
	Desc  CameraDesc
	World vmath.Mat4
}

func (c *Camera) Eye() vmath.Vec3 { return c.World.Translation() }

func (c *Camera) ViewProjection() vmath.Mat4 {
	proj := vmath.Perspective(c.Desc.FovY, c.Desc.Viewport.Aspect(), c.Desc.Near, c.Desc.Far)
	return proj.Mul(c.World.RigidInverse())
}

func (c *Camera) Frustum() vmath.Frustum {
	return vmath.FrustumFromMatrix(c.ViewProjection())
}
