package vmath

// Plane is n·p + d = 0, with n pointing into the frustum.
type Plane struct {
	N Vec3
	D float32
}

func (p Plane) Distance(v Vec3) float32 { return p.N.Dot(v) + p.D }

// Frustum holds the six clip planes: left, right, bottom, top, near, far.
type Frustum [6]Plane

// FrustumFromMatrix extracts normalized planes from a view-projection matrix.
func FrustumFromMatrix(m Mat4) Frustum {
	row := func(r int) [4]float32 { return [4]float32{m[r], m[4+r], m[8+r], m[12+r]} }
	r0, r1, r2, r3 := row(0), row(1), row(2), row(3)
	plane := func(a, b [4]float32, sign float32) Plane {
		p := Plane{
			N: Vec3{a[0] + sign*b[0], a[1] + sign*b[1], a[2] + sign*b[2]},
			D: a[3] + sign*b[3],
		}
		if l := p.N.Length(); l > 0 {
			p.N = p.N.Scale(1 / l)
			p.D /= l
		}
		return p
	}
	return Frustum{
		plane(r3, r0, 1),
		plane(r3, r0, -1),
		plane(r3, r1, 1),
		plane(r3, r1, -1),
		plane(r3, r2, 1),
		plane(r3, r2, -1),
	}
}

// IntersectsSphere reports whether any part of the sphere is inside.
func (f *Frustum) IntersectsSphere(center Vec3, radius float32) bool {
	for _, p := range f {
		if p.Distance(center) < -radius {
			return false
		}
	}
	return true
}
