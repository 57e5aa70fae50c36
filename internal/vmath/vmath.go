// Package vmath holds the small amount of linear algebra the frame graph
// needs: poses, 4x4 transforms and view frusta.
package vmath

import "math"

type Vec3 struct{ X, Y, Z float32 }

func (a Vec3) Add(b Vec3) Vec3       { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3       { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float32) Vec3  { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Dot(b Vec3) float32    { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Vec3) Length() float32       { return float32(math.Sqrt(float64(a.Dot(a)))) }
func (a Vec3) Distance(b Vec3) float32 { return a.Sub(b).Length() }

func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{a.Y*b.Z - a.Z*b.Y, a.Z*b.X - a.X*b.Z, a.X*b.Y - a.Y*b.X}
}

// Quat is a unit rotation quaternion.
type Quat struct{ X, Y, Z, W float32 }

func IdentityQuat() Quat { return Quat{W: 1} }

// AxisAngle builds a rotation of rad radians about axis (normalized here).
func AxisAngle(axis Vec3, rad float32) Quat {
	l := axis.Length()
	if l == 0 {
		return IdentityQuat()
	}
	axis = axis.Scale(1 / l)
	s := float32(math.Sin(float64(rad) / 2))
	return Quat{axis.X * s, axis.Y * s, axis.Z * s, float32(math.Cos(float64(rad) / 2))}
}

func (q Quat) Mul(r Quat) Quat {
	return Quat{
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
	}
}

// Pose is a local transform: translation, rotation, scale.
type Pose struct {
	Position Vec3
	Rotation Quat
	Scale    Vec3
}

func IdentityPose() Pose {
	return Pose{Rotation: IdentityQuat(), Scale: Vec3{1, 1, 1}}
}

// Mat4 is column-major: M[c*4+r].
type Mat4 [16]float32

func Identity() Mat4 {
	return Mat4{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

// TRS composes translation * rotation * scale.
func TRS(p Pose) Mat4 {
	q := p.Rotation
	xx, yy, zz := q.X*q.X, q.Y*q.Y, q.Z*q.Z
	xy, xz, yz := q.X*q.Y, q.X*q.Z, q.Y*q.Z
	wx, wy, wz := q.W*q.X, q.W*q.Y, q.W*q.Z
	s := p.Scale
	return Mat4{
		(1 - 2*(yy+zz)) * s.X, 2 * (xy + wz) * s.X, 2 * (xz - wy) * s.X, 0,
		2 * (xy - wz) * s.Y, (1 - 2*(xx+zz)) * s.Y, 2 * (yz + wx) * s.Y, 0,
		2 * (xz + wy) * s.Z, 2 * (yz - wx) * s.Z, (1 - 2*(xx+yy)) * s.Z, 0,
		p.Position.X, p.Position.Y, p.Position.Z, 1,
	}
}

func (m Mat4) Mul(n Mat4) Mat4 {
	var out Mat4
	for c := 0; c < 4; c++ {
		for r := 0; r < 4; r++ {
			var v float32
			for k := 0; k < 4; k++ {
				v += m[k*4+r] * n[c*4+k]
			}
			out[c*4+r] = v
		}
	}
	return out
}

func (m Mat4) Translation() Vec3 { return Vec3{m[12], m[13], m[14]} }

func (m Mat4) TransformPoint(v Vec3) Vec3 {
	return Vec3{
		m[0]*v.X + m[4]*v.Y + m[8]*v.Z + m[12],
		m[1]*v.X + m[5]*v.Y + m[9]*v.Z + m[13],
		m[2]*v.X + m[6]*v.Y + m[10]*v.Z + m[14],
	}
}

// MaxScale is the largest axis scale, used to grow bounding radii.
func (m Mat4) MaxScale() float32 {
	sx := Vec3{m[0], m[1], m[2]}.Length()
	sy := Vec3{m[4], m[5], m[6]}.Length()
	sz := Vec3{m[8], m[9], m[10]}.Length()
	return max(sx, sy, sz)
}

// RigidInverse inverts a rotation+translation transform (no scale).
func (m Mat4) RigidInverse() Mat4 {
	out := Mat4{
		m[0], m[4], m[8], 0,
		m[1], m[5], m[9], 0,
		m[2], m[6], m[10], 0,
		0, 0, 0, 1,
	}
	t := m.Translation()
	out[12] = -(out[0]*t.X + out[4]*t.Y + out[8]*t.Z)
	out[13] = -(out[1]*t.X + out[5]*t.Y + out[9]*t.Z)
	out[14] = -(out[2]*t.X + out[6]*t.Y + out[10]*t.Z)
	return out
}

// Perspective is a right-handed projection looking down -Z with depth in [-1, 1].
func Perspective(fovY, aspect, near, far float32) Mat4 {
	f := float32(1 / math.Tan(float64(fovY)/2))
	return Mat4{
		f / aspect, 0, 0, 0,
		0, f, 0, 0,
		0, 0, (far + near) / (near - far), -1,
		0, 0, 2 * far * near / (near - far), 0,
	}
}
