package visual

import (
	"fmt"
	"unsafe"

	"github.com/butane/engine/internal/vmath"
)

// MaxFrustums is the width of Culled.Visible.
const MaxFrustums = 32

// Culled is one mesh that survived culling. Bit i of Visible is set when the
// mesh intersects frustum i.
type Culled struct {
	ID       ID
	Resource uint64
	World    vmath.Mat4
	Radius   float32
	Distance float32
	Visible  uint32
}

// CulledList is scratch output of a cull task.
type CulledList struct {
	Items []Culled
}

func (l *CulledList) Reset() { l.Items = l.Items[:0] }

func (l *CulledList) Len() int { return len(l.Items) }

// ScratchBytes reports the retained item capacity.
func (l *CulledList) ScratchBytes() int64 {
	return int64(cap(l.Items)) * int64(unsafe.Sizeof(Culled{}))
}

// Cull appends every mesh intersecting at least one frustum to out. Distance
// is measured from eye. An empty mesh slice leaves out empty.
func Cull(meshes []Mesh, frusta []vmath.Frustum, eye vmath.Vec3, out *CulledList) error {
	if len(frusta) > MaxFrustums {
		return fmt.Errorf("cull against %d frusta: at most %d", len(frusta), MaxFrustums)
	}
	for i := range meshes {
		m := &meshes[i]
		center, radius := m.Bounds()
		var bits uint32
		for f := range frusta {
			if frusta[f].IntersectsSphere(center, radius) {
				bits |= 1 << uint(f)
			}
		}
		if bits == 0 {
			continue
		}
		out.Items = append(out.Items, Culled{
			ID:       m.ID,
			Resource: m.Desc.Resource,
			World:    m.World,
			Radius:   radius,
			Distance: center.Distance(eye),
			Visible:  bits,
		})
	}
	return nil
}
