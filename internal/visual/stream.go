package visual

import (
	"unsafe"

	"github.com/butane/engine/internal/vmath"
)

type op uint8

const (
	opCreateMesh op = iota
	opCreateCamera
	opMove
	opDestroy
)

type entry struct {
	op     op
	id     ID
	world  vmath.Mat4
	mesh   MeshDesc
	camera CameraDesc
}

// Stream is a batch of changes to the aggregate, written by one task and
// applied by another. It is scratch memory: Reset keeps its capacity.
type Stream struct {
	entries []entry
}

func (s *Stream) CreateMesh(id ID, d MeshDesc, world vmath.Mat4) {
	s.entries = append(s.entries, entry{op: opCreateMesh, id: id, mesh: d, world: world})
}

func (s *Stream) CreateCamera(id ID, d CameraDesc, world vmath.Mat4) {
	s.entries = append(s.entries, entry{op: opCreateCamera, id: id, camera: d, world: world})
}

func (s *Stream) Move(id ID, world vmath.Mat4) {
	s.entries = append(s.entries, entry{op: opMove, id: id, world: world})
}

func (s *Stream) Destroy(id ID) {
	s.entries = append(s.entries, entry{op: opDestroy, id: id})
}

func (s *Stream) Len() int { return len(s.entries) }

func (s *Stream) Reset() { s.entries = s.entries[:0] }

func (s *Stream) ScratchBytes() int64 {
	return int64(cap(s.entries)) * int64(unsafe.Sizeof(entry{}))
}
