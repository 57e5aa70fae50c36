package visual

import "sync"

// ApplyStats counts what one Apply changed.
type ApplyStats struct {
	Created   int
	Moved     int
	Destroyed int
	Dropped   int // changes addressed to unknown ids

	// Sources of the meshes created and destroyed, in apply order. Owners of
	// device resources acquire and release by these.
	Acquired []uint64
	Released []uint64
}

// Aggregate stores every visual representation in dense slices with a sparse
// id→index map. Apply takes the write lock once for all streams, so readers
// never observe a half-applied frame.
type Aggregate struct {
	ids *Allocator

	mu          sync.RWMutex
	meshes      []Mesh
	meshIndex   map[ID]int
	cameras     []Camera
	cameraIndex map[ID]int
}

func NewAggregate(ids *Allocator) *Aggregate {
	return &Aggregate{
		ids:         ids,
		meshIndex:   make(map[ID]int),
		cameraIndex: make(map[ID]int),
	}
}

// Apply applies the streams in order. Destroyed ids go back to the allocator.
func (a *Aggregate) Apply(streams ...*Stream) ApplyStats {
	var st ApplyStats
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range streams {
		if s == nil {
			continue
		}
		for i := range s.entries {
			a.applyOne(&s.entries[i], &st)
		}
	}
	return st
}

func (a *Aggregate) applyOne(e *entry, st *ApplyStats) {
	switch e.op {
	case opCreateMesh:
		if _, ok := a.meshIndex[e.id]; ok {
			st.Dropped++
			return
		}
		a.meshIndex[e.id] = len(a.meshes)
		a.meshes = append(a.meshes, Mesh{ID: e.id, Desc: e.mesh, World: e.world})
		st.Created++
		st.Acquired = append(st.Acquired, e.mesh.Resource)
	case opCreateCamera:
		if _, ok := a.cameraIndex[e.id]; ok {
			st.Dropped++
			return
		}
		a.cameraIndex[e.id] = len(a.cameras)
		a.cameras = append(a.cameras, Camera{ID: e.id, Desc: e.camera, World: e.world})
		st.Created++
	case opMove:
		if i, ok := a.meshIndex[e.id]; ok {
			a.meshes[i].World = e.world
			st.Moved++
		} else if i, ok := a.cameraIndex[e.id]; ok {
			a.cameras[i].World = e.world
			st.Moved++
		} else {
			st.Dropped++
		}
	case opDestroy:
		if m, ok := a.removeMesh(e.id); ok {
			st.Released = append(st.Released, m.Desc.Resource)
		} else if !a.removeCamera(e.id) {
			st.Dropped++
			return
		}
		a.ids.Free(e.id)
		st.Destroyed++
	}
}

func (a *Aggregate) removeMesh(id ID) (Mesh, bool) {
	i, ok := a.meshIndex[id]
	if !ok {
		return Mesh{}, false
	}
	removed := a.meshes[i]
	last := len(a.meshes) - 1
	if i != last {
		a.meshes[i] = a.meshes[last]
		a.meshIndex[a.meshes[i].ID] = i
	}
	a.meshes = a.meshes[:last]
	delete(a.meshIndex, id)
	return removed, true
}

func (a *Aggregate) removeCamera(id ID) bool {
	i, ok := a.cameraIndex[id]
	if !ok {
		return false
	}
	last := len(a.cameras) - 1
	if i != last {
		a.cameras[i] = a.cameras[last]
		a.cameraIndex[a.cameras[i].ID] = i
	}
	a.cameras = a.cameras[:last]
	delete(a.cameraIndex, id)
	return true
}

// ReadMeshes calls fn with the dense mesh slice under the read lock. fn must
// not retain the slice.
func (a *Aggregate) ReadMeshes(fn func([]Mesh)) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	fn(a.meshes)
}

func (a *Aggregate) Camera(id ID) (Camera, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	i, ok := a.cameraIndex[id]
	if !ok {
		return Camera{}, false
	}
	return a.cameras[i], true
}

func (a *Aggregate) Mesh(id ID) (Mesh, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	i, ok := a.meshIndex[id]
	if !ok {
		return Mesh{}, false
	}
	return a.meshes[i], true
}

func (a *Aggregate) Counts() (meshes, cameras int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.meshes), len(a.cameras)
}
