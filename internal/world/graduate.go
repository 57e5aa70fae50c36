package world

import (
	"slices"

	"go.uber.org/zap"

	"github.com/butane/engine/internal/core/event"
)

// GraduateResult lists what one graduation changed.
type GraduateResult struct {
	Graduated []UnitID
	Deferred  int
	Despawned []UnitID
}

// Graduate promotes pending units into the live set and flushes the despawn
// queue. A pending unit graduates once its visuals were streamed and it was
// spawned before the given frame's culling started; anything spawned later
// waits for the next frame. Despawned units' visuals are queued for the next
// aggregate apply.
func (w *World) Graduate(frame uint64) GraduateResult {
	var res GraduateResult

	w.mu.Lock()
	keep := w.pending[:0]
	for _, p := range w.pending {
		u, ok := w.units.Get(p.id)
		if !ok {
			continue
		}
		early := p.frame < frame || (p.frame == frame && !p.afterCull)
		if early && u.visualsCreated {
			w.live = append(w.live, p.id)
			res.Graduated = append(res.Graduated, p.id)
			continue
		}
		keep = append(keep, p)
	}
	w.pending = keep
	res.Deferred = len(keep)

	for _, id := range w.despawns {
		if w.removeLocked(id) {
			res.Despawned = append(res.Despawned, id)
		}
	}
	w.despawns = w.despawns[:0]
	w.mu.Unlock()

	for _, id := range res.Graduated {
		event.Emit(w.Bus, event.UnitGraduated{Unit: id, Frame: frame})
	}
	for _, id := range res.Despawned {
		event.Emit(w.Bus, event.UnitDespawned{Unit: id, Frame: frame})
	}
	if len(res.Despawned) > 0 {
		w.log.Debug("units despawned", zap.Uint64("frame", frame), zap.Int("count", len(res.Despawned)))
	}
	return res
}

// removeLocked drops a unit from every set and queues its visual destroys.
// Caller holds mu.
func (w *World) removeLocked(id UnitID) bool {
	u, ok := w.units.Get(id)
	if !ok || !w.pool.Alive(id) {
		return false
	}
	if i := slices.Index(w.live, id); i >= 0 {
		w.live = slices.Delete(w.live, i, i+1)
	}
	w.pending = slices.DeleteFunc(w.pending, func(p pendingUnit) bool { return p.id == id })
	w.cameras = slices.DeleteFunc(w.cameras, func(c CameraRef) bool { return c.Unit == id })

	for _, v := range u.Visuals {
		if v.IsZero() {
			continue
		}
		if u.visualsCreated {
			w.destroys.Destroy(v)
		} else {
			w.ids.Free(v)
		}
	}
	w.units.Remove(id)
	w.pool.Destroy(id)
	return true
}
