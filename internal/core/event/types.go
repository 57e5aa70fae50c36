package event

import "github.com/butane/engine/internal/core/ecs"

// World lifecycle events.

type UnitSpawned struct {
	Unit     ecs.EntityID
	Template string
	Frame    uint64
}

// UnitGraduated fires when a spawned unit joins the live set.
type UnitGraduated struct {
	Unit  ecs.EntityID
	Frame uint64
}

type UnitDespawned struct {
	Unit  ecs.EntityID
	Frame uint64
}
