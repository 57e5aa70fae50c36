package frame

import (
	"fmt"

	"github.com/butane/engine/internal/world"
)

// Kind names a frame task.
type Kind uint8

const (
	KindUpdateWorld Kind = iota
	KindUpdateUnits
	KindUpdateSceneGraphs
	KindUpdateVisualRepresentations
	KindApplyVisualRepresentationStream
	KindFrustumCull
	KindGenerateRenderCommands
	KindDispatch
	KindGraduateUnits
	KindRenderWorld
	KindWaitable
)

var kindNames = [...]string{
	KindUpdateWorld:                     "UpdateWorld",
	KindUpdateUnits:                     "UpdateUnits",
	KindUpdateSceneGraphs:               "UpdateSceneGraphs",
	KindUpdateVisualRepresentations:     "UpdateVisualRepresentations",
	KindApplyVisualRepresentationStream: "ApplyVisualRepresentationStream",
	KindFrustumCull:                     "FrustumCull",
	KindGenerateRenderCommands:          "GenerateRenderCommands",
	KindDispatch:                        "Dispatch",
	KindGraduateUnits:                   "GraduateUnits",
	KindRenderWorld:                     "RenderWorld",
	KindWaitable:                        "Waitable",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Payload is the data handed to a frame task. The set is closed: only this
// package defines payloads.
type Payload interface {
	Kind() Kind
	frame() *state
}

type base struct{ f *state }

func (b *base) frame() *state { return b.f }

type UpdateWorldData struct {
	base
	DT float64
}

type UpdateUnitsData struct{ base }

// UnitBatch is a contiguous range of the frame's unit snapshot.
type UnitBatch struct {
	base
	Units []world.UnitID
}

func (b *UnitBatch) Reset() {
	b.f = nil
	b.Units = b.Units[:0]
}

type SceneGraphsData struct{ UnitBatch }

type VisualRepresentationsData struct{ UnitBatch }

type ApplyData struct{ base }

// CameraData addresses one camera of the frame by index.
type CameraData struct {
	base
	Camera int
}

type CullData struct{ CameraData }

type GenerateData struct{ CameraData }

type DispatchData struct{ base }

type GraduateData struct{ base }

type RenderWorldData struct{ base }

func (*UpdateWorldData) Kind() Kind           { return KindUpdateWorld }
func (*UpdateUnitsData) Kind() Kind           { return KindUpdateUnits }
func (*SceneGraphsData) Kind() Kind           { return KindUpdateSceneGraphs }
func (*VisualRepresentationsData) Kind() Kind { return KindUpdateVisualRepresentations }
func (*ApplyData) Kind() Kind                 { return KindApplyVisualRepresentationStream }
func (*CullData) Kind() Kind                  { return KindFrustumCull }
func (*GenerateData) Kind() Kind              { return KindGenerateRenderCommands }
func (*DispatchData) Kind() Kind              { return KindDispatch }
func (*GraduateData) Kind() Kind              { return KindGraduateUnits }
func (*RenderWorldData) Kind() Kind           { return KindRenderWorld }
