// Package render defines the command buffers produced by the frame graph and
// the device contract that consumes them.
package render

import (
	"fmt"
	"slices"
	"unsafe"

	"github.com/butane/engine/internal/visual"
	"github.com/butane/engine/internal/vmath"
)

type CommandKind uint8

const (
	CmdClear CommandKind = iota
	CmdViewport
	CmdDraw
	CmdPresent
)

func (k CommandKind) String() string {
	switch k {
	case CmdClear:
		return "clear"
	case CmdViewport:
		return "viewport"
	case CmdDraw:
		return "draw"
	case CmdPresent:
		return "present"
	default:
		return fmt.Sprintf("CommandKind(%d)", uint8(k))
	}
}

// Sort key layout: layer in the top 8 bits, pass in the next 8, depth in the
// low 48. Clear always sorts first and present last.
const (
	depthBits = 48
	depthMask = 1<<depthBits - 1

	KeyFirst uint64 = 0
	KeyLast  uint64 = ^uint64(0)
)

// Layers and passes used by command generation.
const (
	LayerWorld uint8 = 1
	PassOpaque uint8 = 0
)

func SortKey(layer, pass uint8, depth uint64) uint64 {
	return uint64(layer)<<56 | uint64(pass)<<depthBits | depth&depthMask
}

// QuantizeDepth maps a view distance in [0, far] onto the key's depth bits.
func QuantizeDepth(distance, far float32) uint64 {
	if far <= 0 || distance <= 0 {
		return 0
	}
	if distance >= far {
		return depthMask
	}
	return uint64(float64(distance) / float64(far) * depthMask)
}

type Color struct{ R, G, B, A float32 }

type Draw struct {
	// Resource is the device resource created for the mesh.
	Resource ResourceID
	Visual   visual.ID
	World    vmath.Mat4
	Radius   float32
}

type Command struct {
	Key      uint64
	Kind     CommandKind
	Color    Color
	Viewport visual.Viewport
	Draw     Draw
}

// Context is one camera's command buffer. It has exactly one owner at a time:
// the task that fills it, then the dispatch task that submits it.
type Context struct {
	Camera         visual.ID
	ViewProjection vmath.Mat4
	commands       []Command
	sorted         bool
}

// ScratchBytes reports the retained command capacity.
func (c *Context) ScratchBytes() int64 {
	return int64(cap(c.commands)) * int64(unsafe.Sizeof(Command{}))
}

func (c *Context) Reset() {
	c.Camera = 0
	c.ViewProjection = vmath.Mat4{}
	c.commands = c.commands[:0]
	c.sorted = false
}

func (c *Context) Clear(col Color) {
	c.push(Command{Key: KeyFirst, Kind: CmdClear, Color: col})
}

// SetViewport sorts right after clear.
func (c *Context) SetViewport(vp visual.Viewport) {
	c.push(Command{Key: KeyFirst + 1, Kind: CmdViewport, Viewport: vp})
}

func (c *Context) Draw(key uint64, d Draw) {
	c.push(Command{Key: key, Kind: CmdDraw, Draw: d})
}

func (c *Context) Present() {
	c.push(Command{Key: KeyLast, Kind: CmdPresent})
}

func (c *Context) push(cmd Command) {
	c.commands = append(c.commands, cmd)
	c.sorted = false
}

func (c *Context) Len() int { return len(c.commands) }

// Sorted orders the commands by key, stable for equal keys, and returns them.
func (c *Context) Sorted() []Command {
	if !c.sorted {
		slices.SortStableFunc(c.commands, func(a, b Command) int {
			switch {
			case a.Key < b.Key:
				return -1
			case a.Key > b.Key:
				return 1
			}
			return 0
		})
		c.sorted = true
	}
	return c.commands
}

// DrawCount returns the number of draw commands.
func (c *Context) DrawCount() int {
	n := 0
	for i := range c.commands {
		if c.commands[i].Kind == CmdDraw {
			n++
		}
	}
	return n
}
