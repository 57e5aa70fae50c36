// Package null is a render device that draws nothing and remembers what it
// was asked to submit.
package null

import (
	"fmt"
	"sync"

	"github.com/butane/engine/internal/render"
	"github.com/butane/engine/internal/visual"
)

// Submission is a copy of one submitted context.
type Submission struct {
	Camera visual.ID
	Kinds  []render.CommandKind
	Draws  int
	// Sources are the resource-database ids behind the draws, in order.
	Sources []uint64
}

type Device struct {
	*render.Resources

	mu     sync.Mutex
	frames [][]Submission
	keep   int
	closed bool
}

// New returns a device that keeps the last keep frames (all when keep <= 0).
func New(keep int) *Device {
	return &Device{Resources: render.NewResources(), keep: keep}
}

// Submit records ctxs. A draw of a resource this device does not hold fails
// the whole submission.
func (d *Device) Submit(ctxs []*render.Context) error {
	frame := make([]Submission, 0, len(ctxs))
	for _, c := range ctxs {
		cmds := c.Sorted()
		s := Submission{Camera: c.Camera, Kinds: make([]render.CommandKind, len(cmds))}
		for i := range cmds {
			s.Kinds[i] = cmds[i].Kind
			if cmds[i].Kind != render.CmdDraw {
				continue
			}
			desc, ok := d.Describe(cmds[i].Draw.Resource)
			if !ok {
				return fmt.Errorf("draw %d: %w", cmds[i].Draw.Resource, render.ErrUnknownResource)
			}
			s.Draws++
			s.Sources = append(s.Sources, desc.Source)
		}
		frame = append(frame, s)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return render.ErrBackend
	}
	d.frames = append(d.frames, frame)
	if d.keep > 0 && len(d.frames) > d.keep {
		d.frames = d.frames[len(d.frames)-d.keep:]
	}
	return nil
}

// Frames returns the recorded submissions, oldest first.
func (d *Device) Frames() [][]Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]Submission(nil), d.frames...)
}

func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
