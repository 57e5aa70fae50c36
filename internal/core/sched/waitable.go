package sched

import (
	"context"
	"sync/atomic"
	"time"
)

// helpBackoff bounds how long WaitHelping parks when there is no shared work.
const helpBackoff = 100 * time.Microsecond

// Waitable is a completion flag set by a terminal task. The flag goes from
// unset to set exactly once.
type Waitable struct {
	flag atomic.Uint32
	done chan struct{}
}

func NewWaitable() *Waitable {
	return &Waitable{done: make(chan struct{})}
}

// Kernel returns the task body that sets the flag.
func (w *Waitable) Kernel() Kernel {
	return func(*Context, any) { w.signal() }
}

func (w *Waitable) signal() {
	if w.flag.CompareAndSwap(0, 1) {
		close(w.done)
	}
}

// Flag reports whether the terminal task ran.
func (w *Waitable) Flag() bool { return w.flag.Load() == 1 }

func (w *Waitable) Done() <-chan struct{} { return w.done }

func (w *Waitable) Wait() { <-w.done }

func (w *Waitable) WaitContext(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitHelping runs shared tasks on the calling goroutine until the flag is
// set.
func (w *Waitable) WaitHelping(s *Scheduler) {
	timer := time.NewTimer(helpBackoff)
	defer timer.Stop()
	for !w.Flag() {
		if s.DoSomeWork() {
			continue
		}
		timer.Reset(helpBackoff)
		select {
		case <-w.done:
			return
		case <-timer.C:
		}
	}
}

// CreateWaitable creates the task that sets w once every dep completed.
func (s *Scheduler) CreateWaitable(w *Waitable, deps ...Handle) (Handle, error) {
	h, err := s.Create("waitable", w.Kernel(), nil, AnyWorker)
	if err != nil {
		return 0, err
	}
	for _, d := range deps {
		if err := s.DependsOn(h, d); err != nil {
			s.Discard(h)
			return 0, err
		}
	}
	return h, nil
}

// KickAndWait kicks hs and helps with shared work until all of them
// completed.
func (s *Scheduler) KickAndWait(hs ...Handle) error {
	w := NewWaitable()
	wh, err := s.CreateWaitable(w, hs...)
	if err != nil {
		return err
	}
	if err := s.KickN(append(hs[:len(hs):len(hs)], wh)...); err != nil {
		s.Discard(wh)
		return err
	}
	w.WaitHelping(s)
	return nil
}
