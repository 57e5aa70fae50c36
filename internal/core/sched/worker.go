package sched

import (
	"runtime"
	"sync"
)

// worker is one OS-thread-locked goroutine with its own queue of pinned tasks.
type worker struct {
	id    int
	local *taskQueue
	cond  *sync.Cond // on Scheduler.mu

	idle      bool
	signalled bool
}

// load is the queue depth used to pick among eligible workers. Caller holds
// the scheduler lock.
func (w *worker) load() int {
	n := w.local.len()
	if !w.idle {
		n++
	}
	return n
}

// wake signals w if it is parked. Caller holds the scheduler lock.
func (w *worker) wake() {
	if w.idle && !w.signalled {
		w.signalled = true
		w.cond.Signal()
	}
}

func (s *Scheduler) workerLoop(w *worker) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer s.wg.Done()

	s.started.Done()
	for {
		t, ok := s.next(w)
		if !ok {
			return
		}
		s.execute(t, w.id)
	}
}

// next blocks until w has a task. Pinned work wins over shared work. It
// returns false once the scheduler is stopping and both queues are empty.
func (s *Scheduler) next(w *worker) (*task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if t, ok := w.local.pop(); ok {
			return t, true
		}
		if t, ok := s.shared.pop(); ok {
			return t, true
		}
		if s.stopping {
			return nil, false
		}
		w.idle = true
		w.signalled = false
		w.cond.Wait()
		w.idle = false
		w.signalled = false
	}
}
