package sched

import "sync"

// pool is the fixed set of task slots. Exhaustion is an error, not growth.
type pool struct {
	mu    sync.Mutex
	slots []task
	free  []uint32 // slot indices (1-based)
}

func newPool(size int) *pool {
	p := &pool{
		slots: make([]task, size),
		free:  make([]uint32, 0, size),
	}
	for i := size; i >= 1; i-- {
		p.slots[i-1].index = uint32(i)
		p.free = append(p.free, uint32(i))
	}
	return p
}

func (p *pool) acquire() (*task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil, false
	}
	idx := p.free[n-1]
	p.free = p.free[:n-1]
	t := &p.slots[idx-1]
	t.setState(stateCreated)
	return t, true
}

// release bumps the slot generation, invalidating outstanding handles.
func (p *pool) release(t *task) {
	t.mu.Lock()
	t.reset()
	t.gen.Add(1)
	t.setState(stateFree)
	t.mu.Unlock()

	p.mu.Lock()
	p.free = append(p.free, t.index)
	p.mu.Unlock()
}

// resolve returns the live task behind h, or nil if h is stale.
func (p *pool) resolve(h Handle) *task {
	idx := h.Index()
	if idx == 0 || int(idx) > len(p.slots) {
		return nil
	}
	t := &p.slots[idx-1]
	if t.gen.Load() != h.Generation() || t.loadState() == stateFree {
		return nil
	}
	return t
}

func (p *pool) size() int { return len(p.slots) }

func (p *pool) outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) - len(p.free)
}
