// Package sched implements the engine's task scheduler: a fixed pool of worker
// threads executing tasks from a fixed pool of task slots, honoring affinity
// masks, dependency edges and parent/child completion.
//
// Queueing is two-tiered. A task pinned to one worker goes to that worker's
// local queue; a task any worker may run goes to the shared queue. Workers
// drain their local queue first and block on a condition variable when there
// is no work anywhere.
package sched

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// State is the scheduler lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateInitialized:
		return "Initialized"
	case StateRunning:
		return "Running"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// Scheduler owns the worker threads and task pool.
type Scheduler struct {
	cfg     Config
	log     *zap.Logger
	workers []*worker
	all     Affinity
	pool    *pool

	mu       sync.Mutex // guards queues, worker idle flags, state, inflight
	state    State
	shared   *taskQueue
	inflight int
	drained  chan struct{}
	stopping bool

	graphMu sync.Mutex // serializes edge creation for cycle checks

	started  sync.WaitGroup
	wg       sync.WaitGroup
	executed atomic.Uint64
}

// New builds an uninitialized scheduler. The worker count is fixed here for
// the scheduler's lifetime.
func New(cfg Config, log *zap.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	n := numWorkers(cfg.Workers, hostCores())
	s := &Scheduler{
		cfg:    cfg,
		log:    log.Named("sched"),
		all:    allWorkers(n),
		pool:   newPool(cfg.TaskPoolSize),
		shared: newTaskQueue(),
	}
	s.workers = make([]*worker, n)
	for i := range s.workers {
		s.workers[i] = &worker{
			id:    i,
			local: newTaskQueue(),
			cond:  sync.NewCond(&s.mu),
		}
	}
	return s
}

// NumWorkers returns the worker count; stable for the scheduler's lifetime.
func (s *Scheduler) NumWorkers() int { return len(s.workers) }

// LastWorker is the highest worker index.
func (s *Scheduler) LastWorker() int { return len(s.workers) - 1 }

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize spawns the worker threads. It may be called once.
func (s *Scheduler) Initialize() error {
	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return ErrAlreadyInitialized
	}
	s.state = StateInitialized
	s.mu.Unlock()

	s.started.Add(len(s.workers))
	s.wg.Add(len(s.workers))
	for _, w := range s.workers {
		go s.workerLoop(w)
	}
	s.started.Wait()

	s.mu.Lock()
	if s.state == StateInitialized {
		s.state = StateRunning
	}
	s.mu.Unlock()

	s.log.Info("scheduler running",
		zap.Int("workers", len(s.workers)),
		zap.Int("task_pool", s.pool.size()))
	return nil
}

// Outstanding returns the number of task slots in use.
func (s *Scheduler) Outstanding() int { return s.pool.outstanding() }

// Executed returns the number of kernels run since creation.
func (s *Scheduler) Executed() uint64 { return s.executed.Load() }

// Create registers a task. data is owned by the kernel from the moment the
// task runs.
func (s *Scheduler) Create(name string, kernel Kernel, data any, affinity Affinity) (Handle, error) {
	t, err := s.create(name, kernel, data, affinity)
	if err != nil {
		return 0, err
	}
	return t.handle(), nil
}

// CreateChild registers a task that parent waits for: parent does not
// complete until its own kernel and every child have completed.
func (s *Scheduler) CreateChild(parent Handle, name string, kernel Kernel, data any, affinity Affinity) (Handle, error) {
	p := s.pool.resolve(parent)
	if p == nil {
		return 0, ErrStaleHandle
	}
	p.mu.Lock()
	if p.done || p.gen.Load() != parent.Generation() {
		p.mu.Unlock()
		return 0, dependencyErrorf("parent %s already completed", parent)
	}
	// Hold the parent open before the child exists so it cannot complete in between.
	p.openWork.Add(1)
	p.mu.Unlock()

	t, err := s.create(name, kernel, data, affinity)
	if err != nil {
		s.finishWork(p)
		return 0, err
	}
	t.parent = p
	return t.handle(), nil
}

func (s *Scheduler) create(name string, kernel Kernel, data any, affinity Affinity) (*task, error) {
	if kernel == nil {
		return nil, configErrorf("task %q has no kernel", name)
	}
	if s.State() == StateTerminated {
		return nil, ErrTerminated
	}
	mask := affinity & s.all
	if mask == 0 {
		return nil, fmt.Errorf("task %q affinity %s with %d workers: %w", name, affinity, len(s.workers), ErrNoAffinity)
	}
	t, ok := s.pool.acquire()
	if !ok {
		return nil, fmt.Errorf("create %q: %d slots in use: %w", name, s.pool.size(), ErrPoolExhausted)
	}
	t.name = name
	t.kernel = kernel
	t.data = data
	t.affinity = mask
	t.pending.Store(1)
	t.openWork.Store(1)
	return t, nil
}

// DependsOn adds the edge dep -> h: h never starts before dep completed.
// Edges must be added before h is kicked. A dep that already completed is a
// satisfied edge.
func (s *Scheduler) DependsOn(h, dep Handle) error {
	if h == dep {
		return dependencyErrorf("%s depends on itself", h)
	}
	t := s.pool.resolve(h)
	if t == nil {
		return ErrStaleHandle
	}

	s.graphMu.Lock()
	defer s.graphMu.Unlock()

	if s.reaches(dep, h) {
		return fmt.Errorf("edge %s -> %s: %w", dep, h, ErrCycle)
	}

	// t.mu is held until the edge is in place; claim takes it too, so a
	// concurrent kick either sees the edge or makes this call fail.
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen.Load() != h.Generation() {
		return ErrStaleHandle
	}
	if t.loadState() != stateCreated {
		return fmt.Errorf("add edge %s -> %s: %w", dep, h, ErrAlreadyKicked)
	}

	d := s.pool.resolve(dep)
	if d == nil {
		return nil // completed and recycled
	}
	d.mu.Lock()
	if d.done || d.gen.Load() != dep.Generation() {
		d.mu.Unlock()
		return nil
	}
	d.dependents = append(d.dependents, t)
	t.pending.Add(1)
	d.mu.Unlock()

	t.preds = append(t.preds, dep)
	return nil
}

// reaches reports whether target is a transitive predecessor of from.
// Caller holds graphMu.
func (s *Scheduler) reaches(from, target Handle) bool {
	stack := []Handle{from}
	seen := map[Handle]bool{}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if h == target {
			return true
		}
		if seen[h] {
			continue
		}
		seen[h] = true
		t := s.pool.resolve(h)
		if t == nil {
			continue
		}
		t.mu.Lock()
		if t.gen.Load() == h.Generation() && !t.done {
			stack = append(stack, t.preds...)
		}
		t.mu.Unlock()
	}
	return false
}

// Kick enqueues a task. It runs as soon as its dependencies completed.
func (s *Scheduler) Kick(h Handle) error {
	return s.KickN(h)
}

// KickN validates every handle before kicking any of them.
func (s *Scheduler) KickN(hs ...Handle) error {
	switch st := s.State(); st {
	case StateUninitialized:
		return ErrNotInitialized
	case StateTerminated:
		return ErrTerminated
	}

	tasks, err := s.claim("kick", hs)
	if err != nil {
		return err
	}
	s.start(tasks)
	return nil
}

// Discard drops tasks that were created but never kicked. Their kernels do
// not run; each completes once its dependencies did, releasing dependents
// and parent as usual. The creator still owns the payloads.
func (s *Scheduler) Discard(hs ...Handle) error {
	tasks, err := s.claim("discard", hs)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		t.discarded = true
	}
	s.start(tasks)
	return nil
}

// claim moves every task behind hs from created to kicked, or none of them.
func (s *Scheduler) claim(op string, hs []Handle) ([]*task, error) {
	tasks := make([]*task, 0, len(hs))
	rollback := func() {
		for _, t := range tasks {
			t.setState(stateCreated)
		}
	}
	for _, h := range hs {
		t := s.pool.resolve(h)
		if t == nil {
			rollback()
			return nil, fmt.Errorf("%s %s: %w", op, h, ErrStaleHandle)
		}
		t.mu.Lock()
		ok := t.gen.Load() == h.Generation() &&
			t.state.CompareAndSwap(uint32(stateCreated), uint32(stateKicked))
		t.mu.Unlock()
		if !ok {
			rollback()
			return nil, fmt.Errorf("%s %s: %w", op, h, ErrAlreadyKicked)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// start drops the kick hold of claimed tasks.
func (s *Scheduler) start(tasks []*task) {
	s.mu.Lock()
	s.inflight += len(tasks)
	s.mu.Unlock()

	for _, t := range tasks {
		s.release(t)
	}
}

// release drops one hold on t; the last one routes it to a queue.
func (s *Scheduler) release(t *task) {
	if t.pending.Add(-1) != 0 {
		return
	}
	s.route(t)
}

func (s *Scheduler) route(t *task) {
	if t.discarded {
		t.setState(stateRunning)
		s.finishWork(t)
		return
	}
	t.setState(stateQueued)

	s.mu.Lock()
	defer s.mu.Unlock()

	if t.affinity == s.all {
		s.shared.push(t)
		s.wakeAny()
		return
	}
	if i, ok := t.affinity.Single(); ok {
		w := s.workers[i]
		w.local.push(t)
		w.wake()
		return
	}

	// Partial mask: least loaded eligible worker.
	var best *worker
	for _, w := range s.workers {
		if !t.affinity.Has(w.id) {
			continue
		}
		if best == nil || w.load() < best.load() {
			best = w
		}
	}
	best.local.push(t)
	best.wake()
}

// wakeAny signals one idle worker that has not already been signalled.
// Caller holds mu.
func (s *Scheduler) wakeAny() {
	for _, w := range s.workers {
		if w.idle && !w.signalled {
			w.wake()
			return
		}
	}
}

// DoSomeWork runs one task from the shared queue on the calling goroutine.
// It reports whether any work was done. Only wildcard tasks are eligible.
func (s *Scheduler) DoSomeWork() bool {
	s.mu.Lock()
	t, ok := s.shared.pop()
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.execute(t, -1)
	return true
}

func (s *Scheduler) execute(t *task, worker int) {
	t.setState(stateRunning)
	ctx := &Context{Scheduler: s, Task: t.handle(), Name: t.name, Worker: worker}

	s.cfg.Observer.TaskStarted(worker, t.name)
	start := time.Now()
	s.invoke(t, ctx)
	s.cfg.Observer.TaskFinished(worker, t.name, time.Since(start))
	s.executed.Add(1)

	s.finishWork(t)
}

func (s *Scheduler) invoke(t *task, ctx *Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("task panicked",
				zap.String("task", t.name),
				zap.Int("worker", ctx.Worker),
				zap.Any("panic", r),
				zap.Stack("stack"))
			if s.cfg.OnPanic != nil {
				s.cfg.OnPanic(t.name, r)
				return
			}
			panic(fmt.Sprintf("task %s: %v", t.name, r))
		}
	}()
	t.kernel(ctx, t.data)
}

// finishWork drops one open work item; the last one completes the task.
func (s *Scheduler) finishWork(t *task) {
	if t.openWork.Add(-1) != 0 {
		return
	}
	s.complete(t)
}

func (s *Scheduler) complete(t *task) {
	t.mu.Lock()
	t.done = true
	t.setState(stateDone)
	dependents := append([]*task(nil), t.dependents...)
	parent := t.parent
	t.mu.Unlock()

	for _, d := range dependents {
		s.release(d)
	}
	if parent != nil {
		s.finishWork(parent)
	}
	s.pool.release(t)

	s.mu.Lock()
	s.inflight--
	if s.inflight == 0 && s.drained != nil {
		close(s.drained)
		s.drained = nil
	}
	s.mu.Unlock()
}

// Shutdown waits for every kicked task (and whatever they kick) to complete,
// then stops and joins the workers. Calling it again is a no-op. If ctx ends
// first the workers are stopped anyway and the context error is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateUninitialized:
		s.state = StateTerminated
		s.mu.Unlock()
		return nil
	case StateShuttingDown, StateTerminated:
		s.mu.Unlock()
		return nil
	}
	s.state = StateShuttingDown
	var drained chan struct{}
	if s.inflight > 0 {
		drained = make(chan struct{})
		s.drained = drained
	}
	s.mu.Unlock()

	var err error
	if drained != nil {
		select {
		case <-drained:
		case <-ctx.Done():
			s.mu.Lock()
			left := s.inflight
			s.mu.Unlock()
			err = fmt.Errorf("shutdown with %d tasks in flight: %w", left, ctx.Err())
		}
	}

	s.mu.Lock()
	s.stopping = true
	for _, w := range s.workers {
		w.cond.Broadcast()
	}
	s.mu.Unlock()
	s.wg.Wait()

	s.mu.Lock()
	s.state = StateTerminated
	s.mu.Unlock()

	s.log.Info("scheduler terminated",
		zap.Uint64("executed", s.executed.Load()),
		zap.Int("outstanding", s.pool.outstanding()))
	return err
}
