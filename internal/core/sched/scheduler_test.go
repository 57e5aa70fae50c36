package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

func newTestScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	s := New(cfg, zaptest.NewLogger(t))
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return s
}

func mustCreate(t *testing.T, s *Scheduler, name string, k Kernel, a Affinity) Handle {
	t.Helper()
	h, err := s.Create(name, k, nil, a)
	if err != nil {
		t.Fatalf("Create %s: %v", name, err)
	}
	return h
}

func noop(*Context, any) {}

func TestNumWorkers(t *testing.T) {
	cases := []struct {
		configured, cores, want int
	}{
		{0, 1, 1},
		{0, 2, 1},
		{0, 4, 3},
		{0, 8, 7},
		{0, 32, 7},
		{3, 1, 3},
		{-1, 8, 7},
		{-4, 4, 1},
		{200, 8, MaxWorkers},
	}
	for _, c := range cases {
		if got := numWorkers(c.configured, c.cores); got != c.want {
			t.Errorf("numWorkers(%d, %d) = %d, want %d", c.configured, c.cores, got, c.want)
		}
	}
}

func TestInitializeTwice(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 2})
	if err := s.Initialize(); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("second Initialize: got %v, want configuration error", err)
	}
	if s.State() != StateRunning {
		t.Fatalf("state = %s, want Running", s.State())
	}
}

func TestKickBeforeInitialize(t *testing.T) {
	s := New(Config{Workers: 1}, zaptest.NewLogger(t))
	h := mustCreate(t, s, "early", noop, AnyWorker)
	if err := s.Kick(h); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Kick: got %v, want ErrNotInitialized", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNoEligibleWorker(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 2})
	_, err := s.Create("nowhere", noop, nil, Worker(5))
	if !errors.Is(err, ErrNoAffinity) || !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Create: got %v, want ErrNoAffinity", err)
	}
}

func TestDependencyVisibility(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 4})
	for i := 0; i < 200; i++ {
		var written int
		var seen int
		a := mustCreate(t, s, "a", func(*Context, any) { written = i + 1 }, AnyWorker)
		b := mustCreate(t, s, "b", func(*Context, any) { seen = written }, AnyWorker)
		if err := s.DependsOn(b, a); err != nil {
			t.Fatalf("DependsOn: %v", err)
		}
		// Kick the dependent first; it must still wait.
		if err := s.KickAndWait(b, a); err != nil {
			t.Fatalf("KickAndWait: %v", err)
		}
		if seen != i+1 {
			t.Fatalf("iteration %d: b saw %d, want %d", i, seen, i+1)
		}
	}
}

func TestPinnedAffinity(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 4})
	var wrong atomic.Int32
	hs := make([]Handle, 0, 64)
	for i := 0; i < 64; i++ {
		hs = append(hs, mustCreate(t, s, "pinned", func(ctx *Context, _ any) {
			if ctx.Worker != 2 {
				wrong.Add(1)
			}
		}, Worker(2)))
	}
	if err := s.KickAndWait(hs...); err != nil {
		t.Fatalf("KickAndWait: %v", err)
	}
	if n := wrong.Load(); n != 0 {
		t.Fatalf("%d pinned tasks ran on the wrong worker", n)
	}
}

func TestPartialAffinity(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 4})
	mask := Workers(1, 3)
	var wrong atomic.Int32
	hs := make([]Handle, 0, 32)
	for i := 0; i < 32; i++ {
		hs = append(hs, mustCreate(t, s, "partial", func(ctx *Context, _ any) {
			if !mask.Has(ctx.Worker) {
				wrong.Add(1)
			}
		}, mask))
	}
	if err := s.KickAndWait(hs...); err != nil {
		t.Fatalf("KickAndWait: %v", err)
	}
	if n := wrong.Load(); n != 0 {
		t.Fatalf("%d tasks ran outside their mask", n)
	}
}

func TestSameWorkerNeverOverlaps(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 4})
	var running, overlaps atomic.Int32
	k := func(*Context, any) {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
	}
	var hs []Handle
	for i := 0; i < 20; i++ {
		hs = append(hs, mustCreate(t, s, "w0", k, Worker(0)))
	}
	if err := s.KickAndWait(hs...); err != nil {
		t.Fatalf("KickAndWait: %v", err)
	}
	if n := overlaps.Load(); n != 0 {
		t.Fatalf("%d overlapping executions on worker 0", n)
	}
}

func TestThousandNoOps(t *testing.T) {
	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			s := newTestScheduler(t, Config{Workers: workers})
			var ran atomic.Int32
			hs := make([]Handle, 1000)
			for i := range hs {
				hs[i] = mustCreate(t, s, "noop", func(*Context, any) { ran.Add(1) }, AnyWorker)
			}
			start := time.Now()
			if err := s.KickAndWait(hs...); err != nil {
				t.Fatalf("KickAndWait: %v", err)
			}
			t.Logf("%d workers: 1000 no-op tasks in %s", workers, time.Since(start))
			if ran.Load() != 1000 {
				t.Fatalf("ran %d tasks, want 1000", ran.Load())
			}
			waitOutstanding(t, s, 0)
		})
	}
}

func TestFanIn(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 4})
	var before atomic.Int32
	var atJoin int32
	join := mustCreate(t, s, "join", func(*Context, any) { atJoin = before.Load() }, Worker(s.LastWorker()))
	hs := []Handle{join}
	for i := 0; i < 100; i++ {
		h := mustCreate(t, s, "leaf", func(*Context, any) { before.Add(1) }, AnyWorker)
		if err := s.DependsOn(join, h); err != nil {
			t.Fatalf("DependsOn: %v", err)
		}
		hs = append(hs, h)
	}
	if err := s.KickAndWait(hs...); err != nil {
		t.Fatalf("KickAndWait: %v", err)
	}
	if atJoin != 100 {
		t.Fatalf("join saw %d finished leaves, want 100", atJoin)
	}
}

func TestParentWaitsForChildren(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 3})
	var children atomic.Int32
	var atNext int32
	parent := mustCreate(t, s, "parent", func(ctx *Context, _ any) {
		for i := 0; i < 8; i++ {
			c, err := ctx.Child("child", func(*Context, any) {
				time.Sleep(time.Millisecond)
				children.Add(1)
			}, nil, AnyWorker)
			if err != nil {
				t.Errorf("Child: %v", err)
				return
			}
			if err := ctx.Scheduler.Kick(c); err != nil {
				t.Errorf("Kick child: %v", err)
			}
		}
	}, AnyWorker)
	next := mustCreate(t, s, "next", func(*Context, any) { atNext = children.Load() }, AnyWorker)
	if err := s.DependsOn(next, parent); err != nil {
		t.Fatalf("DependsOn: %v", err)
	}
	if err := s.KickAndWait(parent, next); err != nil {
		t.Fatalf("KickAndWait: %v", err)
	}
	if atNext != 8 {
		t.Fatalf("dependent of parent saw %d children done, want 8", atNext)
	}
}

func TestCycleRejected(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1})
	a := mustCreate(t, s, "a", noop, AnyWorker)
	b := mustCreate(t, s, "b", noop, AnyWorker)
	c := mustCreate(t, s, "c", noop, AnyWorker)
	if err := s.DependsOn(b, a); err != nil {
		t.Fatal(err)
	}
	if err := s.DependsOn(c, b); err != nil {
		t.Fatal(err)
	}
	if err := s.DependsOn(a, c); !errors.Is(err, ErrCycle) {
		t.Fatalf("closing edge: got %v, want ErrCycle", err)
	}
	if err := s.DependsOn(a, a); !errors.Is(err, ErrDependencyViolation) {
		t.Fatalf("self edge: got %v, want dependency violation", err)
	}
	if err := s.KickAndWait(a, b, c); err != nil {
		t.Fatalf("KickAndWait: %v", err)
	}
}

func TestEdgeAfterKick(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1})
	block := make(chan struct{})
	a := mustCreate(t, s, "a", func(*Context, any) { <-block }, AnyWorker)
	b := mustCreate(t, s, "b", noop, AnyWorker)
	if err := s.Kick(a); err != nil {
		t.Fatal(err)
	}
	if err := s.DependsOn(a, b); !errors.Is(err, ErrAlreadyKicked) {
		t.Fatalf("got %v, want ErrAlreadyKicked", err)
	}
	if err := s.Kick(a); !errors.Is(err, ErrAlreadyKicked) {
		t.Fatalf("second Kick: got %v, want ErrAlreadyKicked", err)
	}
	close(block)
	if err := s.KickAndWait(b); err != nil {
		t.Fatal(err)
	}
}

func TestCompletedDependencyIsSatisfied(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 2})
	a := mustCreate(t, s, "a", noop, AnyWorker)
	if err := s.KickAndWait(a); err != nil {
		t.Fatal(err)
	}
	waitOutstanding(t, s, 0)
	b := mustCreate(t, s, "b", noop, AnyWorker)
	if err := s.DependsOn(b, a); err != nil {
		t.Fatalf("DependsOn on completed task: %v", err)
	}
	if err := s.KickAndWait(b); err != nil {
		t.Fatal(err)
	}
}

func TestPoolExhaustion(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1, TaskPoolSize: 4})
	var hs []Handle
	for i := 0; i < 4; i++ {
		hs = append(hs, mustCreate(t, s, "slot", noop, AnyWorker))
	}
	_, err := s.Create("overflow", noop, nil, AnyWorker)
	if !errors.Is(err, ErrPoolExhausted) || !errors.Is(err, ErrResourceExhaustion) {
		t.Fatalf("got %v, want ErrPoolExhausted", err)
	}
	if err := s.KickN(hs...); err != nil {
		t.Fatal(err)
	}
	waitOutstanding(t, s, 0)
	if _, err := s.Create("again", noop, nil, AnyWorker); err != nil {
		t.Fatalf("Create after slots were reclaimed: %v", err)
	}
}

func TestDoSomeWork(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1})
	block := make(chan struct{})
	started := make(chan struct{})
	busy := mustCreate(t, s, "busy", func(*Context, any) {
		close(started)
		<-block
	}, Worker(0))
	if err := s.Kick(busy); err != nil {
		t.Fatal(err)
	}
	<-started

	var ranOn atomic.Int32
	ranOn.Store(99)
	h := mustCreate(t, s, "wild", func(ctx *Context, _ any) { ranOn.Store(int32(ctx.Worker)) }, AnyWorker)
	if err := s.Kick(h); err != nil {
		t.Fatal(err)
	}
	if !s.DoSomeWork() {
		t.Fatal("DoSomeWork found no shared work")
	}
	if ranOn.Load() != -1 {
		t.Fatalf("wildcard ran on worker %d, want driver (-1)", ranOn.Load())
	}
	if s.DoSomeWork() {
		t.Fatal("DoSomeWork ran a task from an empty queue")
	}
	close(block)
}

func TestPanicRecovered(t *testing.T) {
	var got atomic.Value
	s := newTestScheduler(t, Config{
		Workers: 2,
		OnPanic: func(task string, _ any) { got.Store(task) },
	})
	boom := mustCreate(t, s, "boom", func(*Context, any) { panic("kaboom") }, AnyWorker)
	after := mustCreate(t, s, "after", noop, AnyWorker)
	if err := s.DependsOn(after, boom); err != nil {
		t.Fatal(err)
	}
	if err := s.KickAndWait(boom, after); err != nil {
		t.Fatal(err)
	}
	if got.Load() != "boom" {
		t.Fatalf("OnPanic saw %v, want boom", got.Load())
	}
}

func TestBindWrongPayload(t *testing.T) {
	var recovered atomic.Value
	s := newTestScheduler(t, Config{
		Workers: 1,
		OnPanic: func(_ string, r any) { recovered.Store(r) },
	})
	k := Bind(func(_ *Context, n int) {})
	h, err := s.Create("typed", k, "not an int", AnyWorker)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.KickAndWait(h); err != nil {
		t.Fatal(err)
	}
	e, ok := recovered.Load().(error)
	if !ok || !errors.Is(e, ErrDependencyViolation) {
		t.Fatalf("recovered %v, want dependency violation", recovered.Load())
	}
}

func TestShutdownDrains(t *testing.T) {
	s := New(Config{Workers: 3}, zaptest.NewLogger(t))
	if err := s.Initialize(); err != nil {
		t.Fatal(err)
	}
	var ran atomic.Int32
	for i := 0; i < 50; i++ {
		h := mustCreate(t, s, "slow", func(*Context, any) {
			time.Sleep(100 * time.Microsecond)
			ran.Add(1)
		}, AnyWorker)
		if err := s.Kick(h); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if ran.Load() != 50 {
		t.Fatalf("ran %d before termination, want 50", ran.Load())
	}
	if n := s.Outstanding(); n != 0 {
		t.Fatalf("Outstanding = %d after shutdown", n)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if s.State() != StateTerminated {
		t.Fatalf("state = %s", s.State())
	}
	if _, err := s.Create("late", noop, nil, AnyWorker); !errors.Is(err, ErrTerminated) {
		t.Fatalf("Create after shutdown: got %v, want ErrTerminated", err)
	}
}

func TestConcurrentGraphBuilding(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 4, TaskPoolSize: 8192})
	var ran atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var prev Handle
			var hs []Handle
			for i := 0; i < 50; i++ {
				h, err := s.Create("chain", func(*Context, any) { ran.Add(1) }, nil, AnyWorker)
				if err != nil {
					t.Errorf("Create: %v", err)
					return
				}
				if !prev.IsZero() {
					if err := s.DependsOn(h, prev); err != nil {
						t.Errorf("DependsOn: %v", err)
						return
					}
				}
				prev = h
				hs = append(hs, h)
			}
			if err := s.KickAndWait(hs...); err != nil {
				t.Errorf("KickAndWait: %v", err)
			}
		}()
	}
	wg.Wait()
	if ran.Load() != 400 {
		t.Fatalf("ran %d, want 400", ran.Load())
	}
}

func TestDiscardSkipsKernel(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 2})
	var ran atomic.Int32
	a := mustCreate(t, s, "a", func(*Context, any) { ran.Add(1) }, AnyWorker)
	b := mustCreate(t, s, "b", noop, AnyWorker)
	if err := s.DependsOn(b, a); err != nil {
		t.Fatal(err)
	}
	if err := s.Discard(a); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if err := s.KickAndWait(b); err != nil {
		t.Fatalf("dependent of discarded task: %v", err)
	}
	if n := ran.Load(); n != 0 {
		t.Fatalf("discarded kernel ran %d times", n)
	}
	waitOutstanding(t, s, 0)

	block := make(chan struct{})
	c := mustCreate(t, s, "c", func(*Context, any) { <-block }, AnyWorker)
	d := mustCreate(t, s, "d", noop, AnyWorker)
	if err := s.Kick(c); err != nil {
		t.Fatal(err)
	}
	if err := s.Discard(d, c); !errors.Is(err, ErrAlreadyKicked) {
		t.Fatalf("Discard of kicked task: got %v, want ErrAlreadyKicked", err)
	}
	// The failed call must not have claimed d.
	if err := s.Kick(d); err != nil {
		t.Fatalf("Kick after failed Discard: %v", err)
	}
	close(block)
	waitOutstanding(t, s, 0)
}

func TestDiscardedChildReleasesParent(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 2})
	var childRan atomic.Int32
	parent := mustCreate(t, s, "parent", func(ctx *Context, _ any) {
		a, err := ctx.Child("kept", func(*Context, any) { childRan.Add(1) }, nil, AnyWorker)
		if err != nil {
			t.Errorf("Child: %v", err)
			return
		}
		b, err := ctx.Child("dropped", func(*Context, any) { childRan.Add(100) }, nil, AnyWorker)
		if err != nil {
			t.Errorf("Child: %v", err)
			return
		}
		if err := ctx.Scheduler.DependsOn(b, a); err != nil {
			t.Errorf("DependsOn: %v", err)
		}
		if err := ctx.Scheduler.Kick(a); err != nil {
			t.Errorf("Kick: %v", err)
		}
		if err := ctx.Scheduler.Discard(b); err != nil {
			t.Errorf("Discard: %v", err)
		}
	}, AnyWorker)

	done := make(chan error, 1)
	go func() { done <- s.KickAndWait(parent) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("parent never completed")
	}
	if n := childRan.Load(); n != 1 {
		t.Fatalf("child kernels added %d, want 1", n)
	}
	waitOutstanding(t, s, 0)
}

func TestConcurrentKickRunsOnce(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 4})
	for i := 0; i < 100; i++ {
		var ran, kicked atomic.Int32
		h := mustCreate(t, s, "once", func(*Context, any) { ran.Add(1) }, AnyWorker)
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Kick(h)
				switch {
				case err == nil:
					kicked.Add(1)
				case !errors.Is(err, ErrAlreadyKicked) && !errors.Is(err, ErrStaleHandle):
					t.Errorf("Kick: %v", err)
				}
			}()
		}
		wg.Wait()
		waitOutstanding(t, s, 0)
		if kicked.Load() != 1 || ran.Load() != 1 {
			t.Fatalf("iteration %d: %d kicks accepted, kernel ran %d times", i, kicked.Load(), ran.Load())
		}
	}
}

// An edge that DependsOn accepted while the dependent was being kicked
// must still hold.
func TestDependsOnRacingKick(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 4})
	for i := 0; i < 200; i++ {
		var depRan, sawDep atomic.Bool
		var ran sync.WaitGroup
		ran.Add(2)
		dep := mustCreate(t, s, "dep", func(*Context, any) {
			depRan.Store(true)
			ran.Done()
		}, AnyWorker)
		h := mustCreate(t, s, "h", func(*Context, any) {
			sawDep.Store(depRan.Load())
			ran.Done()
		}, AnyWorker)

		var edgeErr, kickErr error
		var race sync.WaitGroup
		race.Add(2)
		go func() {
			defer race.Done()
			edgeErr = s.DependsOn(h, dep)
		}()
		go func() {
			defer race.Done()
			kickErr = s.Kick(h)
		}()
		race.Wait()
		if kickErr != nil {
			t.Fatalf("iteration %d: Kick: %v", i, kickErr)
		}
		if edgeErr != nil && !errors.Is(edgeErr, ErrAlreadyKicked) {
			t.Fatalf("iteration %d: DependsOn: %v", i, edgeErr)
		}
		if err := s.Kick(dep); err != nil {
			t.Fatal(err)
		}
		ran.Wait()
		if edgeErr == nil && !sawDep.Load() {
			t.Fatalf("iteration %d: edge accepted but h ran before dep", i)
		}
	}
	waitOutstanding(t, s, 0)
}

func TestCreateWaitableFailureFreesSlot(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1, TaskPoolSize: 1})
	// The waitable takes the first slot of a fresh pool, so this dep is the
	// waitable itself.
	self := newHandle(1, 0)
	if _, err := s.CreateWaitable(NewWaitable(), self); !errors.Is(err, ErrDependencyViolation) {
		t.Fatalf("got %v, want dependency violation", err)
	}
	waitOutstanding(t, s, 0)
	h := mustCreate(t, s, "after", noop, AnyWorker)
	if err := s.Kick(h); err != nil {
		t.Fatal(err)
	}
	waitOutstanding(t, s, 0)
}

func TestKickAndWaitFailureFreesWaitable(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1})
	block := make(chan struct{})
	h := mustCreate(t, s, "h", func(*Context, any) { <-block }, AnyWorker)
	if err := s.Kick(h); err != nil {
		t.Fatal(err)
	}
	if err := s.KickAndWait(h); !errors.Is(err, ErrAlreadyKicked) {
		t.Fatalf("got %v, want ErrAlreadyKicked", err)
	}
	close(block)
	waitOutstanding(t, s, 0)
}

// waitOutstanding polls until slot reclamation catches up; the waitable may
// fire before the last slots are returned.
func waitOutstanding(t *testing.T, s *Scheduler, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Outstanding() != want {
		if time.Now().After(deadline) {
			t.Fatalf("Outstanding = %d, want %d", s.Outstanding(), want)
		}
		time.Sleep(time.Millisecond)
	}
}
