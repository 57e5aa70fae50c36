package sched

import (
	"fmt"
	"math/bits"
)

// MaxWorkers is bounded by the width of Affinity.
const MaxWorkers = 64

// Affinity selects the worker(s) allowed to run a task, one bit per worker index.
type Affinity uint64

// AnyWorker lets any worker run the task.
const AnyWorker Affinity = ^Affinity(0)

// Worker returns the affinity pinning a task to worker i.
func Worker(i int) Affinity {
	if i < 0 || i >= MaxWorkers {
		return 0
	}
	return 1 << uint(i)
}

// Workers returns the affinity allowing exactly the given workers.
func Workers(ids ...int) Affinity {
	var a Affinity
	for _, i := range ids {
		a |= Worker(i)
	}
	return a
}

func allWorkers(n int) Affinity {
	if n >= MaxWorkers {
		return AnyWorker
	}
	return Affinity(1)<<uint(n) - 1
}

func (a Affinity) Has(i int) bool { return a&Worker(i) != 0 }

func (a Affinity) Count() int { return bits.OnesCount64(uint64(a)) }

// Single returns the worker index when exactly one bit is set.
func (a Affinity) Single() (int, bool) {
	if a.Count() != 1 {
		return -1, false
	}
	return bits.TrailingZeros64(uint64(a)), true
}

func (a Affinity) String() string {
	if a == AnyWorker {
		return "any"
	}
	if i, ok := a.Single(); ok {
		return fmt.Sprintf("worker[%d]", i)
	}
	return fmt.Sprintf("%#x", uint64(a))
}
