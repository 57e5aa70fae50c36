package sched

import "runtime"

const defaultTaskPoolSize = 4096

// Config configures a Scheduler. The zero value is usable.
type Config struct {
	// Workers is the number of worker threads.
	//   > 0: exactly that many
	//     0: derived from the core count (cores-1, at most 7, at least 1)
	//   < 0: cores minus |Workers|, at least 1
	Workers int

	// TaskPoolSize bounds the number of live tasks. Default 4096.
	TaskPoolSize int

	// Observer receives per-task prologue/epilogue calls. Optional.
	Observer Observer

	// OnPanic is called after a kernel panic was recovered and logged.
	// The default re-panics, terminating the process.
	OnPanic func(task string, recovered any)
}

// numWorkers resolves the configured worker count for a machine with the
// given number of cores.
func numWorkers(configured, cores int) int {
	n := configured
	switch {
	case configured == 0:
		switch {
		case cores >= 8:
			n = 7
		case cores > 1:
			n = cores - 1
		default:
			n = 1
		}
	case configured < 0:
		n = cores + configured
	}
	if n < 1 {
		n = 1
	}
	if n > MaxWorkers {
		n = MaxWorkers
	}
	return n
}

func (c Config) withDefaults() Config {
	if c.TaskPoolSize <= 0 {
		c.TaskPoolSize = defaultTaskPoolSize
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return c
}

func hostCores() int { return runtime.NumCPU() }
