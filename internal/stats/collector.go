// Package stats aggregates per-task timings reported by the scheduler and
// per-frame samples reported by the frame driver.
package stats

import (
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TaskStats accumulates executions of one task name.
type TaskStats struct {
	Name  string
	Count uint64
	Total time.Duration
	Max   time.Duration
}

func (t TaskStats) Mean() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Count)
}

// FrameSample describes one completed frame.
type FrameSample struct {
	Frame      uint64
	DT         float64
	Elapsed    time.Duration
	Live       int
	Pending    int
	Graduated  int
	Despawned  int
	Cameras    int
	Culled     int
	Draws      int
	Tasks      uint64 // kernels executed during the frame
	// DispatchWorker is the worker that submitted the frame.
	DispatchWorker int
	RecordedAt time.Time
}

// Collector implements sched.Observer. Safe for concurrent use.
type Collector struct {
	log *zap.Logger

	mu      sync.Mutex
	tasks   map[string]*TaskStats
	workers []uint64
	samples []FrameSample
	frames  uint64
	running map[int]time.Time
}

func NewCollector(log *zap.Logger) *Collector {
	return &Collector{
		log:     log.Named("stats"),
		tasks:   make(map[string]*TaskStats),
		running: make(map[int]time.Time),
	}
}

func (c *Collector) TaskStarted(worker int, name string) {
	c.mu.Lock()
	c.running[worker] = time.Now()
	c.mu.Unlock()
}

func (c *Collector) TaskFinished(worker int, name string, elapsed time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, worker)
	ts, ok := c.tasks[name]
	if !ok {
		ts = &TaskStats{Name: name}
		c.tasks[name] = ts
	}
	ts.Count++
	ts.Total += elapsed
	ts.Max = max(ts.Max, elapsed)

	// worker -1 is the driver goroutine helping out
	slot := worker + 1
	for len(c.workers) <= slot {
		c.workers = append(c.workers, 0)
	}
	c.workers[slot]++
}

// RecordFrame queues a sample for the next Drain.
func (c *Collector) RecordFrame(s FrameSample) {
	if s.RecordedAt.IsZero() {
		s.RecordedAt = time.Now()
	}
	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.frames++
	c.mu.Unlock()
}

// Drain returns and forgets the queued samples.
func (c *Collector) Drain() []FrameSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.samples
	c.samples = nil
	return out
}

func (c *Collector) Frames() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Tasks returns a snapshot sorted by total time, largest first.
func (c *Collector) Tasks() []TaskStats {
	c.mu.Lock()
	out := make([]TaskStats, 0, len(c.tasks))
	for _, ts := range c.tasks {
		out = append(out, *ts)
	}
	c.mu.Unlock()
	slices.SortFunc(out, func(a, b TaskStats) int {
		switch {
		case a.Total > b.Total:
			return -1
		case a.Total < b.Total:
			return 1
		}
		return 0
	})
	return out
}

// PerWorker returns executions per worker; index 0 is the driver goroutine.
func (c *Collector) PerWorker() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.workers...)
}

// LogSummary writes the samples and the heaviest tasks at info level.
func (c *Collector) LogSummary(samples []FrameSample) {
	if len(samples) == 0 {
		return
	}
	var total time.Duration
	var draws int
	worst := samples[0].Elapsed
	for _, s := range samples {
		total += s.Elapsed
		draws += s.Draws
		worst = max(worst, s.Elapsed)
	}
	last := samples[len(samples)-1]
	fields := []zap.Field{
		zap.Uint64("frame", last.Frame),
		zap.Int("frames", len(samples)),
		zap.Duration("mean", total/time.Duration(len(samples))),
		zap.Duration("worst", worst),
		zap.Int("live", last.Live),
		zap.Int("draws", draws),
	}
	if ts := c.Tasks(); len(ts) > 0 {
		fields = append(fields, zap.String("heaviest", ts[0].Name), zap.Duration("heaviest_mean", ts[0].Mean()))
	}
	c.log.Info("frame stats", fields...)
}

// Busy returns how many workers are inside a kernel right now.
func (c *Collector) Busy() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running)
}
