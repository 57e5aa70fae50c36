package sched

import "time"

// Observer receives the prologue/epilogue of every task execution. Calls come
// from worker goroutines concurrently; implementations synchronize themselves.
type Observer interface {
	TaskStarted(worker int, name string)
	TaskFinished(worker int, name string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) TaskStarted(int, string)                 {}
func (nopObserver) TaskFinished(int, string, time.Duration) {}
