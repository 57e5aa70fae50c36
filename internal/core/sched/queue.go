package sched

import "github.com/emirpasic/gods/queues/linkedlistqueue"

// taskQueue is a FIFO of ready tasks. Not synchronized; the scheduler lock
// guards every queue.
type taskQueue struct {
	q *linkedlistqueue.Queue
}

func newTaskQueue() *taskQueue {
	return &taskQueue{q: linkedlistqueue.New()}
}

func (q *taskQueue) push(t *task) { q.q.Enqueue(t) }

func (q *taskQueue) pop() (*task, bool) {
	v, ok := q.q.Dequeue()
	if !ok {
		return nil, false
	}
	return v.(*task), true
}

func (q *taskQueue) len() int { return q.q.Size() }
