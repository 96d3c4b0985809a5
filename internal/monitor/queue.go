package monitor

import (
	"sync"
	"time"
)

// TaskQueue is an unbounded FIFO of closures drained by the detector loop.
type TaskQueue struct {
	mu    sync.Mutex
	tasks []func()
	ready chan struct{}
}

func NewTaskQueue() *TaskQueue {
	return &TaskQueue{ready: make(chan struct{}, 1)}
}

func (q *TaskQueue) Enqueue(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *TaskQueue) pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	fn := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return fn, true
}

// DrainOne waits up to timeout for a task and runs it. It reports whether a
// task ran.
func (q *TaskQueue) DrainOne(timeout time.Duration) bool {
	if fn, ok := q.pop(); ok {
		fn()
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-q.ready:
			if fn, ok := q.pop(); ok {
				fn()
				return true
			}
		case <-timer.C:
			return false
		}
	}
}

// Drain runs queued tasks until the queue is empty or the deadline passes,
// and returns how many ran.
func (q *TaskQueue) Drain(timeout time.Duration) int {
	deadline := time.Now().Add(timeout)
	n := 0
	for time.Now().Before(deadline) {
		fn, ok := q.pop()
		if !ok {
			break
		}
		fn()
		n++
	}
	return n
}
