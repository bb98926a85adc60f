// Package dispatch crosses the boundary between the transport's receive
// goroutine and the single-threaded compositor loop. Inbound work is
// captured into a task closure owning deep copies of its payload, posted
// in order, and drained on the compositor side. Every posted task is
// invoked exactly once: normally with freeOnly=false, or with
// freeOnly=true when the queue is cancelled before the task is pulled.
package dispatch

import "sync"

// Task is one unit of posted work. When freeOnly is true the task must
// release whatever it owns and return without side effects.
type Task func(freeOnly bool)

// Queue is a FIFO of tasks posted from any goroutine and drained by the
// owner goroutine. Post is safe for concurrent use; Run and Cancel must
// only be called from the owner.
type Queue struct {
	mu        sync.Mutex
	tasks     []Task
	cancelled bool
	wake      func()
}

// NewQueue returns an empty queue. wake, if non-nil, is invoked (without
// the queue lock held) whenever a task is posted to an empty queue, so
// the owner's event loop can schedule a drain.
func NewQueue(wake func()) *Queue {
	return &Queue{wake: wake}
}

// Post appends task to the queue. If the queue has been cancelled the
// task is invoked immediately on the calling goroutine with
// freeOnly=true, so its payload is never leaked.
func (q *Queue) Post(task Task) {
	q.mu.Lock()
	if q.cancelled {
		q.mu.Unlock()
		task(true)
		return
	}
	wasEmpty := len(q.tasks) == 0
	q.tasks = append(q.tasks, task)
	wake := q.wake
	q.mu.Unlock()

	if wasEmpty && wake != nil {
		wake()
	}
}

// Run drains the tasks present at the time of the call, invoking each
// with freeOnly=false in posting order, and returns how many ran. Tasks
// posted while Run executes are left for the next drain.
func (q *Queue) Run() int {
	q.mu.Lock()
	batch := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	for _, task := range batch {
		task(false)
	}
	return len(batch)
}

// Cancel marks the queue cancelled and invokes every outstanding task
// with freeOnly=true in posting order. Tasks posted afterwards are
// free-only'd inline by Post.
func (q *Queue) Cancel() {
	q.mu.Lock()
	batch := q.tasks
	q.tasks = nil
	q.cancelled = true
	q.mu.Unlock()

	for _, task := range batch {
		task(true)
	}
}

// Pending returns the number of tasks waiting to run.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Cancelled reports whether Cancel has been called.
func (q *Queue) Cancelled() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled
}
