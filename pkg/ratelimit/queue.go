package ratelimit

import (
	"context"
	"time"
)

// Operation is a unit of work admitted by the limiter. The limiter runs
// operations sequentially, one at a time per instance.
type Operation func(ctx context.Context) error

// Task is the future returned by Schedule. It resolves with the
// operation's own error once the operation has been dispatched, or with
// ErrQueueCleared / ErrLimiterClosed / the task context's error if the
// task never runs.
type Task struct {
	op       Operation
	ctx      context.Context
	priority int
	seq      uint64
	enqueued time.Time

	done chan struct{}
	err  error
}

// Done returns a channel closed when the task has resolved.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task result. Only valid after Done is closed.
func (t *Task) Err() error { return t.err }

// Wait blocks until the task resolves or ctx is cancelled.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) resolve(err error) {
	t.err = err
	close(t.done)
}

// taskQueue is a binary heap ordered by descending priority, ties broken
// by ascending sequence number (submission order). The tie-break is
// explicit in Less so dispatch order never depends on sort stability.
type taskQueue []*Task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *taskQueue) Push(x any) { *q = append(*q, x.(*Task)) }

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return task
}
