package queue

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrQueueClosed = errors.New("queue is closed")

// Task is one queued scrape request.
type Task struct {
	ID         string
	ListID     string
	EnqueuedAt time.Time
}

type Queue interface {
	Push(task *Task) error
	Pop(ctx context.Context) (*Task, error)
	Size() int
	Close() error
}

// InMemoryQueue is a FIFO of scrape tasks. A single worker drains it so
// only one browser run is in flight at a time.
//
// Waiters block on a wake channel that Push and Close replace under the
// lock. Pop never holds the mutex while waiting, so cancelling its
// context cannot race with the queue's own locking.
type InMemoryQueue struct {
	mu     sync.Mutex
	tasks  []*Task
	wake   chan struct{}
	closed bool
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		tasks: make([]*Task, 0),
		wake:  make(chan struct{}),
	}
}

func (q *InMemoryQueue) Push(task *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.tasks = append(q.tasks, task)
	q.notifyLocked()

	return nil
}

// notifyLocked wakes every blocked Pop. Callers must hold q.mu.
func (q *InMemoryQueue) notifyLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Pop returns the oldest task, blocking until one is pushed, the queue
// is closed, or ctx is cancelled.
func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks = q.tasks[1:]
			q.mu.Unlock()
			return task, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		}
	}
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	q.notifyLocked()

	return nil
}
