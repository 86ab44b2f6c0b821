package queue

import (
	"log"
	"sync"
)

// TaskQueue is a buffered in-memory queue of functions run one at a time
// by a single background worker.
type TaskQueue struct {
	mu     sync.RWMutex
	closed bool
	tasks  chan func()
	done   chan struct{}
	logger *log.Logger
}

func NewTaskQueue(size int, logger *log.Logger) *TaskQueue {
	if size <= 0 {
		size = 100
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TaskQueue{
		tasks:  make(chan func(), size),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// StartWorker launches a background goroutine that processes queued tasks.
func (q *TaskQueue) StartWorker() {
	go func() {
		defer close(q.done)
		for task := range q.tasks {
			q.run(task)
		}
	}()
}

func (q *TaskQueue) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Printf("queue: task panicked: %v", r)
		}
	}()
	task()
}

// Enqueue adds task without waiting. It reports false when the queue is
// full or closed.
func (q *TaskQueue) Enqueue(task func()) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.tasks <- task:
		return true
	default:
		q.logger.Printf("queue: full, task dropped")
		return false
	}
}

// Close stops accepting tasks. The worker finishes what is queued and then
// closes Done.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.tasks)
}

func (q *TaskQueue) Done() <-chan struct{} {
	return q.done
}
