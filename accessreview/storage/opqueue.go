package storage

import (
	"sync"
)

// OpQueue serializes read-modify-write operations per resource key.
// Operations for the same key run strictly FIFO; operations for
// different keys run independently. A key's state is dropped as soon as
// its queue drains, so one-off resources do not accumulate.
type OpQueue struct {
	mu     sync.Mutex
	queues map[string]*keyQueue
}

type keyQueue struct {
	ops     []queuedOp
	running bool
}

type queuedOp struct {
	op   func() error
	done chan error
}

func NewOpQueue() *OpQueue {
	return &OpQueue{
		queues: make(map[string]*keyQueue),
	}
}

// Run enqueues op under key and blocks until it has executed. The
// returned error is op's own error; a failing operation does not affect
// queued successors. Callers capture results through the closure.
func (q *OpQueue) Run(key string, op func() error) error {
	done := make(chan error, 1)

	q.mu.Lock()
	kq, ok := q.queues[key]
	if !ok {
		kq = &keyQueue{}
		q.queues[key] = kq
	}
	kq.ops = append(kq.ops, queuedOp{op: op, done: done})
	start := !kq.running
	if start {
		kq.running = true
	}
	q.mu.Unlock()

	if start {
		go q.drain(key)
	}

	return <-done
}

func (q *OpQueue) drain(key string) {
	for {
		q.mu.Lock()
		kq := q.queues[key]
		if kq == nil || len(kq.ops) == 0 {
			delete(q.queues, key)
			q.mu.Unlock()
			return
		}
		next := kq.ops[0]
		kq.ops = kq.ops[1:]
		q.mu.Unlock()

		next.done <- next.op()
	}
}

// PendingKeys reports how many keys currently have queued or running
// operations. Used by shutdown logging only.
func (q *OpQueue) PendingKeys() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues)
}
