package async

import (
	"sync"
	"time"
)

// Descriptor is one queued write: a single put_var call's worth of data
// bound for the backend, identified by a correlation id so a future
// caller can join on a specific descriptor rather than the whole queue.
type Descriptor struct {
	ID    string
	VarID int
	Start []int64
	Count []int64
	Data  []byte

	EnqueuedAt time.Time
	Result     chan error
}

// Queue is the single FIFO shared between put_var callers (producers) and
// the one background writer goroutine (the sole consumer): one dedicated
// writer thread per open file, servicing a single FIFO queue of pending
// write requests.
type Queue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []*Descriptor
}

func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) Push(d *Descriptor) {
	q.mu.Lock()
	q.items = append(q.items, d)
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pop blocks until an item is available or stop becomes true, in which
// case it returns (nil, false).
func (q *Queue) pop(stopped func() bool) (*Descriptor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if stopped() {
			return nil, false
		}
		q.cond.Wait()
	}
	d := q.items[0]
	q.items = q.items[1:]
	q.cond.Broadcast()
	return d, true
}

// waitDrained blocks until the queue is locally empty.
func (q *Queue) waitDrained() {
	q.mu.Lock()
	for len(q.items) > 0 {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

func (q *Queue) wake() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cond.Broadcast()
}
