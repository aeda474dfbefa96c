package inbox

import (
	"context"
	"sync"
	"time"
)

// Queue is a thread-safe FIFO of envelopes. Producers are the channel pollers;
// the engine is the only consumer.
type Queue struct {
	mu     sync.Mutex
	items  []Envelope
	notify chan struct{} // buffered(1) wakeup for a blocked Wait
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends an envelope.
func (q *Queue) Push(e Envelope) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.signal()
}

// PushFront puts envelopes back at the head, keeping their relative order.
// Used to return envelopes the drain step is not allowed to consume.
func (q *Queue) PushFront(envs ...Envelope) {
	if len(envs) == 0 {
		return
	}
	q.mu.Lock()
	items := make([]Envelope, 0, len(envs)+len(q.items))
	items = append(items, envs...)
	q.items = append(items, q.items...)
	q.mu.Unlock()
	q.signal()
}

// TryPop removes the head without blocking.
func (q *Queue) TryPop() (Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Envelope{}, false
	}
	e := q.items[0]
	q.items[0] = Envelope{}
	q.items = q.items[1:]
	return e, true
}

// Drain removes and returns everything queued, oldest first.
func (q *Queue) Drain() []Envelope {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Wait blocks until an envelope is available, the timeout elapses, or ctx is done.
func (q *Queue) Wait(ctx context.Context, timeout time.Duration) (Envelope, bool) {
	if e, ok := q.TryPop(); ok {
		return e, true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return Envelope{}, false
		case <-timer.C:
			return q.TryPop()
		case <-q.notify:
			if e, ok := q.TryPop(); ok {
				return e, true
			}
		}
	}
}

// Len returns the number of queued envelopes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
