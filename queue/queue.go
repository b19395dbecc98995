// Package queue provides the bounded in-process delivery queue between the
// channel listener and the fan-out router. Single writer, single reader,
// drop-oldest under pressure — delivery is observational, not guaranteed.
package queue

import (
	"context"
	"sync"

	"github.com/engagekit/engrelay/event"
)

// DefaultCapacity is used when the configured capacity is not positive.
const DefaultCapacity = 1024

// DeliveryQueue is a bounded FIFO of ChangeEvents. Push never blocks: when the
// queue is full the oldest event is evicted. Pop suspends until an event is
// available or the context is cancelled.
type DeliveryQueue struct {
	mu      sync.Mutex
	buf     []event.ChangeEvent
	head    int // Index of oldest element
	size    int
	notify  chan struct{} // Capacity 1, coalesced wakeup
	dropped uint64
}

// New creates a delivery queue with the given capacity.
func New(capacity int) *DeliveryQueue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &DeliveryQueue{
		buf:    make([]event.ChangeEvent, capacity),
		notify: make(chan struct{}, 1),
	}
}

// Push appends ev, evicting the oldest queued event when full. It returns the
// evicted event and true when an eviction happened.
func (q *DeliveryQueue) Push(ev event.ChangeEvent) (event.ChangeEvent, bool) {
	q.mu.Lock()
	var evicted event.ChangeEvent
	var didEvict bool
	if q.size == len(q.buf) {
		evicted = q.buf[q.head]
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.dropped++
		didEvict = true
	}
	q.buf[(q.head+q.size)%len(q.buf)] = ev
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted, didEvict
}

// Pop removes and returns the oldest event, blocking while the queue is empty.
// Returns ctx.Err() once the context is cancelled.
func (q *DeliveryQueue) Pop(ctx context.Context) (event.ChangeEvent, error) {
	for {
		q.mu.Lock()
		if q.size > 0 {
			ev := q.buf[q.head]
			q.buf[q.head] = event.ChangeEvent{}
			q.head = (q.head + 1) % len(q.buf)
			q.size--
			remaining := q.size
			q.mu.Unlock()
			// Keep the wakeup token alive for remaining events so a reader
			// racing Push never stalls with a non-empty queue.
			if remaining > 0 {
				select {
				case q.notify <- struct{}{}:
				default:
				}
			}
			return ev, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return event.ChangeEvent{}, ctx.Err()
		}
	}
}

// Len returns the current number of queued events.
func (q *DeliveryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped returns the total number of events evicted under pressure.
func (q *DeliveryQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
