// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package rxqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hrissan/cellhttp/cellerrors"
	"github.com/hrissan/cellhttp/cellmem"
	"github.com/hrissan/cellhttp/circular"
	"github.com/hrissan/cellhttp/safecast"
)

// WaitForever as Pop timeout blocks until an item or close marker arrives
const WaitForever time.Duration = -1

// closedMark is pushed once when the connection closes, so blocked readers wake up.
// It is never freed and never returned to callers.
var closedMark = &cellmem.Pbuf{}

// Queue is a bounded FIFO of received buffers between transport context
// (producer, never blocks) and one application reader (consumer, may block).
// Ownership of a buffer moves to the queue on successful Push and to
// the reader on successful Pop.
type Queue struct {
	alloc   cellmem.Allocator
	storage []byte // accounted memory, ring storage itself lives in items

	mu       sync.Mutex
	items    []*cellmem.Pbuf
	ring     circular.Ring[*cellmem.Pbuf]
	capacity int

	signal chan struct{} // 1-slot, same as signalCond in blocking connection
}

// New allocates a queue for capacity buffers, plus one slot reserved for the close marker
func New(alloc cellmem.Allocator, capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, cellerrors.ErrInvalidArgument
	}
	size := circular.RoundUp(capacity + 1)
	storage, err := alloc.Malloc(cellmem.TagQueue, size*8)
	if err != nil {
		return nil, err
	}
	q := &Queue{
		alloc:    alloc,
		storage:  storage,
		items:    make([]*cellmem.Pbuf, size),
		capacity: capacity,
		signal:   make(chan struct{}, 1),
	}
	q.ring.Init(q.items, capacity+1)
	return q, nil
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Push never blocks. On error ownership of p stays with the caller.
func (q *Queue) Push(p *cellmem.Pbuf) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.ring.Initialized() {
		return cellerrors.ErrClosed
	}
	if q.ring.Len() >= q.capacity {
		return cellerrors.ErrReceiveQueueFull
	}
	q.ring.PushBack(p)
	q.wake()
	return nil
}

// PushClosed enqueues the close marker, never fails on a live queue
func (q *Queue) PushClosed() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.ring.Initialized() {
		return
	}
	if q.ring.Len() != 0 && q.ring.Index(q.ring.Len()-1) == closedMark {
		return
	}
	if q.ring.TryPushBack(closedMark) {
		q.wake()
	}
}

// close marker stays in queue, so every Pop after it returns ErrClosed until Drain,
// deleted queue behaves as closed
func (q *Queue) tryPop() (*cellmem.Pbuf, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.ring.Initialized() {
		return closedMark, true
	}
	if q.ring.Len() == 0 {
		return nil, false
	}
	if q.ring.Front() == closedMark {
		q.wake()
		return closedMark, true
	}
	p := q.ring.PopFront()
	if q.ring.Len() != 0 {
		q.wake() // for the next Pop, signal holds at most one token
	}
	return p, true
}

func result(p *cellmem.Pbuf) (*cellmem.Pbuf, error) {
	if p == closedMark {
		return nil, cellerrors.ErrClosed
	}
	return p, nil
}

// Pop returns next buffer. Zero timeout never blocks, WaitForever never times out.
// Returns ErrTimeout if nothing arrived in time, ErrClosed after close marker.
func (q *Queue) Pop(timeout time.Duration) (*cellmem.Pbuf, error) {
	if timeout == 0 {
		if p, ok := q.tryPop(); ok {
			return result(p)
		}
		return nil, cellerrors.ErrTimeout
	}
	if timeout < 0 {
		return q.PopContext(context.Background())
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	p, err := q.PopContext(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, cellerrors.ErrTimeout
	}
	return p, err
}

// PopContext blocks until a buffer arrives or ctx is done
func (q *Queue) PopContext(ctx context.Context) (*cellmem.Pbuf, error) {
	for {
		if p, ok := q.tryPop(); ok {
			return result(p)
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.Len()
}

// Cap returns number of data buffers queue accepts, close marker slot not included
func (q *Queue) Cap() int { return q.capacity }

// Drain frees all queued buffers, returns how many data buffers were dropped
func (q *Queue) Drain() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drainLocked()
}

func (q *Queue) drainLocked() int {
	n := 0
	for {
		p, ok := q.ring.TryPopFront()
		if !ok {
			return n
		}
		if p != closedMark {
			p.Free()
			n++
		}
	}
}

// Delete drains and releases queue memory. Push after Delete returns ErrClosed.
func (q *Queue) Delete() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.ring.Initialized() {
		return
	}
	q.drainLocked()
	q.ring.Release()
	q.alloc.Free(cellmem.TagQueue, q.storage)
	q.storage = nil
	q.items = nil
	q.wake()
}

// PendingBytes sums sizes of queued data buffers
func (q *Queue) PendingBytes() uint32 {
	q.mu.Lock()
	defer q.mu.Unlock()
	var sum uint32
	s1, s2 := q.ring.Slices()
	for _, p := range s1 {
		sum = safecast.SaturatingAdd32(sum, p.Len())
	}
	for _, p := range s2 {
		sum = safecast.SaturatingAdd32(sum, p.Len())
	}
	return sum
}
