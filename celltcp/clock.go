// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package celltcp

import (
	"sync"
	"time"
)

// Timer is owned by connection, heap position is stored inside,
// so stopping a timer does not search.
type Timer struct {
	// must not be changed except by clock, protected by clock mutex
	heapIndex int // 0 means "not in heap"
	// time.Time is larger and has complicated comparison
	fireTimeUnixNano int64

	fireFunc func(timer *Timer)
}

// Clock runs timer callbacks on a single goroutine, one at a time
type Clock struct {
	mu       sync.Mutex
	cond     chan struct{}
	shutdown bool

	timers timerHeap
}

func NewClock(maxTimers int) *Clock {
	return &Clock{
		cond:   make(chan struct{}, 1),
		timers: timerHeap{storage: make([]*Timer, 0, maxTimers)},
	}
}

func (cl *Clock) signal() {
	select {
	case cl.cond <- struct{}{}:
	default:
	}
}

func (cl *Clock) Close() {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.shutdown = true
	cl.signal()
}

// blocks until Close() called
func (cl *Clock) GoRun() {
	t := time.NewTimer(time.Hour)
	t.Stop() // since go 1.23 stopped timer never delivers stale value, no draining
	for {
		cl.mu.Lock()
		var fireDur time.Duration
		var timer *Timer
		if cl.timers.Len() != 0 {
			timer = cl.timers.Front()
			fireDur = time.Duration(timer.fireTimeUnixNano - time.Now().UnixNano())
			if fireDur <= 0 {
				timer.fireTimeUnixNano = 0
				cl.timers.PopFront()
			}
		}
		shutdown := cl.shutdown
		cl.mu.Unlock()
		if shutdown {
			return
		}
		if timer == nil {
			<-cl.cond
			continue
		}
		if fireDur <= 0 {
			timer.fireFunc(timer)
			continue
		}
		t.Reset(fireDur)
		select {
		case <-t.C:
		case <-cl.cond:
			t.Stop()
		}
	}
}

func (cl *Clock) StopTimer(timer *Timer) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.timers.Erase(timer)
	timer.fireTimeUnixNano = 0
}

// SetTimer schedules timer, or moves already scheduled timer earlier.
// Timer scheduled later than deadline stays where it is.
func (cl *Clock) SetTimer(timer *Timer, deadline time.Time) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.shutdown {
		return
	}
	fireTimeUnixNano := deadline.UnixNano()
	if timer.heapIndex != 0 && fireTimeUnixNano >= timer.fireTimeUnixNano {
		return
	}
	cl.timers.Erase(timer)
	timer.fireTimeUnixNano = fireTimeUnixNano
	cl.timers.Insert(timer)
	if cl.timers.Front() == timer {
		cl.signal()
	}
}

// min heap by fire time, index in storage + 1 is kept in Timer.heapIndex
type timerHeap struct {
	storage []*Timer
}

func timerLess(a, b *Timer) bool { return a.fireTimeUnixNano < b.fireTimeUnixNano }

func (h *timerHeap) Len() int { return len(h.storage) }

func (h *timerHeap) Front() *Timer { return h.storage[0] }

func (h *timerHeap) Insert(timer *Timer) bool {
	if timer.heapIndex != 0 {
		return false
	}
	h.storage = append(h.storage, timer)
	h.moveUp(len(h.storage) - 1)
	return true
}

func (h *timerHeap) Erase(timer *Timer) bool {
	if timer.heapIndex == 0 {
		return false
	}
	ind := timer.heapIndex - 1
	if h.storage[ind] != timer {
		panic("timer heap invariant violated")
	}
	timer.heapIndex = 0
	h.popBackToIndex(ind)
	if ind < len(h.storage) {
		if ind > 0 && timerLess(h.storage[ind], h.storage[(ind-1)/2]) {
			h.moveUp(ind)
		} else {
			h.moveDown(ind)
		}
	}
	return true
}

func (h *timerHeap) PopFront() {
	h.storage[0].heapIndex = 0
	h.popBackToIndex(0)
	if len(h.storage) > 0 {
		h.moveDown(0)
	}
}

func (h *timerHeap) popBackToIndex(ind int) {
	last := len(h.storage) - 1
	h.storage[ind] = h.storage[last]
	h.storage[last] = nil // do not leave aliases
	h.storage = h.storage[:last]
}

func (h *timerHeap) moveDown(ind int) {
	size := len(h.storage)
	data := h.storage[ind]
	for {
		lc := ind*2 + 1
		if lc >= size {
			break
		}
		if lc+1 < size && !timerLess(h.storage[lc], h.storage[lc+1]) {
			lc++
		}
		if !timerLess(h.storage[lc], data) {
			break
		}
		h.storage[ind] = h.storage[lc]
		h.storage[ind].heapIndex = ind + 1
		ind = lc
	}
	h.storage[ind] = data
	data.heapIndex = ind + 1
}

func (h *timerHeap) moveUp(ind int) {
	data := h.storage[ind]
	for ind > 0 {
		p := (ind - 1) / 2
		if !timerLess(data, h.storage[p]) {
			break
		}
		h.storage[ind] = h.storage[p]
		h.storage[ind].heapIndex = ind + 1
		ind = p
	}
	h.storage[ind] = data
	data.heapIndex = ind + 1
}
