// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellmem

import (
	"fmt"
	"sync"

	"github.com/hrissan/cellhttp/cellerrors"
)

// Tag says what allocation is for, so accounting allocators can
// count per kind and tests can make any single construction step fail.
type Tag int

const (
	TagClient Tag = iota
	TagTxBuffer
	TagRxBuffer
	TagQueue
	TagSignal
	TagMutex
	TagPbuf
	tagCount
)

func (t Tag) String() string {
	switch t {
	case TagClient:
		return "client"
	case TagTxBuffer:
		return "tx_buffer"
	case TagRxBuffer:
		return "rx_buffer"
	case TagQueue:
		return "queue"
	case TagSignal:
		return "signal"
	case TagMutex:
		return "mutex"
	case TagPbuf:
		return "pbuf"
	default:
		return fmt.Sprintf("tag(%d)", int(t))
	}
}

// Allocator is the fixed allocation service. Every successful Malloc
// must be paired with exactly one Free with the same tag.
type Allocator interface {
	Malloc(tag Tag, size int) ([]byte, error)
	Free(tag Tag, b []byte)
}

type heapAllocator struct{}

func (heapAllocator) Malloc(tag Tag, size int) ([]byte, error) {
	if size < 0 {
		return nil, cellerrors.ErrAllocationFailed
	}
	return make([]byte, size), nil
}

func (heapAllocator) Free(Tag, []byte) {}

// Heap allocates from Go heap and never fails for valid sizes
func Heap() Allocator { return heapAllocator{} }

// TrackingAllocator counts outstanding allocations per tag and can be told
// to fail the next allocation of a given tag. For tests and leak hunting.
type TrackingAllocator struct {
	mu          sync.Mutex
	outstanding [tagCount]int
	total       [tagCount]int
	failOn      [tagCount]bool
}

func NewTrackingAllocator() *TrackingAllocator {
	return &TrackingAllocator{}
}

// FailNext makes the next Malloc with tag fail once
func (a *TrackingAllocator) FailNext(tag Tag) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failOn[tag] = true
}

func (a *TrackingAllocator) Malloc(tag Tag, size int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tag < 0 || tag >= tagCount || size < 0 {
		return nil, cellerrors.ErrAllocationFailed
	}
	if a.failOn[tag] {
		a.failOn[tag] = false
		return nil, cellerrors.ErrAllocationFailed
	}
	a.outstanding[tag]++
	a.total[tag]++
	return make([]byte, size), nil
}

func (a *TrackingAllocator) Free(tag Tag, b []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.outstanding[tag] == 0 {
		panic("cellmem: free of " + tag.String() + " without matching malloc")
	}
	a.outstanding[tag]--
}

// Outstanding returns number of allocations not yet freed, all tags
func (a *TrackingAllocator) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, o := range a.outstanding {
		n += o
	}
	return n
}

func (a *TrackingAllocator) OutstandingTag(tag Tag) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outstanding[tag]
}

// Total returns number of successful allocations with tag since creation
func (a *TrackingAllocator) Total(tag Tag) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total[tag]
}
