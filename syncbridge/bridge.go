// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package syncbridge

import (
	"context"
	"sync"
)

// Bridge lets one goroutine block on exactly one asynchronous completion.
//
// The mutex serializes whole public operations of one client, so there is never more
// than one outstanding asynchronous operation. The completion slot is a fresh 1-element
// channel per operation, armed before the request is issued, so a completion arriving
// before the caller starts waiting is not lost, and a stale completion of a previous
// operation cannot be mistaken for this one. Complete with nothing armed is a no-op.
type Bridge struct {
	mu sync.Mutex // held for the full duration of a public operation

	pmu     sync.Mutex // protects fields below, never held while blocking
	pending Op
	done    chan Result
}

type Op int

const (
	OpNone Op = iota
	OpConnect
	OpClose
	OpWrite
	OpAny // only as Complete argument, matches any pending operation
)

func (op Op) String() string {
	switch op {
	case OpNone:
		return "none"
	case OpConnect:
		return "connect"
	case OpClose:
		return "close"
	case OpWrite:
		return "write"
	case OpAny:
		return "any"
	default:
		return "unknown"
	}
}

type Result struct {
	N   int // bytes, for OpWrite
	Err error
}

func New() *Bridge { return &Bridge{} }

func (b *Bridge) Lock()   { b.mu.Lock() }
func (b *Bridge) Unlock() { b.mu.Unlock() }

// Pending returns armed operation or OpNone
func (b *Bridge) Pending() Op {
	b.pmu.Lock()
	defer b.pmu.Unlock()
	return b.pending
}

// CallLocked arms completion for op, runs issue (which must start asynchronous work
// and must not block), and waits until Complete(op) or ctx is done.
// Must be called with Lock held. If issue fails, returns its error without waiting.
func (b *Bridge) CallLocked(ctx context.Context, op Op, issue func() error) Result {
	if op == OpNone || op == OpAny {
		panic("syncbridge: invalid operation " + op.String())
	}
	done := make(chan Result, 1)
	b.arm(op, done)
	if err := issue(); err != nil {
		b.disarm(done)
		return Result{Err: err}
	}
	select {
	case r := <-done:
		return r // Complete already disarmed
	case <-ctx.Done():
		b.disarm(done)
		select { // completion might have raced with cancellation, it wins
		case r := <-done:
			return r
		default:
		}
		return Result{Err: ctx.Err()}
	}
}

// Call is Lock + CallLocked + Unlock
func (b *Bridge) Call(ctx context.Context, op Op, issue func() error) Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.CallLocked(ctx, op, issue)
}

// Complete delivers result to the goroutine waiting for op (or for anything, if op is OpAny).
// Called from transport context, never blocks. Returns false if nobody waits for op.
func (b *Bridge) Complete(op Op, r Result) bool {
	b.pmu.Lock()
	defer b.pmu.Unlock()
	if b.done == nil || (op != OpAny && op != b.pending) {
		return false
	}
	b.done <- r // cannot block, slot is fresh and disarmed right here
	b.done = nil
	b.pending = OpNone
	return true
}

func (b *Bridge) arm(op Op, done chan Result) {
	b.pmu.Lock()
	defer b.pmu.Unlock()
	if b.done != nil {
		panic("syncbridge: operation armed while another is pending, Lock not held")
	}
	b.pending = op
	b.done = done
}

func (b *Bridge) disarm(done chan Result) {
	b.pmu.Lock()
	defer b.pmu.Unlock()
	if b.done == done {
		b.done = nil
		b.pending = OpNone
	}
}
