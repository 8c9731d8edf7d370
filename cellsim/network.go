// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellsim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Network counts attach and detach round-trips, each takes Delay
type Network struct {
	Delay time.Duration

	attached atomic.Bool
	attaches atomic.Int32
	detaches atomic.Int32

	mu   sync.Mutex
	fail error
}

func (n *Network) IsAttached() bool { return n.attached.Load() }

// FailNext makes next round-trip fail with err
func (n *Network) FailNext(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = err
}

func (n *Network) roundTrip(ctx context.Context) error {
	if n.Delay > 0 {
		t := time.NewTimer(n.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	err := n.fail
	n.fail = nil
	return err
}

func (n *Network) Attach(ctx context.Context) error {
	n.attaches.Add(1)
	if err := n.roundTrip(ctx); err != nil {
		return err
	}
	n.attached.Store(true)
	return nil
}

func (n *Network) Detach(ctx context.Context) error {
	n.detaches.Add(1)
	if err := n.roundTrip(ctx); err != nil {
		return err
	}
	n.attached.Store(false)
	return nil
}

// RoundTrips returns number of attach and detach calls so far
func (n *Network) RoundTrips() (attaches int, detaches int) {
	return int(n.attaches.Load()), int(n.detaches.Load())
}
