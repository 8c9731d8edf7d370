// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package netattach_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrissan/cellhttp/netattach"
)

type fakeNetwork struct {
	attached atomic.Bool
	attaches atomic.Int32
	detaches atomic.Int32
	delay    time.Duration

	mu   sync.Mutex
	fail error
}

func (n *fakeNetwork) IsAttached() bool { return n.attached.Load() }

func (n *fakeNetwork) takeFail() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	err := n.fail
	n.fail = nil
	return err
}

func (n *fakeNetwork) Attach(ctx context.Context) error {
	n.attaches.Add(1)
	time.Sleep(n.delay)
	if err := n.takeFail(); err != nil {
		return err
	}
	if n.attached.Swap(true) {
		return errors.New("double attach")
	}
	return nil
}

func (n *fakeNetwork) Detach(ctx context.Context) error {
	n.detaches.Add(1)
	time.Sleep(n.delay)
	if err := n.takeFail(); err != nil {
		return err
	}
	if !n.attached.Swap(false) {
		return errors.New("double detach")
	}
	return nil
}

func TestConcurrentAttachDetach(t *testing.T) {
	const N = 32
	network := &fakeNetwork{delay: 5 * time.Millisecond}
	c := netattach.NewCounter(network, nil, nil)
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < N; i++ {
		g.Go(func() error { return c.Attach(ctx) })
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := c.Count(); got != N {
		t.Fatalf("count %d after %d attaches", got, N)
	}
	for i := 0; i < N; i++ {
		g.Go(func() error { return c.Detach(ctx) })
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := c.Count(); got != 0 {
		t.Fatalf("count %d after all detaches", got)
	}
	if a, d := network.attaches.Load(), network.detaches.Load(); a != 1 || d != 1 {
		t.Fatalf("round-trips attach=%d detach=%d, want 1 each", a, d)
	}
	if network.IsAttached() {
		t.Fatalf("network left attached")
	}
}

func TestFailureLeavesCountUnchanged(t *testing.T) {
	network := &fakeNetwork{}
	c := netattach.NewCounter(network, nil, nil)
	ctx := context.Background()

	errNoSignal := errors.New("no signal")
	network.fail = errNoSignal
	if err := c.Attach(ctx); !errors.Is(err, errNoSignal) {
		t.Fatalf("expected attach error, got %v", err)
	}
	if c.Count() != 0 {
		t.Fatalf("count changed by failed attach")
	}
	if err := c.Attach(ctx); err != nil { // retry
		t.Fatal(err)
	}
	network.fail = errNoSignal
	if err := c.Detach(ctx); !errors.Is(err, errNoSignal) {
		t.Fatalf("expected detach error, got %v", err)
	}
	if c.Count() != 1 {
		t.Fatalf("count changed by failed detach")
	}
	if err := c.Detach(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.Detach(ctx); err != nil {
		t.Fatalf("detach at zero must be a no-op, got %v", err)
	}
	if a, d := network.attaches.Load(), network.detaches.Load(); a != 2 || d != 2 {
		t.Fatalf("round-trips attach=%d detach=%d, want 2 each", a, d)
	}
}

func TestAlreadyAttachedSkipsRoundTrip(t *testing.T) {
	network := &fakeNetwork{}
	network.attached.Store(true)
	c := netattach.NewCounter(network, nil, nil)
	if err := c.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}
	if network.attaches.Load() != 0 || c.Count() != 1 {
		t.Fatalf("attach must only count when network is attached by someone else")
	}
}

type gatedNetwork struct {
	entered chan struct{}
	release chan struct{}
}

func (n *gatedNetwork) IsAttached() bool { return false }

func (n *gatedNetwork) Attach(ctx context.Context) error {
	close(n.entered)
	<-n.release
	return nil
}

func (n *gatedNetwork) Detach(ctx context.Context) error { return nil }

func TestWaitingCallerCancelled(t *testing.T) {
	network := &gatedNetwork{entered: make(chan struct{}), release: make(chan struct{})}
	c := netattach.NewCounter(network, nil, nil)
	done := make(chan error, 1)
	go func() { done <- c.Attach(context.Background()) }()
	<-network.entered
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := c.Attach(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while round-trip in flight, got %v", err)
	}
	close(network.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if c.Count() != 1 {
		t.Fatalf("cancelled waiter must not change count, got %d", c.Count())
	}
}

func TestHostNetwork(t *testing.T) {
	c := netattach.NewCounter(netattach.HostNetwork(), nil, nil)
	for i := 0; i < 3; i++ {
		if err := c.Attach(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if c.Count() != 3 {
		t.Fatalf("unexpected count %d", c.Count())
	}
}
