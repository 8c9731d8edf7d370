// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package netattach

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hrissan/cellhttp/cellstats"
)

// Network is the underlying data attachment (PDP context, interface, VPN).
// Attach and Detach block until the round-trip finishes.
type Network interface {
	IsAttached() bool
	Attach(ctx context.Context) error
	Detach(ctx context.Context) error
}

// Counter gates a single network attachment shared by all clients of a session.
// Only 0->1 and 1->0 transitions issue a round-trip, which runs with the lock
// released. The count changes only after a successful round-trip, so a failed
// Attach or Detach can simply be retried.
type Counter struct {
	network Network
	stats   cellstats.Stats
	log     *zap.Logger

	mu    sync.Mutex
	count uint32
	busy  chan struct{} // not nil while round-trip is in flight, closed when it finishes
}

func NewCounter(network Network, stats cellstats.Stats, log *zap.Logger) *Counter {
	if stats == nil {
		stats = cellstats.Nop()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Counter{network: network, stats: stats, log: log.Named("attach")}
}

func (c *Counter) Count() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// waitIdleLocked returns with lock held and no round-trip in flight
func (c *Counter) waitIdleLocked(ctx context.Context) error {
	for c.busy != nil {
		busy := c.busy
		c.mu.Unlock()
		select {
		case <-busy:
		case <-ctx.Done():
			c.mu.Lock()
			return ctx.Err()
		}
		c.mu.Lock()
	}
	return nil
}

func (c *Counter) Attach(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.waitIdleLocked(ctx); err != nil {
		return err
	}
	if c.count != 0 || c.network.IsAttached() {
		c.count++
		return nil
	}
	err := c.roundTripLocked(ctx, "attach", c.network.Attach)
	if err == nil {
		c.count++
		c.log.Debug("network attached")
	}
	return err
}

// Detach with zero count is a no-op
func (c *Counter) Detach(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.waitIdleLocked(ctx); err != nil {
		return err
	}
	switch c.count {
	case 0:
		return nil
	case 1:
	default:
		c.count--
		return nil
	}
	err := c.roundTripLocked(ctx, "detach", c.network.Detach)
	if err == nil {
		c.count--
		c.log.Debug("network detached")
	}
	return err
}

// roundTripLocked is called and returns with lock held, but runs fn without it
func (c *Counter) roundTripLocked(ctx context.Context, op string, fn func(context.Context) error) error {
	busy := make(chan struct{})
	c.busy = busy
	c.mu.Unlock()

	start := time.Now()
	err := fn(ctx)
	took := time.Since(start)
	c.stats.NetworkRoundTrip(op, took, err)
	if err != nil {
		c.log.Warn("network round-trip failed", zap.String("op", op), zap.Duration("took", took), zap.Error(err))
	}

	c.mu.Lock()
	c.busy = nil
	close(busy)
	return err
}

type hostNetwork struct{}

func (hostNetwork) IsAttached() bool             { return true }
func (hostNetwork) Attach(context.Context) error { return nil }
func (hostNetwork) Detach(context.Context) error { return nil }

// HostNetwork is for transports over the host network stack, which is always attached
func HostNetwork() Network { return hostNetwork{} }
