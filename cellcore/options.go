// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellcore

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hrissan/cellhttp/cellconn"
	"github.com/hrissan/cellhttp/cellmem"
	"github.com/hrissan/cellhttp/cellstats"
)

type Options struct {
	Transport cellconn.Transport
	Allocator cellmem.Allocator
	Stats     cellstats.Stats
	Logger    *zap.Logger

	// request descriptors are a fixed array, concurrent request count is small
	MaxRequests int
	// receive queue capacity in buffers, at least 2 (one buffer and close marker
	// must be able to coexist without the adapter ever blocking)
	ReceiveQueueLen int

	// used by Receive(UseDefaultTimeout), 0 means wait forever
	ReceiveTimeout time.Duration
	// active request without traffic for that long is timed out on poll, 0 disables
	RequestTimeout time.Duration

	// called from transport context under client state lock, must not block
	// and must not call blocking client methods
	OnEvent EventFunc
	Arg     any
}

func DefaultOptions(transport cellconn.Transport) *Options {
	return &Options{
		Transport:       transport,
		Allocator:       cellmem.Heap(),
		Stats:           cellstats.Nop(),
		Logger:          zap.NewNop(),
		MaxRequests:     1,
		ReceiveQueueLen: 8,
		ReceiveTimeout:  0,
		RequestTimeout:  30 * time.Second,
	}
}

func (opts *Options) Validate() error {
	if opts.Transport == nil {
		return fmt.Errorf("transport must be set")
	}
	if opts.Allocator == nil {
		return fmt.Errorf("allocator must be set")
	}
	if opts.Stats == nil {
		return fmt.Errorf("stats must be set, use cellstats.Nop() to disable")
	}
	if opts.Logger == nil {
		return fmt.Errorf("logger must be set, use zap.NewNop() to disable")
	}
	if opts.MaxRequests < 1 {
		return fmt.Errorf("MaxRequests (%d) should be at least 1", opts.MaxRequests)
	}
	if opts.ReceiveQueueLen < 2 {
		return fmt.Errorf("ReceiveQueueLen (%d) should be at least 2", opts.ReceiveQueueLen)
	}
	if opts.ReceiveTimeout < 0 {
		return fmt.Errorf("ReceiveTimeout (%v) should not be negative", opts.ReceiveTimeout)
	}
	if opts.RequestTimeout < 0 {
		return fmt.Errorf("RequestTimeout (%v) should not be negative", opts.RequestTimeout)
	}
	return nil
}
