// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

// Package celltcp is a cellconn.Transport over host TCP (and TLS) sockets.
// Every connection runs a reader goroutine, which also dials, and a writer goroutine.
// Poll events come from a shared clock goroutine.
package celltcp

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/hrissan/cellhttp/cellconn"
)

var ErrTooManyConnections = errors.New("celltcp: too many connections")
var ErrShutdown = errors.New("celltcp: transport is shut down")

type Transport struct {
	opts  Options
	log   *zap.Logger
	clock *Clock

	mu       sync.Mutex
	conns    []*Conn // index is connection number, nil for free
	shutdown bool
	wg       sync.WaitGroup
}

var _ cellconn.Transport = &Transport{}

func New(opts *Options) (*Transport, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	t := &Transport{
		opts:  *opts,
		log:   opts.Logger.Named("tcp"),
		clock: NewClock(opts.MaxConnections),
		conns: make([]*Conn, opts.MaxConnections),
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.clock.GoRun()
	}()
	return t, nil
}

func (t *Transport) Start(typ cellconn.Type, host string, port uint16, arg any, handler cellconn.Handler) (cellconn.Conn, error) {
	if !typ.Valid() || handler == nil {
		return nil, errors.New("celltcp: invalid start arguments")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.shutdown {
		return nil, ErrShutdown
	}
	num := -1
	for i, c := range t.conns {
		if c == nil {
			num = i
			break
		}
	}
	if num < 0 {
		return nil, ErrTooManyConnections
	}
	c := newConn(t, num, typ, handler, arg)
	t.conns[num] = c
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		c.goRun(host, port)
	}()
	return c, nil
}

func (t *Transport) release(c *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[c.num] == c {
		t.conns[c.num] = nil
	}
}

// Active returns number of connections not yet closed
func (t *Transport) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.conns {
		if c != nil {
			n++
		}
	}
	return n
}

// Shutdown closes all connections, waits until every EventClosed is delivered
// and all goroutines exit. Start fails after Shutdown.
func (t *Transport) Shutdown() {
	t.mu.Lock()
	t.shutdown = true
	conns := append([]*Conn(nil), t.conns...)
	t.mu.Unlock()
	for _, c := range conns {
		if c != nil {
			_ = c.Close()
		}
	}
	t.clock.Close()
	t.wg.Wait()
}
