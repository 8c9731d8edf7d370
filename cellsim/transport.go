// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

// Package cellsim is an in-memory transport and network for tests and demos.
// Tests fire events by hand, or set hooks to make the transport
// answer asynchronously like a real one.
package cellsim

import (
	"bytes"
	"errors"
	"sync"

	"github.com/hrissan/cellhttp/cellconn"
)

var ErrRejected = errors.New("cellsim: request rejected")

type Transport struct {
	// hooks run on a fresh goroutine after the request was accepted
	OnStart func(c *Conn)
	OnWrite func(c *Conn, data []byte)
	OnClose func(c *Conn)

	mu        sync.Mutex
	conns     []*Conn
	failStart error
	failWrite error
	failClose error
}

func New() *Transport { return &Transport{} }

// NewAuto answers like a healthy network: connect succeeds,
// every write is sent in full, close completes.
func NewAuto() *Transport {
	t := New()
	t.OnStart = func(c *Conn) { _ = c.Fire(cellconn.EventActive{}) }
	t.OnWrite = func(c *Conn, data []byte) { _ = c.Fire(cellconn.EventSent{Sent: len(data)}) }
	t.OnClose = func(c *Conn) { _ = c.Fire(cellconn.EventClosed{Forced: true}) }
	return t
}

// FailNextStart makes next Start return err synchronously
func (t *Transport) FailNextStart(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failStart = err
}

func (t *Transport) FailNextWrite(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failWrite = err
}

func (t *Transport) FailNextClose(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failClose = err
}

func takeErr(mu *sync.Mutex, err *error) error {
	mu.Lock()
	defer mu.Unlock()
	e := *err
	*err = nil
	return e
}

func (t *Transport) Start(typ cellconn.Type, host string, port uint16, arg any, handler cellconn.Handler) (cellconn.Conn, error) {
	if err := takeErr(&t.mu, &t.failStart); err != nil {
		return nil, err
	}
	t.mu.Lock()
	c := &Conn{
		t:       t,
		Type:    typ,
		Host:    host,
		Port:    port,
		num:     len(t.conns),
		handler: handler,
		arg:     arg,
	}
	t.conns = append(t.conns, c)
	hook := t.OnStart
	t.mu.Unlock()
	if hook != nil {
		go hook(c)
	}
	return c, nil
}

// Conns returns connections in order of Start
func (t *Transport) Conns() []*Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Conn(nil), t.conns...)
}

// Last returns most recently started connection or nil
func (t *Transport) Last() *Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

type Conn struct {
	t       *Transport
	Type    cellconn.Type
	Host    string
	Port    uint16
	num     int
	handler cellconn.Handler

	evmu sync.Mutex // events of one connection are delivered one at a time

	mu         sync.Mutex
	arg        any
	written    bytes.Buffer
	writes     int
	closeCalls int
	handlerErr error
}

var _ cellconn.Conn = &Conn{}

func (c *Conn) Num() int { return c.num }

func (c *Conn) Arg() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.arg
}

func (c *Conn) SetArg(arg any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arg = arg
}

func (c *Conn) Write(data []byte) error {
	if err := takeErr(&c.t.mu, &c.t.failWrite); err != nil {
		return err
	}
	c.mu.Lock()
	c.written.Write(data)
	c.writes++
	c.mu.Unlock()
	c.t.mu.Lock()
	hook := c.t.OnWrite
	c.t.mu.Unlock()
	if hook != nil {
		data = append([]byte(nil), data...)
		go hook(c, data)
	}
	return nil
}

func (c *Conn) Close() error {
	if err := takeErr(&c.t.mu, &c.t.failClose); err != nil {
		return err
	}
	c.mu.Lock()
	c.closeCalls++
	c.mu.Unlock()
	c.t.mu.Lock()
	hook := c.t.OnClose
	c.t.mu.Unlock()
	if hook != nil {
		go hook(c)
	}
	return nil
}

// Fire delivers evt to connection handler and returns handler result.
// Handler error is remembered, real transport would close connection.
func (c *Conn) Fire(evt cellconn.Event) error {
	c.evmu.Lock()
	defer c.evmu.Unlock()
	err := c.handler(c, evt)
	if err != nil {
		c.mu.Lock()
		c.handlerErr = err
		c.mu.Unlock()
	}
	return err
}

// Written returns copy of all bytes handed to Write
func (c *Conn) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.written.Bytes())
}

func (c *Conn) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

func (c *Conn) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}

// HandlerErr returns last error returned by handler
func (c *Conn) HandlerErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handlerErr
}
