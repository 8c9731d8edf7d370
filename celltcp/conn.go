// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package celltcp

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hrissan/cellhttp/cellconn"
)

type Conn struct {
	t       *Transport
	num     int
	typ     cellconn.Type
	handler cellconn.Handler
	log     *zap.Logger

	pollTimer Timer

	argMu sync.Mutex
	arg   any

	evmu sync.Mutex // handler is never called concurrently for one connection

	mu      sync.Mutex
	nc      net.Conn // nil until dialed
	cancel  context.CancelFunc
	closing bool
	forced  bool // closing was requested by Close
	writing [][]byte
	cond    chan struct{} // 1-slot, writer wakeup
}

var _ cellconn.Conn = &Conn{}

func newConn(t *Transport, num int, typ cellconn.Type, handler cellconn.Handler, arg any) *Conn {
	c := &Conn{
		t:       t,
		num:     num,
		typ:     typ,
		handler: handler,
		log:     t.log.With(zap.Int("conn", num)),
		arg:     arg,
		cond:    make(chan struct{}, 1),
	}
	c.pollTimer.fireFunc = c.onPoll
	return c
}

func signalCond(cond chan struct{}) {
	select {
	case cond <- struct{}{}:
	default:
	}
}

func (c *Conn) Num() int { return c.num }

func (c *Conn) Arg() any {
	c.argMu.Lock()
	defer c.argMu.Unlock()
	return c.arg
}

func (c *Conn) SetArg(arg any) {
	c.argMu.Lock()
	defer c.argMu.Unlock()
	c.arg = arg
}

// Write copies data into connection write queue
func (c *Conn) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing || c.nc == nil {
		return net.ErrClosed
	}
	c.writing = append(c.writing, append([]byte(nil), data...))
	signalCond(c.cond)
	return nil
}

func (c *Conn) Close() error {
	c.closeWith(true)
	return nil
}

func (c *Conn) closeWith(forced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return
	}
	c.closing = true
	c.forced = forced
	if c.cancel != nil {
		c.cancel() // aborts dial in progress
	}
	if c.nc != nil {
		_ = c.nc.Close() // reader gets error and finishes connection
	}
	signalCond(c.cond)
}

func (c *Conn) fire(evt cellconn.Event) {
	c.evmu.Lock()
	defer c.evmu.Unlock()
	c.fireLocked(evt)
}

func (c *Conn) fireLocked(evt cellconn.Event) {
	if err := c.handler(c, evt); err != nil {
		c.t.opts.Stats.TransportError("handler", err)
		c.log.Debug("handler rejected event, closing", zap.String("event", evt.Kind()), zap.Error(err))
		c.closeWith(false)
	}
}

func (c *Conn) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// closing is checked under evmu, goRun stops timer and fires EventClosed under it too
func (c *Conn) onPoll(*Timer) {
	c.evmu.Lock()
	defer c.evmu.Unlock()
	if c.isClosing() {
		return
	}
	c.fireLocked(cellconn.EventPoll{})
	if !c.isClosing() {
		c.t.clock.SetTimer(&c.pollTimer, time.Now().Add(c.t.opts.PollInterval))
	}
}

func (c *Conn) dial(host string, port uint16) (net.Conn, error) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if c.t.opts.DialTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.t.opts.DialTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil, net.ErrClosed
	}
	c.cancel = cancel
	c.mu.Unlock()

	var dialer net.Dialer
	nc, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return nil, err
	}
	if !c.typ.Secure() {
		return nc, nil
	}
	config := &tls.Config{}
	if c.t.opts.TLSConfig != nil {
		config = c.t.opts.TLSConfig.Clone()
	}
	if config.ServerName == "" {
		config.ServerName = host
	}
	tc := tls.Client(nc, config)
	if err := tc.HandshakeContext(ctx); err != nil {
		_ = nc.Close()
		return nil, err
	}
	return tc, nil
}

// blocks until connection is closed, delivers every event of connection lifetime
func (c *Conn) goRun(host string, port uint16) {
	defer c.t.release(c)
	nc, err := c.dial(host, port)
	c.mu.Lock()
	c.cancel = nil
	closing, forced := c.closing, c.forced
	if err == nil && !closing {
		c.nc = nc
	}
	c.mu.Unlock()
	if err != nil || closing {
		if nc != nil {
			_ = nc.Close()
		}
		if closing { // close was requested while dialing
			c.fire(cellconn.EventClosed{Forced: forced})
			return
		}
		c.t.opts.Stats.TransportError("start", err)
		c.log.Debug("connect failed", zap.String("host", host), zap.Uint16("port", port), zap.Error(err))
		c.fire(cellconn.EventConnError{Err: err})
		return
	}
	c.log.Debug("connected", zap.String("host", host), zap.Uint16("port", port))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.goRunWriter(nc)
	}()
	c.fire(cellconn.EventActive{})
	c.t.clock.SetTimer(&c.pollTimer, time.Now().Add(c.t.opts.PollInterval))

	readErr := c.runReader(nc)

	c.closeWith(false) // no-op if already closing
	<-writerDone
	c.mu.Lock()
	forced = c.forced
	c.mu.Unlock()
	if forced || errors.Is(readErr, io.EOF) || errors.Is(readErr, net.ErrClosed) {
		readErr = nil
	} else {
		c.t.opts.Stats.TransportError("read", readErr)
	}
	c.log.Debug("closed", zap.Bool("forced", forced), zap.Error(readErr))
	c.evmu.Lock()
	defer c.evmu.Unlock()
	c.t.clock.StopTimer(&c.pollTimer)
	c.fireLocked(cellconn.EventClosed{Forced: forced, Err: readErr})
}

func (c *Conn) runReader(nc net.Conn) error {
	buf := make([]byte, c.t.opts.ReadBufferSize)
	for {
		n, err := nc.Read(buf)
		if n != 0 { // do not check for an error here
			c.fire(cellconn.EventRecv{Data: buf[:n]})
		}
		if err != nil {
			return err
		}
	}
}

func (c *Conn) goRunWriter(nc net.Conn) {
	for {
		c.mu.Lock()
		writing := c.writing
		c.writing = nil
		closing := c.closing
		c.mu.Unlock()
		for i, data := range writing {
			n, err := nc.Write(data)
			c.fire(cellconn.EventSent{Sent: n, Err: err})
			if err != nil {
				c.t.opts.Stats.TransportError("write", err)
				for range writing[i+1:] {
					c.fire(cellconn.EventSent{Err: err})
				}
				c.closeWith(false)
				return
			}
		}
		if closing && len(writing) == 0 {
			return
		}
		if len(writing) == 0 {
			<-c.cond
		}
	}
}
