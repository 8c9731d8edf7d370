// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellhttp

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/hrissan/cellhttp/cellcore"
	"github.com/hrissan/cellhttp/cellerrors"
)

// Conn is net.Conn over a client. Close closes connection and deletes client.
type Conn struct {
	client     *cellcore.Client
	remoteAddr net.Addr

	mu            sync.Mutex
	readDeadline  time.Time
	writeDeadline time.Time
	closed        bool
}

var _ net.Conn = &Conn{}
var _ io.ReadWriteCloser = &Conn{}

type addr struct {
	network string
	address string
}

func (a addr) Network() string { return a.network }
func (a addr) String() string  { return a.address }

func newConn(client *cellcore.Client, host string, port uint16) *Conn {
	return &Conn{
		client:     client,
		remoteAddr: addr{network: client.Type().String(), address: net.JoinHostPort(host, strconv.Itoa(int(port)))},
	}
}

// Client gives access to request descriptors and receive buffers
func (c *Conn) Client() *cellcore.Client { return c.client }

func (c *Conn) LocalAddr() net.Addr  { return addr{network: c.remoteAddr.Network(), address: "local"} }
func (c *Conn) RemoteAddr() net.Addr { return c.remoteAddr }

func (c *Conn) SetDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	c.writeDeadline = t
	return nil
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readDeadline = t
	return nil
}

func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeDeadline = t
	return nil
}

func (c *Conn) context(write bool) (context.Context, context.CancelFunc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, net.ErrClosed
	}
	deadline := c.readDeadline
	if write {
		deadline = c.writeDeadline
	}
	if deadline.IsZero() {
		ctx, cancel := context.WithCancel(context.Background())
		return ctx, cancel, nil
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	return ctx, cancel, nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return os.ErrDeadlineExceeded
	case errors.Is(err, cellerrors.ErrNotConnected):
		return net.ErrClosed
	}
	return err
}

func (c *Conn) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	ctx, cancel, err := c.context(false)
	if err != nil {
		return 0, err
	}
	defer cancel()
	n, err := c.client.Read(ctx, b)
	if errors.Is(err, cellerrors.ErrClosed) {
		return n, io.EOF
	}
	return n, mapErr(err)
}

func (c *Conn) Write(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	ctx, cancel, err := c.context(true)
	if err != nil {
		return 0, err
	}
	defer cancel()
	if err := c.client.Write(ctx, b); err != nil {
		return 0, mapErr(err)
	}
	return len(b), nil
}

// Close is idempotent, connection closed by peer is not an error
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	err := c.client.Close(context.Background())
	if errors.Is(err, cellerrors.ErrNotConnected) {
		err = nil
	}
	_ = c.client.Delete()
	return err
}
