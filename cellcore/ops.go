// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hrissan/cellhttp/cellerrors"
	"github.com/hrissan/cellhttp/cellmem"
	"github.com/hrissan/cellhttp/rxqueue"
	"github.com/hrissan/cellhttp/syncbridge"
)

const (
	// Receive timeouts, other non-negative values are waited for
	WaitForever       = rxqueue.WaitForever
	UseDefaultTimeout = time.Duration(-2)
)

type WriteFlags uint16

const FlagFlush WriteFlags = 0x0001

func wrapErr(base error, err error) error {
	if err == nil {
		return base
	}
	return fmt.Errorf("%w: %w", base, err)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// abortLocked closes connection after a blocking call was abandoned by its caller,
// outcome of the abandoned operation is unknown, so connection cannot be reused.
// Must be called with bridge mutex held.
func (c *Client) abortLocked(reason error) {
	c.smu.Lock()
	conn := c.conn
	if conn == nil || c.state == StateDisconnected || c.state == StateDisconnecting {
		c.smu.Unlock()
		return
	}
	c.setStateLocked(StateDisconnecting)
	c.closeRequested = true
	c.smu.Unlock()
	c.log.Debug("aborting connection", zap.Error(reason))
	if err := conn.Close(); err != nil {
		c.opts.Stats.TransportError("close", err)
	}
}

// Connect starts connection and blocks until transport reports outcome or ctx is done.
// Accepted only in disconnected state, otherwise rejected without touching transport.
// If ctx is done first, connection attempt is aborted.
func (c *Client) Connect(ctx context.Context, host string, port uint16) (ConnStatus, error) {
	if host == "" || port == 0 {
		return ConnStatusTCPFailed, cellerrors.ErrInvalidArgument
	}
	c.bridge.Lock()
	defer c.bridge.Unlock()

	c.smu.Lock()
	if c.state != StateDisconnected {
		c.smu.Unlock()
		return ConnStatusTCPFailed, cellerrors.ErrConnectionInProgress
	}
	c.setStateLocked(StateConnecting)
	c.closeRequested = false
	c.connNum = -1
	c.smu.Unlock()

	// leftovers of previous connection, including its close marker
	c.tx.Clear()
	c.rmu.Lock()
	c.queue.Drain()
	c.rx.Clear()
	c.rmu.Unlock()

	r := c.bridge.CallLocked(ctx, syncbridge.OpConnect, func() error {
		// no lock here, transport may deliver events before Start returns
		conn, err := c.opts.Transport.Start(c.typ, host, port, c, HandleEvent)
		c.smu.Lock()
		defer c.smu.Unlock()
		if err != nil {
			if c.state == StateConnecting {
				c.setStateLocked(StateDisconnected)
			}
			c.opts.Stats.TransportError("start", err)
			return wrapErr(cellerrors.ErrTransportRejected, err)
		}
		if c.state == StateConnecting || c.state == StateConnected {
			c.conn = conn
			c.connNum = conn.Num()
		}
		return nil
	})
	if r.Err != nil {
		if isContextErr(r.Err) {
			c.abortLocked(r.Err)
		}
		c.log.Debug("connect failed", zap.String("host", host), zap.Uint16("port", port), zap.Error(r.Err))
		return ConnStatusTCPFailed, r.Err
	}
	c.log.Debug("connected", zap.String("host", host), zap.Uint16("port", port))
	return ConnStatusAccepted, nil
}

// Close requests connection close and blocks until transport reports it closed
func (c *Client) Close(ctx context.Context) error {
	r := c.bridge.Call(ctx, syncbridge.OpClose, func() error {
		c.smu.Lock()
		if c.state == StateDisconnected || c.state == StateDisconnecting {
			c.smu.Unlock()
			return cellerrors.ErrNotConnected
		}
		prev := c.state
		conn := c.conn
		c.setStateLocked(StateDisconnecting)
		c.closeRequested = true
		c.smu.Unlock()
		if conn == nil {
			return cellerrors.ErrNotConnected // cannot happen, connect stores conn before returning
		}
		if err := conn.Close(); err != nil {
			c.smu.Lock()
			if c.state == StateDisconnecting {
				c.setStateLocked(prev)
				c.closeRequested = false
			}
			c.smu.Unlock()
			c.opts.Stats.TransportError("close", err)
			return wrapErr(cellerrors.ErrTransportRejected, err)
		}
		return nil
	})
	return r.Err
}

// Write is WriteEx with FlagFlush
func (c *Client) Write(ctx context.Context, data []byte) error {
	return c.WriteEx(ctx, data, FlagFlush)
}

// WriteEx appends data to transmit buffer. Buffer is handed to transport when it
// becomes full, and at the end if FlagFlush is set. Blocks until transport
// confirms every handed byte.
func (c *Client) WriteEx(ctx context.Context, data []byte, flags WriteFlags) error {
	c.bridge.Lock()
	defer c.bridge.Unlock()
	if !c.IsConnected() {
		return cellerrors.ErrNotConnected
	}
	for len(data) != 0 {
		n := c.tx.Write(data)
		data = data[n:]
		if len(data) == 0 {
			break
		}
		if err := c.flushLocked(ctx); err != nil {
			return err
		}
	}
	if flags&FlagFlush != 0 {
		return c.flushLocked(ctx)
	}
	return nil
}

// Flush hands buffered data to transport and waits for confirmation
func (c *Client) Flush(ctx context.Context) error {
	c.bridge.Lock()
	defer c.bridge.Unlock()
	if c.tx.Len() == 0 {
		return nil
	}
	if !c.IsConnected() {
		return cellerrors.ErrNotConnected
	}
	return c.flushLocked(ctx)
}

// Buffered returns number of bytes waiting in transmit buffer
func (c *Client) Buffered() int {
	c.bridge.Lock()
	defer c.bridge.Unlock()
	return c.tx.Len()
}

func (c *Client) flushLocked(ctx context.Context) error {
	for c.tx.Len() != 0 {
		chunk, _ := c.tx.Slices()
		r := c.bridge.CallLocked(ctx, syncbridge.OpWrite, func() error {
			c.smu.Lock()
			conn, state := c.conn, c.state
			c.smu.Unlock()
			if state != StateConnected || conn == nil {
				return cellerrors.ErrNotConnected
			}
			if err := conn.Write(chunk); err != nil {
				c.opts.Stats.TransportError("write", err)
				return wrapErr(cellerrors.ErrTransportRejected, err)
			}
			return nil
		})
		if r.Err != nil {
			if isContextErr(r.Err) {
				c.abortLocked(r.Err) // transport may still own chunk
			}
			return r.Err
		}
		if r.N <= 0 || r.N > len(chunk) {
			return fmt.Errorf("%w: transport confirmed %d of %d bytes", cellerrors.ErrTransportRejected, r.N, len(chunk))
		}
		c.tx.Discard(r.N)
	}
	return nil
}

func (c *Client) resolveTimeout(timeout time.Duration) time.Duration {
	if timeout != UseDefaultTimeout {
		return timeout
	}
	if t := c.ReceiveTimeout(); t != 0 {
		return t
	}
	return WaitForever
}

// stagedLocked returns bytes left by partial Read as a fresh buffer, or nil
func (c *Client) stagedLocked() (*cellmem.Pbuf, error) {
	if c.rx.Len() == 0 {
		return nil, nil
	}
	s1, s2 := c.rx.Slices()
	p, err := cellmem.NewPbuf(c.alloc, s1, s2)
	if err != nil {
		return nil, err
	}
	c.rx.Clear()
	return p, nil
}

// Receive returns next received buffer, which caller must Free.
// Zero timeout never blocks, WaitForever waits until data or close,
// UseDefaultTimeout uses SetReceiveTimeout value.
// Returns ErrTimeout if nothing arrived, ErrClosed once connection is closed.
func (c *Client) Receive(timeout time.Duration) (*cellmem.Pbuf, error) {
	timeout = c.resolveTimeout(timeout)
	c.rmu.Lock()
	defer c.rmu.Unlock()
	if p, err := c.stagedLocked(); p != nil || err != nil {
		return p, err
	}
	return c.queue.Pop(timeout)
}

// ReceiveContext is Receive waiting until ctx is done
func (c *Client) ReceiveContext(ctx context.Context) (*cellmem.Pbuf, error) {
	c.rmu.Lock()
	defer c.rmu.Unlock()
	if p, err := c.stagedLocked(); p != nil || err != nil {
		return p, err
	}
	return c.queue.PopContext(ctx)
}

// Read copies received bytes into b, for stream consumers.
// Returns ErrClosed after all data of a closed connection was read.
func (c *Client) Read(ctx context.Context, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	c.rmu.Lock()
	defer c.rmu.Unlock()
	if c.rx.Len() == 0 {
		p, err := c.queue.PopContext(ctx)
		if err != nil {
			return 0, err
		}
		n := copy(b, p.Bytes())
		c.rx.Write(p.Bytes()[n:]) // adapter never queues more than rx capacity
		p.Free()
		return n, nil
	}
	s1, s2 := c.rx.Slices()
	n := copy(b, s1)
	n += copy(b[n:], s2)
	c.rx.Discard(n)
	return n, nil
}
