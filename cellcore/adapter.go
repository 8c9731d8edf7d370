// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellcore

import (
	"time"

	"go.uber.org/zap"

	"github.com/hrissan/cellhttp/cellconn"
	"github.com/hrissan/cellhttp/cellerrors"
	"github.com/hrissan/cellhttp/cellmem"
	"github.com/hrissan/cellhttp/syncbridge"
)

// HandleEvent is the cellconn.Handler of every client connection.
// Client is found in connection user argument. Events of connections without
// client are rejected with ErrNoClient, so transport closes them.
// Never blocks, never takes bridge mutex.
func HandleEvent(conn cellconn.Conn, evt cellconn.Event) error {
	c, _ := conn.Arg().(*Client)
	if c == nil {
		return orphanEvent(evt)
	}
	return c.handleEvent(conn, evt)
}

func orphanEvent(evt cellconn.Event) error {
	if _, ok := evt.(cellconn.EventConnError); ok {
		return nil // nothing to close
	}
	return cellerrors.ErrNoClient
}

func (c *Client) handleEvent(conn cellconn.Conn, evt cellconn.Event) error {
	c.smu.Lock()
	defer c.smu.Unlock()
	// Delete sets flag before taking smu, event that found client earlier stops here
	if c.deleted.Load() {
		return orphanEvent(evt)
	}
	switch evt := evt.(type) {
	case cellconn.EventConnError:
		c.conn = nil
		c.connNum = -1
		c.setStateLocked(StateDisconnected)
		c.log.Debug("connection error", zap.Error(evt.Err))
		c.notifyLocked(&Event{Type: EventConnect, Status: ConnStatusTCPFailed, Err: evt.Err, Request: -1})
		c.bridge.Complete(syncbridge.OpAny, syncbridge.Result{Err: wrapErr(cellerrors.ErrConnectFailed, evt.Err)})
	case cellconn.EventActive:
		if c.state != StateConnecting {
			// connect was abandoned and close is already requested
			c.opts.Stats.EventRejected(evt.Kind(), cellerrors.ErrNotConnected)
			return nil
		}
		if c.conn == nil {
			c.conn = conn
			c.connNum = conn.Num()
		}
		c.setStateLocked(StateConnected)
		c.notifyLocked(&Event{Type: EventConnect, Status: ConnStatusAccepted, Request: -1})
		c.bridge.Complete(syncbridge.OpConnect, syncbridge.Result{})
	case cellconn.EventRecv:
		return c.onRecvLocked(evt.Data)
	case cellconn.EventSent:
		if evt.Sent > 0 {
			c.accountSentLocked(evt.Sent)
			c.opts.Stats.BytesSent(c.id, evt.Sent)
		}
		c.notifyLocked(&Event{Type: EventSendComplete, Len: evt.Sent, Err: evt.Err, Request: -1})
		var err error
		if evt.Err != nil {
			err = wrapErr(cellerrors.ErrTransportRejected, evt.Err)
		}
		c.bridge.Complete(syncbridge.OpWrite, syncbridge.Result{N: evt.Sent, Err: err})
	case cellconn.EventPoll:
		if c.state == StateConnected {
			c.notifyLocked(&Event{Type: EventKeepAlive, Request: -1})
		}
		c.pollRequestsLocked(time.Now())
	case cellconn.EventClosed:
		accepted := c.closeRequested
		c.conn = nil
		c.connNum = -1
		c.closeRequested = false
		c.setStateLocked(StateDisconnected)
		c.queue.PushClosed()
		c.finishRequestsLocked()
		c.log.Debug("connection closed", zap.Bool("accepted", accepted), zap.Bool("forced", evt.Forced), zap.Error(evt.Err))
		c.notifyLocked(&Event{Type: EventDisconnect, Accepted: accepted, Err: evt.Err, Request: -1})
		if !c.bridge.Complete(syncbridge.OpClose, syncbridge.Result{}) {
			// connect or write in progress will never be confirmed now
			c.bridge.Complete(syncbridge.OpAny, syncbridge.Result{Err: wrapErr(cellerrors.ErrClosed, evt.Err)})
		}
	default:
		c.opts.Stats.EventRejected(evt.Kind(), cellerrors.ErrInvalidArgument)
	}
	return nil
}

// received bytes are split into buffers no larger than rx capacity, so a partial
// Read can always stage the rest. Full queue means stream accounting is already
// broken, connection must be closed.
func (c *Client) onRecvLocked(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	total := len(data)
	for len(data) != 0 {
		chunk := data[:min(len(data), c.rxCapacity)]
		data = data[len(chunk):]
		p, err := cellmem.NewPbuf(c.alloc, chunk)
		if err != nil {
			c.log.Error("receive buffer allocation failed", zap.Int("size", len(chunk)), zap.Error(err))
			return err
		}
		if err := c.queue.Push(p); err != nil {
			p.Free()
			queued := c.queue.Len()
			c.opts.Stats.ReceiveQueueOverflow(c.id, queued)
			c.log.Error("receive queue overflow", zap.Int("queued", queued), zap.Int("dropped", len(chunk)+len(data)), zap.Error(err))
			return err
		}
		c.notifyLocked(&Event{Type: EventRecv, Data: chunk, Len: len(chunk), Request: -1})
	}
	c.accountRecvLocked(total)
	c.opts.Stats.BytesReceived(c.id, total)
	return nil
}
