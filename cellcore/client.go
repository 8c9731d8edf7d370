// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellcore

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/hrissan/cellhttp/cellconn"
	"github.com/hrissan/cellhttp/cellerrors"
	"github.com/hrissan/cellhttp/cellmem"
	"github.com/hrissan/cellhttp/circular"
	"github.com/hrissan/cellhttp/rxqueue"
	"github.com/hrissan/cellhttp/syncbridge"
)

// Client turns asynchronous transport events into blocking calls.
//
// Public blocking calls (Connect, Close, Write, Flush) are serialized by the bridge
// mutex, so there is at most one outstanding transport operation. State is protected
// by a separate lock, which the event adapter takes without ever waiting
// for the bridge mutex. Received data goes through the queue, which has its own lock.
type Client struct {
	typ   cellconn.Type
	opts  Options
	alloc cellmem.Allocator
	log   *zap.Logger
	id    string

	// accounted memory of construction steps, released by Delete in reverse order
	record    []byte
	txStorage []byte
	rxStorage []byte
	signalMem []byte
	mutexMem  []byte

	bridge *syncbridge.Bridge
	tx     circular.Ring[byte] // protected by bridge mutex

	rmu        sync.Mutex          // serializes readers
	rx         circular.Ring[byte] // leftovers of partially read buffers
	rxCapacity int                 // largest queued buffer
	queue      *rxqueue.Queue

	smu            sync.Mutex
	state          State
	conn           cellconn.Conn
	connNum        int
	closeRequested bool
	receiveTimeout time.Duration
	requests       []Request
	requestOrder   []int

	deleted atomic.Bool
}

// New creates a client with transmit buffer of txCapacity and
// receive buffers of at most rxCapacity bytes each.
// Resources are acquired in order record, tx buffer, rx buffer, queue, signal, mutex.
// If any step fails, everything acquired is released in reverse order.
func New(typ cellconn.Type, txCapacity int, rxCapacity int, opts *Options) (*Client, error) {
	if opts == nil || !typ.Valid() || txCapacity <= 0 || rxCapacity <= 0 {
		return nil, cellerrors.ErrInvalidArgument
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", cellerrors.ErrInvalidArgument, err)
	}
	alloc := opts.Allocator
	var rb cellmem.Rollback
	defer rb.Run()

	fail := func(tag cellmem.Tag, err error) (*Client, error) {
		opts.Stats.ClientCreateFailed(tag.String(), err)
		opts.Logger.Warn("client allocation failed", zap.Stringer("step", tag), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", cellerrors.ErrAllocationFailed, tag, err)
	}
	step := func(tag cellmem.Tag, size int) ([]byte, error) {
		b, err := alloc.Malloc(tag, size)
		if err != nil {
			return nil, err
		}
		rb.Add(func() { alloc.Free(tag, b) })
		return b, nil
	}

	record, err := step(cellmem.TagClient, int(unsafe.Sizeof(Client{})))
	if err != nil {
		return fail(cellmem.TagClient, err)
	}
	txStorage, err := step(cellmem.TagTxBuffer, circular.RoundUp(txCapacity))
	if err != nil {
		return fail(cellmem.TagTxBuffer, err)
	}
	rxStorage, err := step(cellmem.TagRxBuffer, circular.RoundUp(rxCapacity))
	if err != nil {
		return fail(cellmem.TagRxBuffer, err)
	}
	queue, err := rxqueue.New(alloc, opts.ReceiveQueueLen)
	if err != nil {
		return fail(cellmem.TagQueue, err)
	}
	rb.Add(queue.Delete)
	// accounted only, bridge and mutex live inside Client
	signalMem, err := step(cellmem.TagSignal, int(unsafe.Sizeof(syncbridge.Bridge{})))
	if err != nil {
		return fail(cellmem.TagSignal, err)
	}
	mutexMem, err := step(cellmem.TagMutex, int(unsafe.Sizeof(sync.Mutex{})))
	if err != nil {
		return fail(cellmem.TagMutex, err)
	}
	rb.Commit()

	c := &Client{
		typ:            typ,
		opts:           *opts,
		alloc:          alloc,
		id:             xid.New().String(),
		record:         record,
		txStorage:      txStorage,
		rxStorage:      rxStorage,
		signalMem:      signalMem,
		mutexMem:       mutexMem,
		bridge:         syncbridge.New(),
		queue:          queue,
		rxCapacity:     rxCapacity,
		connNum:        -1,
		receiveTimeout: opts.ReceiveTimeout,
		requests:       make([]Request, opts.MaxRequests),
		requestOrder:   make([]int, 0, opts.MaxRequests),
	}
	c.log = opts.Logger.With(zap.String("client", c.id))
	c.tx.Init(txStorage, txCapacity)
	c.rx.Init(rxStorage, rxCapacity)
	c.opts.Stats.ClientCreated(c.id)
	c.log.Debug("client created", zap.Stringer("type", typ),
		zap.Int("tx_capacity", txCapacity), zap.Int("rx_capacity", rxCapacity))
	return c, nil
}

// Delete releases all resources of the client exactly once. Nil client is ignored.
// If connection is still alive, client is dissociated from it and close is
// requested without waiting, later events of that connection are rejected by adapter.
// Must not be called concurrently with other methods of the same client.
func (c *Client) Delete() error {
	if c == nil || c.deleted.Swap(true) {
		return nil
	}
	c.smu.Lock()
	conn := c.conn
	if conn != nil {
		conn.SetArg(nil)
		c.conn = nil
	}
	if c.state != StateDisconnected {
		c.setStateLocked(StateDisconnected)
	}
	c.smu.Unlock()
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.opts.Stats.TransportError("close", err)
			c.log.Debug("close on delete failed", zap.Error(err))
		}
	}
	c.bridge.Complete(syncbridge.OpAny, syncbridge.Result{Err: cellerrors.ErrClosed})

	c.alloc.Free(cellmem.TagSignal, c.signalMem)
	c.alloc.Free(cellmem.TagMutex, c.mutexMem)
	c.queue.PushClosed() // blocked reader returns ErrClosed and releases rmu
	c.rmu.Lock()
	c.queue.Delete()
	c.alloc.Free(cellmem.TagRxBuffer, c.rx.Release())
	c.rmu.Unlock()
	c.alloc.Free(cellmem.TagTxBuffer, c.tx.Release())
	c.alloc.Free(cellmem.TagClient, c.record)
	c.mutexMem, c.signalMem, c.rxStorage, c.txStorage, c.record = nil, nil, nil, nil, nil

	c.opts.Stats.ClientDeleted(c.id)
	c.log.Debug("client deleted")
	return nil
}

func (c *Client) ID() string          { return c.id }
func (c *Client) Type() cellconn.Type { return c.typ }
func (c *Client) Arg() any            { return c.opts.Arg }

func (c *Client) State() State {
	c.smu.Lock()
	defer c.smu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool { return c.State() == StateConnected }

// ConnNum returns transport connection number, or -1 if there is no connection
func (c *Client) ConnNum() int {
	c.smu.Lock()
	defer c.smu.Unlock()
	return c.connNum
}

// SetReceiveTimeout sets timeout used by Receive(UseDefaultTimeout), 0 waits forever
func (c *Client) SetReceiveTimeout(timeout time.Duration) {
	c.smu.Lock()
	defer c.smu.Unlock()
	c.receiveTimeout = max(timeout, 0)
}

func (c *Client) ReceiveTimeout() time.Duration {
	c.smu.Lock()
	defer c.smu.Unlock()
	return c.receiveTimeout
}

func (c *Client) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.opts.Stats.StateChanged(c.id, c.state.String(), state.String())
	c.log.Debug("state changed", zap.Stringer("from", c.state), zap.Stringer("to", state))
	c.state = state
}

func (c *Client) notifyLocked(evt *Event) {
	if c.opts.OnEvent == nil {
		return
	}
	if evt.Arg == nil && evt.Request < 0 {
		evt.Arg = c.opts.Arg
	}
	c.opts.OnEvent(c, evt)
}
