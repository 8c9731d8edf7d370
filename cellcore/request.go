// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellcore

import (
	"fmt"
	"time"

	"github.com/hrissan/cellhttp/cellerrors"
	"github.com/hrissan/cellhttp/safecast"
)

type Method uint8

const (
	MethodGet Method = iota
	MethodPost
	MethodHead
)

func (m Method) String() string {
	switch m {
	case MethodGet:
		return "GET"
	case MethodPost:
		return "POST"
	case MethodHead:
		return "HEAD"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

type RequestStatus uint8

const (
	RequestIdle RequestStatus = iota
	RequestActive
	RequestDone
	RequestTimedOut
)

func (s RequestStatus) String() string {
	switch s {
	case RequestIdle:
		return "idle"
	case RequestActive:
		return "active"
	case RequestDone:
		return "done"
	case RequestTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("request_status(%d)", int(s))
	}
}

// Request lives from BeginRequest to EndRequest in a fixed slot of the client
type Request struct {
	Method  Method
	Status  RequestStatus
	Arg     any
	SentLen uint32 // saturating
	RecvLen uint32 // saturating
	// reset by every byte of traffic, so timeout is for inactivity
	TimeoutStart time.Time
}

// BeginRequest occupies a free descriptor, returns its slot
func (c *Client) BeginRequest(method Method, arg any) (int, error) {
	c.smu.Lock()
	defer c.smu.Unlock()
	for i := range c.requests {
		r := &c.requests[i]
		if r.Status != RequestIdle {
			continue
		}
		*r = Request{
			Method:       method,
			Status:       RequestActive,
			Arg:          arg,
			TimeoutStart: time.Now(),
		}
		c.requestOrder = append(c.requestOrder, i)
		return i, nil
	}
	return -1, cellerrors.ErrNoFreeRequest
}

// EndRequest frees descriptor in any non-idle status
func (c *Client) EndRequest(slot int) error {
	c.smu.Lock()
	defer c.smu.Unlock()
	if slot < 0 || slot >= len(c.requests) || c.requests[slot].Status == RequestIdle {
		return cellerrors.ErrUnknownRequest
	}
	c.requests[slot] = Request{}
	for i, s := range c.requestOrder {
		if s == slot {
			c.requestOrder = append(c.requestOrder[:i], c.requestOrder[i+1:]...)
			break
		}
	}
	return nil
}

// Request returns a copy of descriptor
func (c *Client) Request(slot int) (Request, bool) {
	c.smu.Lock()
	defer c.smu.Unlock()
	if slot < 0 || slot >= len(c.requests) || c.requests[slot].Status == RequestIdle {
		return Request{}, false
	}
	return c.requests[slot], true
}

// oldest active request gets traffic, responses arrive in request order
func (c *Client) activeRequestLocked() (int, *Request) {
	for _, slot := range c.requestOrder {
		if r := &c.requests[slot]; r.Status == RequestActive {
			return slot, r
		}
	}
	return -1, nil
}

func (c *Client) accountSentLocked(n int) {
	if _, r := c.activeRequestLocked(); r != nil {
		r.SentLen = safecast.SaturatingAdd32(r.SentLen, n)
		r.TimeoutStart = time.Now()
	}
}

func (c *Client) accountRecvLocked(n int) {
	if _, r := c.activeRequestLocked(); r != nil {
		r.RecvLen = safecast.SaturatingAdd32(r.RecvLen, n)
		r.TimeoutStart = time.Now()
	}
}

func (c *Client) pollRequestsLocked(now time.Time) {
	timeout := c.opts.RequestTimeout
	if timeout == 0 {
		return
	}
	for _, slot := range c.requestOrder {
		r := &c.requests[slot]
		if r.Status != RequestActive || now.Sub(r.TimeoutStart) < timeout {
			continue
		}
		r.Status = RequestTimedOut
		c.opts.Stats.RequestTimedOut(c.id, slot)
		c.notifyLocked(&Event{Type: EventReadComplete, Request: slot, Arg: r.Arg, Err: cellerrors.ErrTimeout})
	}
}

// on close every active request is complete, body of HTTP/1.0 response ends with connection
func (c *Client) finishRequestsLocked() {
	for _, slot := range c.requestOrder {
		r := &c.requests[slot]
		if r.Status != RequestActive {
			continue
		}
		r.Status = RequestDone
		c.notifyLocked(&Event{Type: EventReadComplete, Request: slot, Arg: r.Arg, Len: int(r.RecvLen)})
	}
}
