// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellcore

import "fmt"

// State is changed by API calls only to request a transition (Connecting,
// Disconnecting). Transport events confirm it (Connected, Disconnected).
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type ConnStatus int

const (
	ConnStatusAccepted  ConnStatus = 0x00
	ConnStatusTCPFailed ConnStatus = 0x100
)

func (s ConnStatus) String() string {
	switch s {
	case ConnStatusAccepted:
		return "accepted"
	case ConnStatusTCPFailed:
		return "tcp_failed"
	default:
		return fmt.Sprintf("status(%#x)", int(s))
	}
}

type EventType int

const (
	EventConnect      EventType = iota // Status
	EventSendComplete                  // Len bytes confirmed by transport, Err
	EventRecv                          // Data, valid only during the call
	EventReadComplete                  // Request finished, Err is ErrTimeout if it timed out
	EventDisconnect                    // Accepted is true if close was requested by this side
	EventKeepAlive                     // on every transport poll while connected
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventSendComplete:
		return "send_complete"
	case EventRecv:
		return "recv"
	case EventReadComplete:
		return "read_complete"
	case EventDisconnect:
		return "disconnect"
	case EventKeepAlive:
		return "keep_alive"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is an application notification. Pointer is valid only during the call.
type Event struct {
	Type     EventType
	Status   ConnStatus
	Accepted bool
	Arg      any // request argument for request events, Options.Arg otherwise
	Err      error
	Len      int
	Data     []byte
	Request  int // request slot, -1 if event is not about a request
}

type EventFunc func(c *Client, evt *Event)
