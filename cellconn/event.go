// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellconn

// Event is a closed set of transport events, handlers switch on concrete type.
type Event interface {
	Kind() string
	event()
}

// EventConnError - connection could not be established
type EventConnError struct {
	Err error
}

// EventActive - connection established
type EventActive struct{}

// EventRecv - data received. Data points into transport buffer and is valid only during handler call.
type EventRecv struct {
	Data []byte
}

// EventSent - data from the last Write left the transport (Sent bytes) or failed (Err)
type EventSent struct {
	Sent int
	Err  error
}

// EventPoll - periodic tick while connection is active
type EventPoll struct{}

// EventClosed - connection closed, Forced is true if closed by Conn.Close
type EventClosed struct {
	Forced bool
	Err    error
}

func (EventConnError) Kind() string { return "conn_error" }
func (EventActive) Kind() string    { return "active" }
func (EventRecv) Kind() string      { return "recv" }
func (EventSent) Kind() string      { return "sent" }
func (EventPoll) Kind() string      { return "poll" }
func (EventClosed) Kind() string    { return "closed" }

func (EventConnError) event() {}
func (EventActive) event()    {}
func (EventRecv) event()      {}
func (EventSent) event()      {}
func (EventPoll) event()      {}
func (EventClosed) event()    {}
