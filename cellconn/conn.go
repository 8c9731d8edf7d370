// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellconn

import "fmt"

type Type int

const (
	TypeTCP Type = iota
	TypeSSL
	TypeHTTP
	TypeHTTPS
)

func (t Type) String() string {
	switch t {
	case TypeTCP:
		return "tcp"
	case TypeSSL:
		return "ssl"
	case TypeHTTP:
		return "http"
	case TypeHTTPS:
		return "https"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

func (t Type) Secure() bool { return t == TypeSSL || t == TypeHTTPS }

func (t Type) Valid() bool { return t >= TypeTCP && t <= TypeHTTPS }

// Conn is a connection handle owned by transport. All methods are non-blocking,
// outcome of Write and Close is reported later as events.
type Conn interface {
	// Write hands data to the transport, EventSent follows.
	// Transport takes ownership of data until EventSent is delivered.
	Write(data []byte) error
	// Close starts closing, EventClosed follows.
	Close() error
	// user context slot, set by Start before any event fires
	Arg() any
	SetArg(arg any)
	// Num is a small connection number, stable for connection lifetime
	Num() int
}

// Handler is called by transport for every connection event, from transport goroutine.
// If handler returns error, transport closes connection, expect EventClosed soon.
type Handler func(conn Conn, evt Event) error

type Transport interface {
	// Start begins connecting and returns immediately. Outcome is reported
	// as EventActive or EventConnError, possibly before Start returns.
	Start(typ Type, host string, port uint16, arg any, handler Handler) (Conn, error)
}
