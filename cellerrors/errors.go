// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellerrors

import (
	"errors"
	"fmt"
)

// we do not allocate on error returning path,
// so all errors are completely static, context is added by wrapping

type Error struct {
	fatal bool
	code  int
	text  string
}

func (e *Error) Error() string {
	if e.fatal {
		return fmt.Sprintf("cellhttp (fatal): %d %s", e.code, e.text)
	}
	return fmt.Sprintf("cellhttp: %d %s", e.code, e.text)
}

func (e *Error) Code() int   { return e.code }
func (e *Error) Fatal() bool { return e.fatal }

func NewFatal(code int, text string) error {
	return &Error{
		fatal: true,
		code:  code,
		text:  text,
	}
}

func NewError(code int, text string) error {
	return &Error{
		code: code,
		text: text,
	}
}

// IsFatal reports if err (or anything it wraps) is a fatal Error
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.fatal
}

// checked synchronously, transport is never touched
var ErrInvalidArgument = NewError(-100, "invalid argument")
var ErrConnectionInProgress = NewError(-101, "connection is not in disconnected state")
var ErrNotConnected = NewError(-102, "connection is not established")
var ErrNoFreeRequest = NewError(-104, "all request descriptors are in use")
var ErrUnknownRequest = NewError(-105, "request descriptor is not active")

// non-blocking transport call itself failed
var ErrTransportRejected = NewError(-200, "transport rejected request")

// reported later by transport events
var ErrConnectFailed = NewError(-300, "connection failed")
var ErrClosed = NewError(-301, "connection closed")
var ErrTimeout = NewError(-302, "timeout")
var ErrNoClient = NewError(-303, "event for connection without client")

var ErrAllocationFailed = NewError(-400, "allocation failed")

// receive queue overflow means byte accounting of the stream is already broken
var ErrReceiveQueueFull = NewFatal(-500, "receive queue full, stream accounting desynchronized")
