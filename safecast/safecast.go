// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package safecast

import (
	"errors"
)

// Based on https://github.com/fortio/safecast
// Used at API boundaries, where ints from config and byte counters
// are narrowed into port numbers and uint32 request accounting.

type Integer interface {
	~uintptr |
		~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

var ErrIntegerOverflowSign = errors.New("integer overflow - loss of sign")
var ErrIntegerOverflow = errors.New("integer overflow")

func TryCast[Result Integer, Arg Integer](arg Arg) (Result, error) {
	argPositive := arg > 0
	converted := Result(arg)
	if argPositive != (converted > 0) {
		return converted, ErrIntegerOverflowSign // return converted to examine
	}
	if Arg(converted) != arg {
		return converted, ErrIntegerOverflow // return converted to examine
	}
	return converted, nil
}

func Cast[Result Integer, Arg Integer](arg Arg) Result {
	converted, err := TryCast[Result](arg)
	if err != nil {
		panic(err.Error())
	}
	return converted
}

// SaturatingAdd32 adds n to counter, sticking at max uint32 instead of wrapping.
// Byte counters of long streams must not restart from 0.
func SaturatingAdd32[Arg Integer](counter uint32, n Arg) uint32 {
	if n <= 0 {
		return counter
	}
	delta, err := TryCast[uint32](n)
	if err != nil || counter+delta < counter {
		return ^uint32(0)
	}
	return counter + delta
}
