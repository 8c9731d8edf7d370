// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellmem

import "sync/atomic"

// Pbuf is an owned copy of received bytes. Whoever holds it must call Free exactly once.
type Pbuf struct {
	alloc Allocator
	data  []byte
	freed atomic.Bool
}

// NewPbuf copies parts into a single fresh buffer
func NewPbuf(alloc Allocator, parts ...[]byte) (*Pbuf, error) {
	size := 0
	for _, part := range parts {
		size += len(part)
	}
	data, err := alloc.Malloc(TagPbuf, size)
	if err != nil {
		return nil, err
	}
	offset := 0
	for _, part := range parts {
		offset += copy(data[offset:], part)
	}
	return &Pbuf{alloc: alloc, data: data}, nil
}

func (p *Pbuf) Bytes() []byte { return p.data }
func (p *Pbuf) Len() int      { return len(p.data) }

func (p *Pbuf) Free() {
	if p.freed.Swap(true) {
		panic("cellmem: pbuf freed twice")
	}
	p.alloc.Free(TagPbuf, p.data)
	p.data = nil
}
