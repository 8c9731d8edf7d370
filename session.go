// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

// Package cellhttp is a blocking client API over an event driven connection layer.
//
// A Session owns the attach counter shared by all its clients, so the underlying
// network is attached once before the first client needs it and detached after
// the last one is done. Clients are created by the session with its options.
package cellhttp

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hrissan/cellhttp/cellconn"
	"github.com/hrissan/cellhttp/cellcore"
	"github.com/hrissan/cellhttp/netattach"
)

const (
	DefaultTxBuffer = 1024
	DefaultRxBuffer = 1460
)

type Session struct {
	opts     cellcore.Options
	counter  *netattach.Counter
	txBuffer int
	rxBuffer int
}

// NewSession validates opts, zero buffer sizes select defaults
func NewSession(network netattach.Network, opts *cellcore.Options, txBuffer int, rxBuffer int) (*Session, error) {
	if network == nil {
		return nil, fmt.Errorf("network must be set, use netattach.HostNetwork() for host stack")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if txBuffer <= 0 {
		txBuffer = DefaultTxBuffer
	}
	if rxBuffer <= 0 {
		rxBuffer = DefaultRxBuffer
	}
	return &Session{
		opts:     *opts,
		counter:  netattach.NewCounter(network, opts.Stats, opts.Logger),
		txBuffer: txBuffer,
		rxBuffer: rxBuffer,
	}, nil
}

// Attach must be called once per logical user of the network, before connecting
func (s *Session) Attach(ctx context.Context) error { return s.counter.Attach(ctx) }

// Detach must be paired with successful Attach
func (s *Session) Detach(ctx context.Context) error { return s.counter.Detach(ctx) }

func (s *Session) Counter() *netattach.Counter { return s.counter }

func (s *Session) Logger() *zap.Logger { return s.opts.Logger }

// NewClient creates client with session options and buffer sizes
func (s *Session) NewClient(typ cellconn.Type) (*cellcore.Client, error) {
	return s.NewClientSize(typ, s.txBuffer, s.rxBuffer)
}

func (s *Session) NewClientSize(typ cellconn.Type, txBuffer int, rxBuffer int) (*cellcore.Client, error) {
	return cellcore.New(typ, txBuffer, rxBuffer, &s.opts)
}
