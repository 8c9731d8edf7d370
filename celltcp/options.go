// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package celltcp

import (
	"crypto/tls"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hrissan/cellhttp/cellstats"
)

type Options struct {
	Stats  cellstats.Stats
	Logger *zap.Logger

	MaxConnections int // connection numbers are in [0..MaxConnections)
	DialTimeout    time.Duration
	PollInterval   time.Duration // EventPoll period of active connection
	ReadBufferSize int           // largest EventRecv

	// used for TypeSSL and TypeHTTPS, ServerName defaults to connection host
	TLSConfig *tls.Config
}

func DefaultOptions() *Options {
	return &Options{
		Stats:          cellstats.Nop(),
		Logger:         zap.NewNop(),
		MaxConnections: 6,
		DialTimeout:    30 * time.Second,
		PollInterval:   500 * time.Millisecond,
		ReadBufferSize: 1460,
	}
}

func (opts *Options) Validate() error {
	if opts.Stats == nil {
		return fmt.Errorf("stats must be set, use cellstats.Nop() to disable")
	}
	if opts.Logger == nil {
		return fmt.Errorf("logger must be set, use zap.NewNop() to disable")
	}
	if opts.MaxConnections < 1 {
		return fmt.Errorf("MaxConnections (%d) should be at least 1", opts.MaxConnections)
	}
	if opts.PollInterval < time.Millisecond {
		return fmt.Errorf("PollInterval (%v) should be at least %v", opts.PollInterval, time.Millisecond)
	}
	if opts.ReadBufferSize < 1 {
		return fmt.Errorf("ReadBufferSize (%d) should be at least 1", opts.ReadBufferSize)
	}
	return nil
}
