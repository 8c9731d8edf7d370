// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellhttp

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/hrissan/cellhttp/cellconn"
)

func Dial(s *Session, typ cellconn.Type, address string) (*Conn, error) {
	return DialTimeout(s, typ, address, 0)
}

func DialTimeout(s *Session, typ cellconn.Type, address string, timeout time.Duration) (*Conn, error) {
	ctx := context.Background()
	if timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return DialContext(ctx, s, typ, address)
}

// DialContext creates client and connects it to address "host:port".
// Session must be attached.
func DialContext(ctx context.Context, s *Session, typ cellconn.Type, address string) (*Conn, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid port in address %q: %w", address, err)
	}
	client, err := s.NewClient(typ)
	if err != nil {
		return nil, err
	}
	if _, err := client.Connect(ctx, host, uint16(port)); err != nil {
		_ = client.Delete()
		return nil, err
	}
	return newConn(client, host, uint16(port)), nil
}
