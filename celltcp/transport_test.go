// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package celltcp_test

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hrissan/cellhttp/cellconn"
	"github.com/hrissan/cellhttp/cellcore"
	"github.com/hrissan/cellhttp/cellerrors"
	"github.com/hrissan/cellhttp/celltcp"
)

func newTransport(t *testing.T, mutate func(*celltcp.Options)) *celltcp.Transport {
	t.Helper()
	opts := celltcp.DefaultOptions()
	opts.PollInterval = 5 * time.Millisecond
	if mutate != nil {
		mutate(opts)
	}
	tr, err := celltcp.New(opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(tr.Shutdown)
	return tr
}

func echoServer(t *testing.T) (string, uint16) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer nc.Close()
				_, _ = io.Copy(nc, nc)
			}()
		}
	}()
	addr := ln.Addr().(*net.TCPAddr)
	return "127.0.0.1", uint16(addr.Port)
}

func readAll(ctx context.Context, c *cellcore.Client) (string, error) {
	var sb strings.Builder
	buf := make([]byte, 64)
	for {
		n, err := c.Read(ctx, buf)
		sb.Write(buf[:n])
		if errors.Is(err, cellerrors.ErrClosed) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
	}
}

func TestEchoThroughClient(t *testing.T) {
	tr := newTransport(t, nil)
	host, port := echoServer(t)
	c, err := cellcore.New(cellconn.TypeTCP, 64, 256, cellcore.DefaultOptions(tr))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Delete()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if status, err := c.Connect(ctx, host, port); err != nil || status != cellcore.ConnStatusAccepted {
		t.Fatalf("connect: %v %v", status, err)
	}
	if err := c.Write(ctx, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(readerCtx{ctx, c}, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "ping" {
		t.Fatalf("echo %q", buf)
	}
	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if c.State() != cellcore.StateDisconnected {
		t.Fatalf("expected disconnected, got %v", c.State())
	}
	deadline := time.Now().Add(2 * time.Second)
	for tr.Active() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connection number not released")
		}
		time.Sleep(time.Millisecond)
	}
}

type readerCtx struct {
	ctx context.Context
	c   *cellcore.Client
}

func (r readerCtx) Read(b []byte) (int, error) { return r.c.Read(r.ctx, b) }

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	_ = ln.Close()

	tr := newTransport(t, nil)
	c, err := cellcore.New(cellconn.TypeTCP, 64, 256, cellcore.DefaultOptions(tr))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Delete()
	status, err := c.Connect(context.Background(), "127.0.0.1", port)
	if status != cellcore.ConnStatusTCPFailed || !errors.Is(err, cellerrors.ErrConnectFailed) {
		t.Fatalf("expected failed connect, got %v %v", status, err)
	}
}

func TestTooManyConnections(t *testing.T) {
	tr := newTransport(t, func(o *celltcp.Options) { o.MaxConnections = 1 })
	host, port := echoServer(t)
	handler := func(cellconn.Conn, cellconn.Event) error { return nil }
	conn, err := tr.Start(cellconn.TypeTCP, host, port, nil, handler)
	if err != nil {
		t.Fatal(err)
	}
	if conn.Num() != 0 {
		t.Fatalf("first connection number %d", conn.Num())
	}
	if _, err := tr.Start(cellconn.TypeTCP, host, port, nil, handler); !errors.Is(err, celltcp.ErrTooManyConnections) {
		t.Fatalf("expected limit, got %v", err)
	}
}

func TestPollAndClosedEvents(t *testing.T) {
	tr := newTransport(t, nil)
	host, port := echoServer(t)
	var polls atomic.Int32
	closed := make(chan cellconn.EventClosed, 1)
	handler := func(conn cellconn.Conn, evt cellconn.Event) error {
		switch evt := evt.(type) {
		case cellconn.EventPoll:
			polls.Add(1)
		case cellconn.EventClosed:
			closed <- evt
		}
		return nil
	}
	conn, err := tr.Start(cellconn.TypeTCP, host, port, nil, handler)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for polls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("no poll events")
		}
		time.Sleep(time.Millisecond)
	}
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-closed:
		if !evt.Forced || evt.Err != nil {
			t.Fatalf("unexpected closed event %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no closed event")
	}
}

func TestNoPollAfterClosed(t *testing.T) {
	tr := newTransport(t, func(opts *celltcp.Options) { opts.PollInterval = time.Millisecond })
	host, port := echoServer(t)
	var polls, late atomic.Int32
	var closedSeen atomic.Bool
	closed := make(chan struct{})
	handler := func(conn cellconn.Conn, evt cellconn.Event) error {
		switch evt.(type) {
		case cellconn.EventPoll:
			if closedSeen.Load() {
				late.Add(1)
			}
			polls.Add(1)
			time.Sleep(2 * time.Millisecond) // close usually lands while poll is delivered
		case cellconn.EventClosed:
			closedSeen.Store(true)
			close(closed)
		}
		return nil
	}
	conn, err := tr.Start(cellconn.TypeTCP, host, port, nil, handler)
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for polls.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("no poll events")
		}
		time.Sleep(time.Millisecond)
	}
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("no closed event")
	}
	time.Sleep(30 * time.Millisecond)
	if n := late.Load(); n != 0 {
		t.Fatalf("%d poll events after closed", n)
	}
}

func TestHandlerErrorClosesConnection(t *testing.T) {
	tr := newTransport(t, nil)
	host, port := echoServer(t)
	closed := make(chan cellconn.EventClosed, 1)
	handler := func(conn cellconn.Conn, evt cellconn.Event) error {
		switch evt := evt.(type) {
		case cellconn.EventActive:
			return errors.New("not interested")
		case cellconn.EventClosed:
			closed <- evt
		}
		return nil
	}
	if _, err := tr.Start(cellconn.TypeTCP, host, port, nil, handler); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-closed:
		if evt.Forced {
			t.Fatalf("handler close must not be reported as forced")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no closed event")
	}
}

func TestHTTPSRequest(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "hello over tls")
	}))
	defer srv.Close()
	pool := x509.NewCertPool()
	pool.AddCert(srv.Certificate())
	tr := newTransport(t, func(o *celltcp.Options) { o.TLSConfig = &tls.Config{RootCAs: pool} })

	addr := srv.Listener.Addr().(*net.TCPAddr)
	c, err := cellcore.New(cellconn.TypeHTTPS, 128, 1024, cellcore.DefaultOptions(tr))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Delete()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.Connect(ctx, "127.0.0.1", uint16(addr.Port)); err != nil {
		t.Fatal(err)
	}
	if err := c.Write(ctx, []byte("GET / HTTP/1.0\r\nHost: 127.0.0.1\r\n\r\n")); err != nil {
		t.Fatal(err)
	}
	response, err := readAll(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(response, "HTTP/1.0 200 OK") || !strings.HasSuffix(response, "hello over tls") {
		t.Fatalf("unexpected response %q", response)
	}
}
