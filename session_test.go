// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellhttp_test

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrissan/cellhttp"
	"github.com/hrissan/cellhttp/cellconn"
	"github.com/hrissan/cellhttp/cellcore"
	"github.com/hrissan/cellhttp/cellmem"
	"github.com/hrissan/cellhttp/cellsim"
)

func newSession(t *testing.T, sim *cellsim.Transport, network *cellsim.Network) (*cellhttp.Session, *cellmem.TrackingAllocator) {
	t.Helper()
	alloc := cellmem.NewTrackingAllocator()
	opts := cellcore.DefaultOptions(sim)
	opts.Allocator = alloc
	s, err := cellhttp.NewSession(network, opts, 64, 256)
	if err != nil {
		t.Fatal(err)
	}
	return s, alloc
}

func TestSessionSharesAttachment(t *testing.T) {
	network := &cellsim.Network{Delay: 2 * time.Millisecond}
	s, _ := newSession(t, cellsim.NewAuto(), network)
	ctx := context.Background()
	const users = 16
	var g errgroup.Group
	for i := 0; i < users; i++ {
		g.Go(func() error { return s.Attach(ctx) })
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if !network.IsAttached() || s.Counter().Count() != users {
		t.Fatalf("expected %d users on attached network", users)
	}
	for i := 0; i < users; i++ {
		g.Go(func() error { return s.Detach(ctx) })
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	attaches, detaches := network.RoundTrips()
	if attaches != 1 || detaches != 1 || network.IsAttached() {
		t.Fatalf("round-trips attach=%d detach=%d", attaches, detaches)
	}
}

func TestSessionsAreIndependent(t *testing.T) {
	first := &cellsim.Network{}
	second := &cellsim.Network{}
	s1, _ := newSession(t, cellsim.NewAuto(), first)
	s2, _ := newSession(t, cellsim.NewAuto(), second)
	if err := s1.Attach(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s2.Counter().Count() != 0 || second.IsAttached() {
		t.Fatalf("sessions share attach state")
	}
	errDown := errors.New("network down")
	second.FailNext(errDown)
	if err := s2.Attach(context.Background()); !errors.Is(err, errDown) {
		t.Fatalf("expected attach failure, got %v", err)
	}
	if s2.Counter().Count() != 0 {
		t.Fatalf("failed attach changed count")
	}
}

func TestDialConn(t *testing.T) {
	sim := cellsim.NewAuto()
	s, alloc := newSession(t, sim, &cellsim.Network{})
	conn, err := cellhttp.Dial(s, cellconn.TypeHTTP, "example:80")
	if err != nil {
		t.Fatal(err)
	}
	if conn.RemoteAddr().String() != "example:80" || conn.RemoteAddr().Network() != "http" {
		t.Fatalf("unexpected remote addr %v", conn.RemoteAddr())
	}
	if n, err := conn.Write([]byte("GET / HTTP/1.0\r\n\r\n")); err != nil || n != 18 {
		t.Fatalf("write %d %v", n, err)
	}
	tc := sim.Last()
	_ = tc.Fire(cellconn.EventRecv{Data: []byte("HTTP/1.0 200 OK\r\n\r\nbody")})
	_ = tc.Fire(cellconn.EventClosed{})
	response, err := io.ReadAll(conn)
	if err != nil {
		t.Fatal(err)
	}
	if string(response) != "HTTP/1.0 200 OK\r\n\r\nbody" {
		t.Fatalf("read %q", response)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close after peer close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if n := alloc.Outstanding(); n != 0 {
		t.Fatalf("%d allocations leaked", n)
	}
}

func TestConnReadDeadline(t *testing.T) {
	s, _ := newSession(t, cellsim.NewAuto(), &cellsim.Network{})
	conn, err := cellhttp.DialTimeout(s, cellconn.TypeHTTP, "example:80", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Millisecond))
	if _, err := conn.Read(make([]byte, 8)); !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestDialErrors(t *testing.T) {
	sim := cellsim.New() // never answers
	s, alloc := newSession(t, sim, &cellsim.Network{})
	if _, err := cellhttp.Dial(s, cellconn.TypeHTTP, "no-port"); err == nil {
		t.Fatalf("address without port accepted")
	}
	if _, err := cellhttp.Dial(s, cellconn.TypeHTTP, "example:70000"); err == nil {
		t.Fatalf("port out of range accepted")
	}
	if _, err := cellhttp.DialTimeout(s, cellconn.TypeHTTP, "example:80", 10*time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected dial timeout, got %v", err)
	}
	if n := alloc.Outstanding(); n != 0 {
		t.Fatalf("%d allocations leaked by failed dials", n)
	}
}
