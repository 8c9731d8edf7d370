// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellcore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hrissan/cellhttp/cellconn"
	"github.com/hrissan/cellhttp/cellcore"
	"github.com/hrissan/cellhttp/cellerrors"
	"github.com/hrissan/cellhttp/cellsim"
)

func TestRequestDescriptors(t *testing.T) {
	f := newFixture(cellsim.NewAuto())
	f.opts.MaxRequests = 2
	c := f.client(t, 64, 64)
	defer c.Delete()
	first, err := c.BeginRequest(cellcore.MethodGet, "first")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.BeginRequest(cellcore.MethodPost, "second")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.BeginRequest(cellcore.MethodHead, nil); !errors.Is(err, cellerrors.ErrNoFreeRequest) {
		t.Fatalf("expected no free request, got %v", err)
	}
	if _, err := c.Connect(context.Background(), "example", 80); err != nil {
		t.Fatal(err)
	}
	if err := c.Write(context.Background(), []byte("GET /")); err != nil {
		t.Fatal(err)
	}
	conn := f.sim.Last()
	if err := conn.Fire(cellconn.EventRecv{Data: []byte("0123456789")}); err != nil {
		t.Fatal(err)
	}
	r, ok := c.Request(first)
	if !ok || r.SentLen != 5 || r.RecvLen != 10 || r.Status != cellcore.RequestActive {
		t.Fatalf("oldest request must get traffic, got %+v", r)
	}
	if err := c.EndRequest(first); err != nil {
		t.Fatal(err)
	}
	if err := c.EndRequest(first); !errors.Is(err, cellerrors.ErrUnknownRequest) {
		t.Fatalf("double end: %v", err)
	}
	if err := conn.Fire(cellconn.EventClosed{}); err != nil {
		t.Fatal(err)
	}
	r, ok = c.Request(second)
	if !ok || r.Status != cellcore.RequestDone {
		t.Fatalf("close must complete active requests, got %+v", r)
	}
	evt, ok := f.events.find(cellcore.EventReadComplete)
	if !ok || evt.Arg != "second" || evt.Request != second || evt.Err != nil {
		t.Fatalf("unexpected read complete %+v", evt)
	}
}

func TestRequestTimeoutOnPoll(t *testing.T) {
	f := newFixture(cellsim.NewAuto())
	f.opts.RequestTimeout = 10 * time.Millisecond
	f.opts.Arg = "client"
	c := f.client(t, 64, 64)
	defer c.Delete()
	if _, err := c.Connect(context.Background(), "example", 80); err != nil {
		t.Fatal(err)
	}
	slot, err := c.BeginRequest(cellcore.MethodGet, "slow")
	if err != nil {
		t.Fatal(err)
	}
	conn := f.sim.Last()
	if err := conn.Fire(cellconn.EventPoll{}); err != nil {
		t.Fatal(err)
	}
	if r, _ := c.Request(slot); r.Status != cellcore.RequestActive {
		t.Fatalf("request timed out too early")
	}
	time.Sleep(20 * time.Millisecond)
	if err := conn.Fire(cellconn.EventPoll{}); err != nil {
		t.Fatal(err)
	}
	if r, _ := c.Request(slot); r.Status != cellcore.RequestTimedOut {
		t.Fatalf("expected timed out, got %v", r.Status)
	}
	evt, ok := f.events.find(cellcore.EventReadComplete)
	if !ok || !errors.Is(evt.Err, cellerrors.ErrTimeout) || evt.Arg != "slow" {
		t.Fatalf("unexpected read complete %+v", evt)
	}
	keepAlive, ok := f.events.find(cellcore.EventKeepAlive)
	if !ok || keepAlive.Arg != "client" {
		t.Fatalf("poll while connected must send keep alive with client arg, got %+v", keepAlive)
	}
	if !c.IsConnected() {
		t.Fatalf("poll must never change connection state")
	}
}
