// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellcore_test

import (
	"sync"
	"testing"
	"time"

	"github.com/hrissan/cellhttp/cellconn"
	"github.com/hrissan/cellhttp/cellcore"
	"github.com/hrissan/cellhttp/cellmem"
	"github.com/hrissan/cellhttp/cellsim"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func waitConn(t *testing.T, sim *cellsim.Transport, n int) *cellsim.Conn {
	t.Helper()
	waitFor(t, "transport start", func() bool { return len(sim.Conns()) >= n })
	return sim.Conns()[n-1]
}

type eventLog struct {
	mu     sync.Mutex
	events []cellcore.Event
}

func (l *eventLog) record(c *cellcore.Client, evt *cellcore.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := *evt
	e.Data = append([]byte(nil), evt.Data...)
	l.events = append(l.events, e)
}

func (l *eventLog) types() []cellcore.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	var result []cellcore.EventType
	for _, e := range l.events {
		result = append(result, e.Type)
	}
	return result
}

func (l *eventLog) find(typ cellcore.EventType) (cellcore.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Type == typ {
			return e, true
		}
	}
	return cellcore.Event{}, false
}

type fixture struct {
	sim    *cellsim.Transport
	alloc  *cellmem.TrackingAllocator
	events *eventLog
	opts   *cellcore.Options
}

func newFixture(sim *cellsim.Transport) *fixture {
	f := &fixture{
		sim:    sim,
		alloc:  cellmem.NewTrackingAllocator(),
		events: &eventLog{},
	}
	f.opts = cellcore.DefaultOptions(sim)
	f.opts.Allocator = f.alloc
	f.opts.OnEvent = f.events.record
	return f
}

func (f *fixture) client(t *testing.T, tx int, rx int) *cellcore.Client {
	t.Helper()
	c, err := cellcore.New(cellconn.TypeHTTP, tx, rx, f.opts)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func (f *fixture) checkNoLeaks(t *testing.T) {
	t.Helper()
	if n := f.alloc.Outstanding(); n != 0 {
		t.Fatalf("%d allocations outstanding", n)
	}
}
