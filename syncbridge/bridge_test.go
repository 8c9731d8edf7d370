// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package syncbridge_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hrissan/cellhttp/syncbridge"
)

func TestCompleteBeforeWait(t *testing.T) {
	b := syncbridge.New()
	r := b.Call(context.Background(), syncbridge.OpConnect, func() error {
		// transport fires completion before caller starts waiting
		if !b.Complete(syncbridge.OpConnect, syncbridge.Result{N: 7}) {
			t.Errorf("completion must be accepted while armed")
		}
		return nil
	})
	if r.Err != nil || r.N != 7 {
		t.Fatalf("unexpected result %+v", r)
	}
	if b.Pending() != syncbridge.OpNone {
		t.Fatalf("bridge still armed after call")
	}
}

func TestCompleteWithoutWaiterIsNoop(t *testing.T) {
	b := syncbridge.New()
	if b.Complete(syncbridge.OpAny, syncbridge.Result{}) {
		t.Fatalf("completion accepted with nothing pending")
	}
	// stale completion must not satisfy the next operation
	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Complete(syncbridge.OpWrite, syncbridge.Result{N: 2})
	}()
	r := b.Call(context.Background(), syncbridge.OpWrite, func() error { return nil })
	if r.N != 2 {
		t.Fatalf("expected fresh completion, got %+v", r)
	}
}

func TestCompleteWrongOpIgnored(t *testing.T) {
	b := syncbridge.New()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	r := b.Call(ctx, syncbridge.OpClose, func() error {
		if b.Complete(syncbridge.OpWrite, syncbridge.Result{}) {
			t.Errorf("write completion released pending close")
		}
		return nil
	})
	if !errors.Is(r.Err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", r.Err)
	}
	if b.Pending() != syncbridge.OpNone {
		t.Fatalf("cancelled call left bridge armed")
	}
}

func TestIssueFailureSkipsWait(t *testing.T) {
	b := syncbridge.New()
	errIssue := errors.New("no sockets")
	r := b.Call(context.Background(), syncbridge.OpConnect, func() error { return errIssue })
	if !errors.Is(r.Err, errIssue) {
		t.Fatalf("expected issue error, got %v", r.Err)
	}
	if b.Complete(syncbridge.OpConnect, syncbridge.Result{}) {
		t.Fatalf("failed call left bridge armed")
	}
}

// Many goroutines hammer one bridge, completions fire from other goroutines.
// At any time at most one operation is inside the wait, and each caller
// sees its own completion.
func TestStressExclusive(t *testing.T) {
	b := syncbridge.New()
	var inside atomic.Int32
	var g errgroup.Group
	for w := 0; w < 16; w++ {
		g.Go(func() error {
			for i := 0; i < 200; i++ {
				want := w*1000 + i
				r := b.Call(context.Background(), syncbridge.OpWrite, func() error {
					if n := inside.Add(1); n != 1 {
						return errors.New("two operations inside bridge")
					}
					if b.Pending() != syncbridge.OpWrite {
						return errors.New("operation not armed during issue")
					}
					go func() {
						inside.Add(-1)
						b.Complete(syncbridge.OpWrite, syncbridge.Result{N: want})
					}()
					return nil
				})
				if r.Err != nil {
					return r.Err
				}
				if r.N != want {
					return errors.New("completion delivered to wrong caller")
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestArmWithoutLockPanics(t *testing.T) {
	b := syncbridge.New()
	started := make(chan struct{})
	release := make(chan struct{})
	go b.CallLocked(context.Background(), syncbridge.OpConnect, func() error {
		close(started)
		<-release
		return nil
	})
	<-started
	defer func() {
		close(release)
		b.Complete(syncbridge.OpAny, syncbridge.Result{})
		if recover() == nil {
			t.Errorf("second armed operation must panic")
		}
	}()
	b.CallLocked(context.Background(), syncbridge.OpWrite, func() error { return nil })
}
