// Copyright (c) 2025, Grigory Buteyko aka Hrissan
// Licensed under the MIT License. See LICENSE for details.

package cellmem

// Rollback collects release functions of a multi-step construction.
// Run releases everything in reverse order unless Commit was called first.
//
//	var rb cellmem.Rollback
//	defer rb.Run()
//	a, err := step1()
//	if err != nil { return err }
//	rb.Add(func() { release1(a) })
//	...
//	rb.Commit()
type Rollback struct {
	undo []func()
}

func (r *Rollback) Add(release func()) {
	r.undo = append(r.undo, release)
}

func (r *Rollback) Commit() {
	r.undo = nil
}

func (r *Rollback) Run() {
	for i := len(r.undo) - 1; i >= 0; i-- {
		r.undo[i]()
	}
	r.undo = nil
}
