//
//
// Tencent is pleased to support the open source community by making tRPC available.
//
// Copyright (C) 2023 THL A29 Limited, a Tencent company.
// All rights reserved.
//
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the  Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.
//
//

// Package deferred is the post-activation-drain callback queue
// (spec.md §4.8): callbacks scheduled from within an activation
// callback to run after the current drain but before the next backend
// wait. Mirrors trpc-go/tnet's taskpool.Submit in spirit (queue work,
// run it off the critical path) but runs synchronously on the loop
// thread rather than handing off to an ants pool, since deferred
// callbacks are defined to run strictly after the drain and strictly
// before the next dispatch.
package deferred

// Func is a deferred callback.
type Func func()

// Queue is a FIFO of deferred callbacks.
type Queue struct {
	pending []Func
}

// New creates an empty deferred queue.
func New() *Queue { return &Queue{} }

// Push appends fn to the queue. Safe to call from within Drain; the
// added fn waits for the next Drain call rather than running in the
// current one, preserving forward progress (spec.md §4.8 "the drain
// processes whatever is present at drain start, then stops").
func (q *Queue) Push(fn Func) {
	q.pending = append(q.pending, fn)
}

// Len reports how many callbacks are currently queued.
func (q *Queue) Len() int { return len(q.pending) }

// Drain runs every callback present at the moment Drain is called, in
// FIFO order. Callbacks added during this Drain (including by one of
// the callbacks it runs) are left for the next call.
func (q *Queue) Drain() {
	for _, fn := range q.PopAll() {
		fn()
	}
}

// PopAll atomically removes and returns every callback currently
// queued, leaving the queue empty. Lets a caller that must not hold its
// own lock while running callbacks (the reactor, which still wants
// Push from within a running callback to be safe) separate the swap
// from the run.
func (q *Queue) PopAll() []Func {
	batch := q.pending
	q.pending = nil
	return batch
}
