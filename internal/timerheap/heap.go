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

// Package timerheap implements the reactor's min-heap of timed events,
// keyed by absolute monotonic deadline with ties broken by insertion
// order. It is built on container/heap: no library in the reference
// corpus provides a general-purpose indexed binary heap, and
// container/heap already gives arbitrary-index removal (via heap.Fix /
// heap.Remove) for the O(log n) cost spec.md §4.4 requires, so
// hand-rolling one would only reimplement the standard library.
package timerheap

import (
	"container/heap"
	"time"
)

// Item is the subset of an Event the heap needs to order and to locate
// for removal. Implementations embed an Index field the heap maintains;
// Index must start at -1 and is only ever written by this package.
type Item interface {
	// Deadline returns the absolute monotonic instant the item expires.
	Deadline() time.Time
	// HeapIndex returns the item's current slot in the backing array, or
	// -1 if it is not in the heap.
	HeapIndex() int
	// SetHeapIndex is called by the heap whenever the item's slot
	// changes, including -1 when the item leaves the heap.
	SetHeapIndex(int)
}

type entry struct {
	item Item
	seq  uint64
}

// Heap is a min-heap of Items ordered by Deadline, with a monotonically
// increasing sequence number as a secondary key so ties are broken by
// insertion order (spec.md §4.4).
type Heap struct {
	entries []entry
	nextSeq uint64
}

// New creates an empty Heap.
func New() *Heap {
	return &Heap{}
}

// Len returns the number of items currently in the heap.
func (h *Heap) Len() int { return len(h.entries) }

// Push inserts item into the heap. O(log n).
func (h *Heap) Push(item Item) {
	e := entry{item: item, seq: h.nextSeq}
	h.nextSeq++
	heap.Push((*sortable)(h), e)
}

// Peek returns the item with the smallest deadline without removing it,
// or nil if the heap is empty. O(1).
func (h *Heap) Peek() Item {
	if len(h.entries) == 0 {
		return nil
	}
	return h.entries[0].item
}

// Pop removes and returns the item with the smallest deadline, or nil if
// the heap is empty. O(log n).
func (h *Heap) Pop() Item {
	if len(h.entries) == 0 {
		return nil
	}
	e := heap.Pop((*sortable)(h)).(entry)
	return e.item
}

// Remove deletes item from the heap using its cached HeapIndex. It is a
// no-op if the item is not currently in the heap. O(log n).
func (h *Heap) Remove(item Item) {
	idx := item.HeapIndex()
	if idx < 0 || idx >= len(h.entries) || h.entries[idx].item != item {
		return
	}
	heap.Remove((*sortable)(h), idx)
}

// Fix re-establishes heap order for item after its deadline changed
// in-place. O(log n).
func (h *Heap) Fix(item Item) {
	idx := item.HeapIndex()
	if idx < 0 || idx >= len(h.entries) || h.entries[idx].item != item {
		return
	}
	heap.Fix((*sortable)(h), idx)
}

// NextDeadline returns the deadline of the soonest-expiring item and true,
// or the zero time and false if the heap is empty.
func (h *Heap) NextDeadline() (time.Time, bool) {
	if len(h.entries) == 0 {
		return time.Time{}, false
	}
	return h.entries[0].item.Deadline(), true
}

// sortable adapts Heap to container/heap.Interface without exposing the
// five Push/Pop/Len/Less/Swap methods on the public Heap type.
type sortable Heap

func (s *sortable) Len() int { return len(s.entries) }

func (s *sortable) Less(i, j int) bool {
	di, dj := s.entries[i].item.Deadline(), s.entries[j].item.Deadline()
	if di.Equal(dj) {
		return s.entries[i].seq < s.entries[j].seq
	}
	return di.Before(dj)
}

func (s *sortable) Swap(i, j int) {
	s.entries[i], s.entries[j] = s.entries[j], s.entries[i]
	s.entries[i].item.SetHeapIndex(i)
	s.entries[j].item.SetHeapIndex(j)
}

func (s *sortable) Push(x interface{}) {
	e := x.(entry)
	e.item.SetHeapIndex(len(s.entries))
	s.entries = append(s.entries, e)
}

func (s *sortable) Pop() interface{} {
	old := s.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	s.entries = old[:n-1]
	e.item.SetHeapIndex(-1)
	return e
}
