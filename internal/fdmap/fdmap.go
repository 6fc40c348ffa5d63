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

// Package fdmap is the registration table from fd to the list of events
// interested in it (spec.md §4.3): a grow-on-demand dense array indexed
// by fd, generalizing the single *Desc-per-fd slot trpc-go/tnet's
// internal/poller/desc.go models (tnet only ever needs one persistent
// read and one persistent write callback per connection; the reactor
// additionally allows any number of one-shot registrations on the same
// fd+direction, which the map must coalesce into a single backend
// subscription).
package fdmap

import "trpc.group/trpc-go/tevent/internal/backend"

// Entry is one fd's registration bucket: every event currently
// interested in it, plus the backend-declared scratch area the backend
// uses to carry per-fd state across Dispatch calls (e.g. a changelist
// cursor). The map owns this allocation; backends never allocate it.
type Entry struct {
	Events []Registrant
	Info   []byte
}

// Registrant is the minimal surface fdmap needs from a registered event
// to compute the aggregate backend mask; the Map is agnostic to what an
// "event" otherwise is; the reactor package supplies the concrete type.
type Registrant interface {
	// WantMask reports which of backend.Read / backend.Write this
	// registrant wants subscribed, and whether it requires edge
	// triggering.
	WantMask() backend.Mask
}

// Map is the grow-on-demand dense fd table. Capacity only ever doubles,
// mirroring spec.md §4.3's "never shrinks" rule — fd churn in a
// long-running reactor must not repeatedly reallocate.
type Map struct {
	backend  backend.Backend
	entries  []*Entry
	fdinfLen int
}

// New creates an empty Map whose entries reserve b.FDInfoLen() scratch
// bytes each.
func New(b backend.Backend) *Map {
	return &Map{backend: b, fdinfLen: b.FDInfoLen()}
}

func (m *Map) ensure(fd int) *Entry {
	if fd >= len(m.entries) {
		grown := make([]*Entry, nextCap(len(m.entries), fd+1))
		copy(grown, m.entries)
		m.entries = grown
	}
	if m.entries[fd] == nil {
		e := &Entry{}
		if m.fdinfLen > 0 {
			e.Info = make([]byte, m.fdinfLen)
		}
		m.entries[fd] = e
	}
	return m.entries[fd]
}

func nextCap(cur, need int) int {
	if cur == 0 {
		cur = 16
	}
	for cur < need {
		cur *= 2
	}
	return cur
}

// Lookup returns the entry for fd, or nil if fd has no registrants and
// has never been grown into. Does not allocate.
func (m *Map) Lookup(fd int) *Entry {
	if fd < 0 || fd >= len(m.entries) {
		return nil
	}
	return m.entries[fd]
}

// mask computes the union of every registrant's wanted mask.
func mask(regs []Registrant) backend.Mask {
	var m backend.Mask
	for _, r := range regs {
		m |= r.WantMask()
	}
	return m
}

// Add appends reg to fd's registrant list and reconciles the backend
// subscription for the new aggregate mask. If the backend refuses the
// change, the append is rolled back and the error returned unchanged
// (spec.md §4.3 "if the backend refuses, the append is rolled back").
func (m *Map) Add(fd int, desc *backend.Desc, reg Registrant) error {
	e := m.ensure(fd)
	old := mask(e.Events)
	e.Events = append(e.Events, reg)
	desc.FDInfo = e.Info
	if err := m.backend.Add(desc, old, mask(e.Events)); err != nil {
		e.Events = e.Events[:len(e.Events)-1]
		return err
	}
	return nil
}

// Del removes reg from fd's registrant list and reconciles the backend
// subscription. No-op if reg was not present (spec.md §4.1 "safe on
// not-registered").
func (m *Map) Del(fd int, desc *backend.Desc, reg Registrant) error {
	e := m.Lookup(fd)
	if e == nil {
		return nil
	}
	idx := -1
	for i, r := range e.Events {
		if r == reg {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	old := mask(e.Events)
	e.Events = append(e.Events[:idx], e.Events[idx+1:]...)
	newMask := mask(e.Events)
	dropped := old &^ newMask
	if dropped == 0 {
		return nil
	}
	return m.backend.Del(desc, old, dropped)
}

// Registrants returns fd's current registrant list, or nil if fd is
// unregistered.
func (m *Map) Registrants(fd int) []Registrant {
	e := m.Lookup(fd)
	if e == nil || len(e.Events) == 0 {
		return nil
	}
	return e.Events
}
