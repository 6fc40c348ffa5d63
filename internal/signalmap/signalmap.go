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

// Package signalmap is the process-wide registry from signal number to
// the reactors interested in it (spec.md §4.7, §9 "Global signal
// state"). Go gives no portable way to install the C-style signal
// handler libevent's sig_func stashes into a table and has write a
// single byte from signal-handler context; os/signal.Notify is the
// idiomatic replacement, and its delivery channel is itself already a
// de-duplicating self-pipe analogue, so signalmap's own notifier.Notifier
// only has to carry the coalesced wakeup from the forwarding goroutine
// into the owning reactor's backend wait, not the raw handler write.
package signalmap

import (
	"os"
	"os/signal"
	"sync"

	"go.uber.org/atomic"

	"trpc.group/trpc-go/tevent/internal/locker"
	"trpc.group/trpc-go/tevent/internal/notifier"
)

// Registrant is the minimal surface a signal event exposes to the map.
type Registrant interface {
	// Activate is invoked once per drain with the number of deliveries
	// coalesced since the last drain (spec.md §4.7 "ncalls").
	Activate(ncalls int)
}

var (
	processMu    sync.Mutex
	processOwner = map[os.Signal]uintptr{}
)

// claim enforces single-owner-per-signum across every reactor in the
// process via the global table, mirroring spec.md's CAS-registration
// requirement for signal ownership.
func claim(sig os.Signal, owner uintptr) bool {
	processMu.Lock()
	defer processMu.Unlock()
	if cur, ok := processOwner[sig]; ok && cur != owner {
		return false
	}
	processOwner[sig] = owner
	return true
}

func release(sig os.Signal, owner uintptr) {
	processMu.Lock()
	defer processMu.Unlock()
	if cur, ok := processOwner[sig]; ok && cur == owner {
		delete(processOwner, sig)
	}
}

type entry struct {
	sig   os.Signal
	ncall atomic.Int64
	regs  []Registrant
	stop  chan struct{}
}

// Map is one reactor's signal registry. Every Map instance that shares
// a process must use a distinct Owner token; the reactor package passes
// its own address.
type Map struct {
	owner  uintptr
	notify *notifier.Notifier
	mu     locker.Locker
	bySig  map[os.Signal]*entry
}

// New creates a Map that arms notify whenever any registered signal is
// delivered.
func New(owner uintptr, notify *notifier.Notifier) *Map {
	return &Map{owner: owner, notify: notify, bySig: make(map[os.Signal]*entry)}
}

// Add registers reg for delivery of sig, installing the os/signal
// forwarding goroutine on first registration for that signal. Fails
// (ok=false) if another Map in the process already owns sig.
func (m *Map) Add(sig os.Signal, reg Registrant) (ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, exists := m.bySig[sig]
	if !exists {
		if !claim(sig, m.owner) {
			return false
		}
		e = &entry{sig: sig, stop: make(chan struct{})}
		m.bySig[sig] = e
		m.watch(e)
	}
	e.regs = append(e.regs, reg)
	return true
}

func (m *Map) watch(e *entry) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, e.sig)
	go func() {
		for {
			select {
			case <-ch:
				e.ncall.Inc()
				_ = m.notify.Arm()
			case <-e.stop:
				signal.Stop(ch)
				return
			}
		}
	}()
}

// Del unregisters reg from sig. When the last registrant for sig is
// removed, the forwarding goroutine stops and the process-wide claim is
// released.
func (m *Map) Del(sig os.Signal, reg Registrant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.bySig[sig]
	if !ok {
		return
	}
	for i, r := range e.regs {
		if r == reg {
			e.regs = append(e.regs[:i], e.regs[i+1:]...)
			break
		}
	}
	if len(e.regs) == 0 {
		close(e.stop)
		delete(m.bySig, sig)
		release(e.sig, m.owner)
	}
}

// Drain activates every registrant whose signal accrued deliveries
// since the last call, resetting each signal's counter to zero.
func (m *Map) Drain() {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.bySig))
	for _, e := range m.bySig {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for _, e := range entries {
		n := int(e.ncall.Swap(0))
		if n == 0 {
			continue
		}
		m.mu.Lock()
		regs := append([]Registrant(nil), e.regs...)
		m.mu.Unlock()
		for _, r := range regs {
			r.Activate(n)
		}
	}
}
