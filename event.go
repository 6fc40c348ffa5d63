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

package tevent

import (
	"fmt"
	"time"

	"trpc.group/trpc-go/tevent/internal/backend"
	"trpc.group/trpc-go/tevent/internal/commontimeout"
)

// Mask is a bitset of readiness/result conditions, matching spec.md
// §6's external bit values exactly so a caller porting constants from
// another implementation can use the same integers.
type Mask uint32

// Mask bits.
const (
	// Timeout is a result-only bit: set on the mask passed to a
	// callback when the event fired because its deadline elapsed.
	Timeout Mask = 1 << iota
	// Read subscribes to / reports fd readability.
	Read
	// Write subscribes to / reports fd writability.
	Write
	// Signal subscribes to / reports signal delivery.
	Signal
	// Persist keeps the event registered after its callback runs.
	Persist
	// EdgeTriggered requests edge-triggered delivery from the backend.
	EdgeTriggered
)

// Has reports whether m contains every bit of other.
func (m Mask) Has(other Mask) bool { return m&other == other }

// Kind classifies what resource an Event's payload refers to (spec.md
// §3, §9 "tagged variant, invariants enforced at construction").
type Kind int

const (
	// KindFD is a readable and/or writable file-descriptor event.
	KindFD Kind = iota
	// KindSignal is a signal-delivery event.
	KindSignal
	// KindTimer is a pure timer with no fd or signal payload.
	KindTimer
	// KindVirtual is a virtual event. Reactor.Add rejects it; the loop is
	// held open (the way libevent's virtual_event_count does) by
	// Reactor.AddVirtual/DelVirtual, not by an Event of this kind.
	KindVirtual
)

// State bits are not mutually exclusive; Registered coexists with
// Active (spec.md §3).
type State uint8

const (
	// StateRegistered means the event is linked into the master list
	// and the appropriate map/heap.
	StateRegistered State = 1 << iota
	// StateActive means the event is queued on an activation queue.
	StateActive
	// StateActiveLater means the event was activated during a drain at
	// a priority the loop has already passed and is deferred to the
	// next iteration.
	StateActiveLater
)

// Callback is a registered event's user function. res carries the
// condition(s) that caused invocation (possibly Timeout alone); ncalls
// is >1 only for coalesced signal deliveries (spec.md §4.7).
type Callback func(ev *Event, res Mask, ncalls int)

// noPriority marks an Event whose priority has never been explicitly
// set or defaulted; Reactor.Add assigns config.defaultPriority the
// first time such an event is registered.
const noPriority = -1

// Event is a registration handle: the fd/signal/timer/virtual payload,
// flags, callback, priority, and the intrusive links the reactor's
// internal collections need (heap index, activation-queue index,
// common-timeout entry, master-list membership). Exactly one payload
// kind is ever populated, enforced by the NewFDEvent/NewSignalEvent/
// NewTimerEvent/NewVirtualEvent constructors rather than by aliasing
// shared fields (spec.md §9 "Union-typed event payload").
type Event struct {
	reactor *Reactor // weak back-reference; never owns

	kind    Kind
	fd      int // valid iff kind == KindFD
	signum  int // valid iff kind == KindSignal

	flags    Mask // Persist | EdgeTriggered, plus Read/Write/Signal subscription bits
	callback Callback
	arg      interface{}

	priority int
	state    State

	hasDeadline bool
	deadline    time.Time
	timeout     time.Duration // configured relative timeout, for sliding re-arm on PERSIST

	heapIndex       int
	activationIndex int
	commonEntry     *commontimeout.Entry
	commonQueue     *commontimeout.Queue // owning queue of commonEntry, nil otherwise

	// pendingRes/pendingCount accumulate across repeated Activate calls
	// that land while ev is already queued, so a backend-driven
	// activation and a concurrent Active() call coalesce into one
	// callback invocation (spec.md §8 round-trip law).
	pendingRes   Mask
	pendingCount int

	// triggerQueue is set only on the internal, never-user-visible
	// timer event a common-timeout Queue uses to hold one heap slot for
	// its whole FIFO (spec.md §4.5).
	triggerQueue *commontimeout.Queue

	desc *backend.Desc // this event's fd's shared backend.Desc, set by Reactor.Add
}

func newEvent(kind Kind, cb Callback, arg interface{}) *Event {
	return &Event{
		kind:            kind,
		callback:        cb,
		arg:             arg,
		priority:        noPriority,
		heapIndex:       -1,
		activationIndex: -1,
	}
}

// NewFDEvent creates a file-descriptor event. mask must be some
// non-empty combination of Read, Write, Persist, and EdgeTriggered;
// Signal and Timeout are invalid here and rejected by Reactor.Add.
func NewFDEvent(fd int, mask Mask, cb Callback, arg interface{}) *Event {
	ev := newEvent(KindFD, cb, arg)
	ev.fd = fd
	ev.flags = mask
	return ev
}

// NewSignalEvent creates a signal-delivery event for signum.
func NewSignalEvent(signum int, cb Callback, arg interface{}) *Event {
	ev := newEvent(KindSignal, cb, arg)
	ev.signum = signum
	ev.flags = Signal
	return ev
}

// NewTimerEvent creates a pure timer event: no fd or signal payload,
// fires once (or, with Persist, repeatedly) at its configured timeout.
func NewTimerEvent(cb Callback, arg interface{}) *Event {
	return newEvent(KindTimer, cb, arg)
}

// NewVirtualEvent creates an Event of KindVirtual, which never fires a
// callback. Reactor.Add rejects it: a reactor's Loop is kept from
// exiting for lack of registered events by Reactor.AddVirtual/DelVirtual
// (spec.md's supplemental AddVirtual/DelVirtual; see SPEC_FULL.md).
func NewVirtualEvent() *Event {
	return newEvent(KindVirtual, nil, nil)
}

// Arg returns the opaque argument passed at construction.
func (ev *Event) Arg() interface{} { return ev.arg }

// Kind returns the event's payload kind.
func (ev *Event) Kind() Kind { return ev.kind }

// FD returns the event's file descriptor. Valid only if Kind() == KindFD.
func (ev *Event) FD() int { return ev.fd }

// Signum returns the event's signal number. Valid only if
// Kind() == KindSignal.
func (ev *Event) Signum() int { return ev.signum }

// Priority returns the event's activation priority, or noPriority if
// never set or registered.
func (ev *Event) Priority() int { return ev.priority }

// SetPriority sets ev's activation priority explicitly (spec.md
// event_priority_set), overriding the config.defaultPriority that
// Reactor.Add would otherwise assign on first registration. Legal only
// while ev is not registered; the value is range-checked against the
// owning reactor's activation queues at Add time, same as a
// default-assigned priority.
func (ev *Event) SetPriority(p int) error {
	if ev.state&StateRegistered != 0 {
		return newError(KindInvalidArg, "set-priority", fmt.Errorf("event is already registered"))
	}
	ev.priority = p
	return nil
}

// Assign reinitializes ev in place as a fresh event bound to r: fd >= 0
// and mask without Signal makes it a file-descriptor event, mask.Has
// (Signal) makes it a signal event with signum == fd, and fd < 0 makes
// it a pure timer, mirroring event_assign(event, base, fd, mask,
// callback, arg)'s three-way dispatch on its fd argument. Lets a
// caller reuse one Event value across several registrations instead of
// allocating a fresh one via NewFDEvent/NewSignalEvent/NewTimerEvent
// each time. Legal only while ev is neither registered nor active.
func (ev *Event) Assign(r *Reactor, fd int, mask Mask, cb Callback, arg interface{}) error {
	if ev.state&(StateRegistered|StateActive) != 0 {
		return newError(KindInvalidArg, "assign", fmt.Errorf("event is registered or active"))
	}
	switch {
	case mask.Has(Signal):
		ev.kind = KindSignal
		ev.signum = fd
		ev.fd = 0
	case fd < 0:
		ev.kind = KindTimer
		ev.fd = 0
		ev.signum = 0
	default:
		ev.kind = KindFD
		ev.fd = fd
		ev.signum = 0
	}
	ev.reactor = r
	ev.flags = mask
	ev.callback = cb
	ev.arg = arg
	ev.priority = noPriority
	ev.hasDeadline = false
	ev.timeout = 0
	ev.commonEntry = nil
	ev.commonQueue = nil
	ev.triggerQueue = nil
	ev.pendingRes = 0
	ev.pendingCount = 0
	return nil
}

// Pending reports which of mask's bits are currently active on ev,
// i.e. whether ev is registered for them right now; outTimeout, if
// non-nil and ev carries a deadline, receives the remaining duration.
func (ev *Event) Pending(mask Mask, outTimeout *time.Duration) Mask {
	var res Mask
	if ev.state&StateRegistered != 0 {
		res |= ev.flags & mask & (Read | Write | Signal)
	}
	if ev.hasDeadline && mask.Has(Timeout) {
		res |= Timeout
		if outTimeout != nil && ev.reactor != nil {
			*outTimeout = ev.deadline.Sub(ev.reactor.clockNow())
		}
	}
	return res
}

// Deadline implements timerheap.Item.
func (ev *Event) Deadline() time.Time { return ev.deadline }

// HeapIndex implements timerheap.Item.
func (ev *Event) HeapIndex() int { return ev.heapIndex }

// SetHeapIndex implements timerheap.Item.
func (ev *Event) SetHeapIndex(i int) { ev.heapIndex = i }

// ActivationIndex implements activation.Item.
func (ev *Event) ActivationIndex() int { return ev.activationIndex }

// SetActivationIndex implements activation.Item.
func (ev *Event) SetActivationIndex(i int) { ev.activationIndex = i }

// WantMask implements fdmap.Registrant: the backend-facing subscription
// this event contributes for its fd (Read/Write plus EdgeTriggered).
func (ev *Event) WantMask() backend.Mask {
	var m backend.Mask
	if ev.flags.Has(Read) {
		m |= backend.Read
	}
	if ev.flags.Has(Write) {
		m |= backend.Write
	}
	if ev.flags.Has(EdgeTriggered) {
		m |= backend.EdgeTriggered
	}
	return m
}

// Activate implements signalmap.Registrant.
func (ev *Event) Activate(ncalls int) {
	if ev.reactor != nil {
		ev.reactor.activate(ev, Signal, ncalls)
	}
}
