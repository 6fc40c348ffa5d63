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

// Package tevent is the reactor core: registration tables, timer heap,
// activation/priority queues, the pluggable backend contract, the loop
// dispatcher, and the thread-wakeup protocol described by the libevent
// event_base design. Reactor is the event_base equivalent; Event is the
// registration handle. Everything else (buffered streams, RPC,
// transport codecs) is a collaborator outside this module's scope, the
// same way trpc-go/tnet's tnet.go exposes Conn/Service while pushing
// poller/buffer/cache machinery into internal/.
package tevent

import (
	"fmt"
	"reflect"
	"sync"
	"syscall"
	"time"

	"go.uber.org/atomic"

	"trpc.group/trpc-go/tevent/internal/activation"
	"trpc.group/trpc-go/tevent/internal/backend"
	"trpc.group/trpc-go/tevent/internal/clock"
	"trpc.group/trpc-go/tevent/internal/commontimeout"
	"trpc.group/trpc-go/tevent/internal/deferred"
	"trpc.group/trpc-go/tevent/internal/fdmap"
	"trpc.group/trpc-go/tevent/internal/notifier"
	"trpc.group/trpc-go/tevent/internal/signalmap"
	"trpc.group/trpc-go/tevent/internal/timerheap"
	"trpc.group/trpc-go/tevent/log"
	"trpc.group/trpc-go/tevent/metrics"
)

// LoopFlag selects loop-driver behavior for Reactor.Loop, matching
// spec.md §4.1's {once, nonblock, until-empty} flag set.
type LoopFlag uint32

// LoopFlag bits.
const (
	// LoopOnce runs exactly one iteration (wait, promote, drain,
	// deferred, check) then returns, whether or not anything fired.
	LoopOnce LoopFlag = 1 << iota
	// LoopNonBlock never blocks in the backend wait; timeout is always
	// zero regardless of the timer heap's next deadline.
	LoopNonBlock
	// LoopUntilEmpty suppresses the default exit-when-no-events check:
	// without it, Loop returns LoopNoEvents as soon as the reactor has
	// no registered fd/signal/timer/virtual events; with it, Loop keeps
	// blocking in the backend wait indefinitely, relying on a
	// cross-thread Add to register something and wake it (spec.md's
	// SUPPLEMENTAL FEATURES "event_continue": the loop driver restarts
	// the iteration internally instead of returning "no events").
	LoopUntilEmpty
)

// Has reports whether f contains every bit of other.
func (f LoopFlag) Has(other LoopFlag) bool { return f&other == other }

// LoopResult is Loop's disposition on a clean return, mirroring
// event_base_loop's 0/1 result codes (spec.md §6); a non-nil error
// plays the role of libevent's -1.
type LoopResult int

const (
	// LoopNormal means Loop returned because a termination flag was
	// observed at an iteration boundary (loopbreak, loopexit, or
	// LoopOnce's single pass).
	LoopNormal LoopResult = iota
	// LoopNoEvents means Loop returned because no fd/signal/timer/
	// virtual event was registered and LoopUntilEmpty was not set.
	LoopNoEvents
)

// wakeMarker tags the backend.Desc.Data of the reactor's own thread-
// wakeup fd so onBackendEvent can tell it apart from a registered
// user fd (whose Data instead holds the bare fd int).
type wakeMarker struct{}

// rLocker is the subset of sync.Locker's shape r.mu needs. Letting it
// be an interface rather than a concrete sync.Mutex field is what lets
// WithNoLock swap in noopLocker for callers who guarantee
// single-threaded use of a Reactor and want to skip synchronization
// overhead entirely, rather than merely documenting the flag and never
// consulting it.
type rLocker interface {
	Lock()
	Unlock()
}

// noopLocker backs WithNoLock: every method is a no-op, so r.mu.Lock()/
// Unlock() compile and run unchanged but do nothing.
type noopLocker struct{}

func (noopLocker) Lock()   {}
func (noopLocker) Unlock() {}

// Reactor is the event_base equivalent: it owns the backend, the
// registration tables, the timer heap, the activation/deferred queues,
// and the loop driver. A per-reactor mutex serializes every mutation of
// those structures; it is held while driving the loop except during the
// backend wait and callback invocation, per spec.md §5.
type Reactor struct {
	cfg *config

	clk *clock.Clock
	be  backend.Backend

	fds  *fdmap.Map
	sigs *signalmap.Map

	heap      *timerheap.Heap
	commonReg *commontimeout.Registry
	triggers  map[*commontimeout.Queue]*Event

	activationQ *activation.Queues
	deferredQ   *deferred.Queue

	wake     *notifier.Notifier
	wakeDesc *backend.Desc

	descs  map[int]*backend.Desc
	master map[*Event]struct{}

	virtualCount int
	currentEvent *Event

	loopRunning atomic.Bool
	loopBreak   bool
	loopExitSet bool
	loopExitAt  time.Time

	closer closer
	mu     rLocker
}

// Create builds a Reactor: selects a backend per the given options,
// wires up its thread-wakeup notifier, and registers that notifier's fd
// for readability so cross-thread Add/Del/Active/LoopExit/LoopBreak can
// preempt a blocked dispatch (spec.md §4.1, §4.10).
func Create(opts ...Option) (*Reactor, error) {
	cfg := newConfig(opts...)
	be, err := backend.Select(cfg.avoidMethods, cfg.requireFeatures)
	if err != nil {
		return nil, newError(KindNoBackend, "create", err)
	}
	if cfg.showMethod {
		log.Infof("tevent: selected backend %q (available: %v)", be.Name(), backend.Names())
	}
	if cc, ok := be.(backend.ChangelistConfigurer); ok {
		cc.UseChangelist(cfg.epollChangelist)
	}
	wake, err := notifier.New()
	if err != nil {
		_ = be.Close()
		return nil, newError(KindOOM, "create", err)
	}

	clk := clock.New()
	if cfg.noCacheTime || cfg.preciseTimer {
		clk = clock.NewUncached()
	}

	var mu rLocker = &sync.Mutex{}
	if cfg.noLock {
		mu = noopLocker{}
	}

	r := &Reactor{
		cfg:         cfg,
		clk:         clk,
		be:          be,
		heap:        timerheap.New(),
		commonReg:   commontimeout.NewRegistry(),
		triggers:    make(map[*commontimeout.Queue]*Event),
		activationQ: activation.New(cfg.numPriorities),
		deferredQ:   deferred.New(),
		wake:        wake,
		descs:       make(map[int]*backend.Desc),
		master:      make(map[*Event]struct{}),
		mu:          mu,
	}
	r.fds = fdmap.New(be)
	r.sigs = signalmap.New(reflect.ValueOf(r).Pointer(), wake)

	wakeDesc := &backend.Desc{FD: wake.FD(), Data: wakeMarker{}}
	if err := be.Add(wakeDesc, 0, backend.Read); err != nil {
		_ = be.Close()
		_ = wake.Close()
		return nil, newError(KindBackendRefused, "create", err)
	}
	r.wakeDesc = wakeDesc
	return r, nil
}

// Close tears down every registered event, releases the backend and
// wakeup notifier, and marks the reactor unusable. Idempotent.
func (r *Reactor) Close() error {
	var closeErr error
	r.closer.close(func() {
		r.mu.Lock()
		pending := make([]*Event, 0, len(r.master))
		for ev := range r.master {
			pending = append(pending, ev)
		}
		r.mu.Unlock()
		for _, ev := range pending {
			_ = r.Del(ev)
		}
		_ = r.be.Del(r.wakeDesc, backend.Read, backend.Read)
		closeErr = r.be.Close()
		_ = r.wake.Close()
		if closeErr != nil {
			log.Errorf("reactor close: backend %s close failed: %v", r.be.Name(), closeErr)
		}
	})
	return closeErr
}

// Add links ev into the reactor: the fd map or signal map (on first
// registration only — re-adding an already-registered *Event is the
// idempotent PERSIST re-registration case, spec.md §8, and only updates
// the deadline) and, if timeout > 0, the timer heap or a common-timeout
// queue. A pure timer added with timeout 0 is activated at once and fires
// on the next iteration. Fails with *invalid-arg* on a malformed fd event
// or an out-of-range priority, or *backend-refused* if the backend
// declines the subscription change.
func (r *Reactor) Add(ev *Event, timeout time.Duration) error {
	if ev.kind == KindFD && !ev.flags.Has(Read) && !ev.flags.Has(Write) {
		return newError(KindInvalidArg, "add", fmt.Errorf("fd event requires read and/or write"))
	}
	if ev.kind == KindFD && ev.flags&(Signal|Timeout) != 0 {
		return newError(KindInvalidArg, "add", fmt.Errorf("fd event cannot carry Signal or Timeout"))
	}
	if ev.kind == KindVirtual {
		return newError(KindInvalidArg, "add", fmt.Errorf("virtual events are registered via AddVirtual, not Add"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.priority == noPriority {
		ev.priority = r.cfg.defaultPriority
	}
	if ev.priority < 0 || ev.priority >= r.activationQ.Len() {
		return newError(KindInvalidArg, "add", fmt.Errorf("priority %d out of range [0,%d)", ev.priority, r.activationQ.Len()))
	}

	if ev.state&StateRegistered == 0 {
		switch ev.kind {
		case KindFD:
			desc := r.descFor(ev.fd)
			if err := r.fds.Add(ev.fd, desc, ev); err != nil {
				return newError(KindBackendRefused, "add", err)
			}
			ev.desc = desc
			metrics.Add(metrics.BackendAddCalls, 1)
		case KindSignal:
			if !r.sigs.Add(syscall.Signal(ev.signum), ev) {
				return newError(KindInvalidArg, "add", fmt.Errorf("signal %d already owned by another reactor", ev.signum))
			}
		}
		ev.reactor = r
		ev.state |= StateRegistered
		r.master[ev] = struct{}{}
	}

	if timeout > 0 {
		r.scheduleTimeoutLocked(ev, timeout)
	} else if timeout == 0 && ev.kind == KindTimer {
		r.activateLocked(ev, Timeout, 1)
	}
	r.wakeBackend()
	return nil
}

// Del removes ev from every structure it participates in: activation
// queue, timer heap or common-timeout queue, fd map or signal map, and
// the master list. Safe on a not-registered event (no-op). If ev's
// callback is the one currently running (on another thread), Del blocks
// until it returns before tearing down (spec.md §5 cross-thread del).
func (r *Reactor) Del(ev *Event) error {
	r.mu.Lock()
	isCurrent := r.currentEvent == ev
	r.mu.Unlock()
	if isCurrent {
		r.closer.waitForRunningCallback()
	}

	r.mu.Lock()
	r.delLocked(ev)
	r.mu.Unlock()
	r.wakeBackend()
	return nil
}

// Active forces ev onto its priority's activation queue as if its
// subscribed condition had fired, coalescing with any activation
// already pending for ev (spec.md §8's round-trip law: "active(e, m, k)
// causes e's callback to be invoked exactly once ... coalesced with any
// concurrent backend activation of e"). Permitted on a not-yet-added
// event per spec.md §9's resolved Open Question.
func (r *Reactor) Active(ev *Event, res Mask, count int) {
	r.activate(ev, res, count)
	r.wakeBackend()
}

// Defer schedules fn to run once, after the current activation drain
// finishes but before the next backend wait (spec.md §4.8). Safe to
// call from within a running callback; fn itself may call Defer again,
// and the newly scheduled callback waits for the following drain
// rather than running in the one still in progress.
func (r *Reactor) Defer(fn func()) {
	r.mu.Lock()
	r.deferredQ.Push(fn)
	r.mu.Unlock()
}

// AddVirtual increments the virtual-event reference count, keeping Loop
// from reporting LoopNoEvents even though no fd/timer/signal event is
// registered (SPEC_FULL.md's virtual_event_count supplement).
func (r *Reactor) AddVirtual() {
	r.mu.Lock()
	r.virtualCount++
	r.mu.Unlock()
}

// DelVirtual decrements the virtual-event reference count. No-op if
// already zero.
func (r *Reactor) DelVirtual() {
	r.mu.Lock()
	if r.virtualCount > 0 {
		r.virtualCount--
	}
	r.mu.Unlock()
}

// CommonTimeout registers d as a shared duration: every subsequent
// Add(ev, d) call with this exact duration enrolls ev in d's FIFO
// bucket instead of giving it its own heap slot (spec.md §4.5). Returns
// d unchanged; the return value exists so call sites read the same way
// a token-returning registration API would (event_base_init_common_
// timeout in the source this was ported from hands back an opaque
// timeval to pass to event_add — here the duration value itself is the
// token, since Go has no struct to overload the way a timeval is).
func (r *Reactor) CommonTimeout(d time.Duration) time.Duration {
	r.mu.Lock()
	r.commonReg.Lookup(d)
	r.mu.Unlock()
	return d
}

// PriorityInit sets the number of activation queues. Legal only before
// any event has been added to this reactor (spec.md §4.1).
func (r *Reactor) PriorityInit(n int) error {
	if n <= 0 {
		return newError(KindInvalidArg, "priority-init", fmt.Errorf("n must be positive"))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.master) != 0 {
		return newError(KindInvalidArg, "priority-init", fmt.Errorf("priority_init must run before any event is added"))
	}
	if !r.activationQ.Resize(n) {
		return newError(KindInvalidArg, "priority-init", fmt.Errorf("activation queues are not empty"))
	}
	r.cfg.numPriorities = n
	r.cfg.defaultPriority = n / 2
	return nil
}

// LoopExit schedules termination at the next activation-queue drain
// boundary after after has elapsed (spec.md §4.1). after <= 0 exits at
// the very next boundary.
func (r *Reactor) LoopExit(after time.Duration) error {
	r.mu.Lock()
	r.loopExitSet = true
	r.loopExitAt = r.clk.Now().Add(after)
	r.mu.Unlock()
	r.wakeBackend()
	return nil
}

// LoopBreak requests immediate termination: no further callback runs in
// the current drain once observed (spec.md §8 "if loopbreak was set
// before iteration start, no callback runs in that iteration" — this
// implementation checks the flag between every callback, stopping mid-
// drain rather than only at iteration boundaries).
func (r *Reactor) LoopBreak() error {
	r.mu.Lock()
	r.loopBreak = true
	r.mu.Unlock()
	r.wakeBackend()
	return nil
}

// Dispatch runs the loop with no flags, equivalent to Loop(0).
func (r *Reactor) Dispatch() (LoopResult, error) {
	return r.Loop(0)
}

// Loop drives the reactor's state machine (spec.md §4.9) until a
// termination flag is observed, LoopOnce's single pass completes, or
// (absent LoopUntilEmpty) the reactor has nothing left registered.
// Re-entrant calls from the thread already running Loop fail with
// *reentrant*.
func (r *Reactor) Loop(flags LoopFlag) (LoopResult, error) {
	if !r.loopRunning.CAS(false, true) {
		return LoopNormal, ErrReentrant
	}
	defer r.loopRunning.Store(false)

	r.mu.Lock()
	r.loopBreak = false
	r.mu.Unlock()

	for {
		if r.closer.closed() {
			return LoopNormal, nil
		}

		r.mu.Lock()
		empty := r.noEventsLocked()
		r.mu.Unlock()
		if empty && !flags.Has(LoopUntilEmpty) {
			return LoopNoEvents, nil
		}

		timeout := r.computeTimeout(flags)
		r.mu.Lock()
		if r.loopExitSet {
			if d := r.loopExitAt.Sub(r.clk.Now()); d <= 0 {
				timeout = 0
			} else if timeout < 0 || d < timeout {
				timeout = d
			}
		}
		r.mu.Unlock()
		if err := r.dispatchOnce(timeout); err != nil {
			return LoopNormal, err
		}

		r.mu.Lock()
		r.promoteExpiredTimersLocked()
		r.mu.Unlock()

		r.drainActivations()

		r.mu.Lock()
		batch := r.deferredQ.PopAll()
		r.mu.Unlock()
		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			metrics.Add(metrics.DeferredRuns, uint64(len(batch)))
		}

		r.mu.Lock()
		terminate := r.loopBreak
		if r.loopExitSet && !r.clk.Now().Before(r.loopExitAt) {
			r.loopExitSet = false
			terminate = true
		}
		r.mu.Unlock()
		if terminate || flags.Has(LoopOnce) {
			return LoopNormal, nil
		}
	}
}

// noEventsLocked reports whether the reactor has nothing registered:
// no master-list member (fd/signal/timer event), no virtual event, and
// nothing already queued to run.
func (r *Reactor) noEventsLocked() bool {
	return len(r.master) == 0 && r.virtualCount == 0 &&
		r.activationQ.Empty() && r.deferredQ.Len() == 0
}

// computeTimeout derives the next backend-wait timeout: zero under
// LoopNonBlock or whenever work is already queued (activation or
// deferred), otherwise the time remaining until the timer heap's
// soonest deadline, or -1 (block indefinitely) if the heap is empty
// (spec.md §4.4's "max(0, heap_min - now_cached)", extended to account
// for already-pending work).
func (r *Reactor) computeTimeout(flags LoopFlag) time.Duration {
	if flags.Has(LoopNonBlock) {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.activationQ.Empty() || r.deferredQ.Len() > 0 {
		return 0
	}
	next, ok := r.heap.NextDeadline()
	if !ok {
		return -1
	}
	d := next.Sub(r.clk.Now())
	if d < 0 {
		d = 0
	}
	return d
}

// dispatchOnce runs a single backend wait, refreshing the cached clock
// immediately before and after (so both the timeout computed for this
// wait and any deadlines it promotes use an up-to-date sample).
// Transient backend errors (EINTR-equivalents) are absorbed; any other
// error is fatal to this Loop call (spec.md §4.11).
func (r *Reactor) dispatchOnce(timeout time.Duration) error {
	metrics.Add(metrics.BackendDispatchCalls, 1)
	if timeout == 0 {
		metrics.Add(metrics.BackendDispatchNoWait, 1)
	}
	r.clk.Refresh()
	err := r.be.Dispatch(timeout, r.onBackendEvent)
	r.clk.Refresh()
	if r.clk.Skewed() {
		// Skewed reports the monotonic reading stepping backwards between
		// refreshes. Every deadline in the heap/common-timeout queues was
		// computed from a time.Time carrying its own monotonic reading, so
		// a wall-clock jump never corrupts a pending timer's remaining
		// duration; the skew is logged only and no deadline is rebased.
		log.Warnf("reactor dispatch: clock skew detected")
	}
	if err != nil {
		if backend.IsTransient(err) {
			metrics.Add(metrics.BackendTransientErrors, 1)
			log.Debugf("reactor dispatch: transient backend error absorbed: %v", err)
			return nil
		}
		log.Errorf("reactor dispatch: backend %s refused: %v", r.be.Name(), err)
		return newError(KindBackendRefused, "dispatch", err)
	}
	return nil
}

// onBackendEvent is the backend.ActivateFunc passed to Dispatch. It
// either drains the thread-wakeup notifier and the signal map (the
// wakeup fd's Desc carries a wakeMarker, never a user fd) or resolves
// res into per-event result masks and activates every interested
// registrant on desc's fd.
func (r *Reactor) onBackendEvent(desc *backend.Desc, res backend.Mask) {
	metrics.Add(metrics.BackendEvents, 1)

	if _, ok := desc.Data.(wakeMarker); ok {
		r.wake.Drain()
		metrics.Add(metrics.WakeupDrains, 1)
		r.sigs.Drain()
		return
	}

	fd, ok := desc.Data.(int)
	if !ok {
		return
	}
	r.mu.Lock()
	regs := append([]fdmap.Registrant(nil), r.fds.Registrants(fd)...)
	r.mu.Unlock()

	for _, reg := range regs {
		ev, ok := reg.(*Event)
		if !ok {
			continue
		}
		var m Mask
		if res.Has(backend.Read) && ev.flags.Has(Read) {
			m |= Read
		}
		if res.Has(backend.Write) && ev.flags.Has(Write) {
			m |= Write
		}
		if m != 0 {
			r.activate(ev, m, 1)
		}
	}
}

// activate acquires the lock and delegates to activateLocked.
func (r *Reactor) activate(ev *Event, res Mask, count int) {
	r.mu.Lock()
	r.activateLocked(ev, res, count)
	r.mu.Unlock()
}

// activateLocked pushes ev onto its priority's activation queue, or, if
// ev is already queued, folds res/count into its pending result so the
// callback observes the union of every activation since the last drain
// (spec.md §8 coalescing law). Assigns the default priority on first
// activation of an event that was never Add-ed.
func (r *Reactor) activateLocked(ev *Event, res Mask, count int) {
	if ev.state&StateActive != 0 {
		ev.pendingRes |= res
		ev.pendingCount += count
		return
	}
	if ev.priority == noPriority {
		ev.priority = r.cfg.defaultPriority
	}
	ev.state |= StateActive
	ev.pendingRes = res
	ev.pendingCount = count
	r.activationQ.Push(ev.priority, ev)
	metrics.Add(metrics.ActivationPushes, 1)
}

// drainActivations runs every event on the activation queues, highest
// priority first, re-scanning from priority 0 after each callback so a
// higher-priority activation produced as a side effect preempts
// whatever was queued next (spec.md §4.6; internal/activation.Queues.Pop
// implements the FIFO-per-priority half, this loop implements the
// lock/unlock-around-invocation half that Drain's single-call interface
// can't, since the lock must be released while the callback runs).
func (r *Reactor) drainActivations() {
	lastPriority := -1
	for {
		r.mu.Lock()
		if r.loopBreak || r.activationQ.Empty() {
			r.mu.Unlock()
			return
		}
		priority, item := r.activationQ.Pop()
		ev, _ := item.(*Event)

		if lastPriority >= 0 && priority < lastPriority {
			metrics.Add(metrics.ActivationPreemptions, 1)
		}
		lastPriority = priority

		res, ncalls := ev.pendingRes, ev.pendingCount
		ev.pendingRes, ev.pendingCount = 0, 0
		ev.state &^= StateActive

		// "If an event is active and not PERSIST, it is unregistered
		// from maps/heap before its callback runs" (spec.md §3).
		if !ev.flags.Has(Persist) {
			r.delLocked(ev)
		} else if ev.timeout > 0 {
			// Sliding re-arm: resolves spec.md §9's Open Question in
			// favor of now+timeout over previous_deadline+timeout.
			r.scheduleTimeoutLocked(ev, ev.timeout)
		}

		r.currentEvent = ev
		r.mu.Unlock()

		metrics.Add(metrics.ActivationRuns, 1)
		if ev.callback != nil && r.closer.beginCallback() {
			ev.callback(ev, res, ncalls)
			r.closer.endCallback()
		}

		r.mu.Lock()
		r.currentEvent = nil
		r.mu.Unlock()
	}
}

// delLocked unlinks ev from every structure it participates in. Safe to
// call on a not-registered, not-active event (no-op).
func (r *Reactor) delLocked(ev *Event) {
	if ev.state&StateActive != 0 {
		r.activationQ.Remove(ev.priority, ev)
		ev.state &^= StateActive
		ev.pendingRes, ev.pendingCount = 0, 0
	}
	if ev.hasDeadline {
		r.unscheduleTimeoutLocked(ev)
	}
	if ev.state&StateRegistered == 0 {
		return
	}
	switch ev.kind {
	case KindFD:
		_ = r.fds.Del(ev.fd, ev.desc, ev)
		metrics.Add(metrics.BackendDelCalls, 1)
		if len(r.fds.Registrants(ev.fd)) == 0 {
			delete(r.descs, ev.fd)
		}
	case KindSignal:
		r.sigs.Del(syscall.Signal(ev.signum), ev)
	}
	ev.state &^= StateRegistered
	delete(r.master, ev)
}

// scheduleTimeoutLocked arms ev's deadline, removing any deadline it
// already holds first. Durations registered via CommonTimeout enroll ev
// in that duration's FIFO bucket instead of the heap (spec.md §4.5).
func (r *Reactor) scheduleTimeoutLocked(ev *Event, timeout time.Duration) {
	r.unscheduleTimeoutLocked(ev)
	ev.timeout = timeout
	ev.hasDeadline = true
	now := r.clk.Now()

	if q, ok := r.commonReg.Has(timeout); ok {
		entry := q.Add(now, ev)
		ev.commonEntry = entry
		ev.commonQueue = q
		ev.deadline = entry.Deadline
		r.armCommonTriggerLocked(q)
		metrics.Add(metrics.CommonTimeoutAdds, 1)
		return
	}

	ev.deadline = now.Add(timeout)
	r.heap.Push(ev)
	metrics.Add(metrics.HeapPushes, 1)
}

// unscheduleTimeoutLocked removes ev's deadline from whichever of the
// heap or a common-timeout queue currently holds it. No-op if ev has no
// deadline.
func (r *Reactor) unscheduleTimeoutLocked(ev *Event) {
	if !ev.hasDeadline {
		return
	}
	if ev.commonEntry != nil {
		ev.commonQueue.Remove(ev.commonEntry)
		ev.commonEntry = nil
		ev.commonQueue = nil
	} else {
		r.heap.Remove(ev)
	}
	ev.hasDeadline = false
}

// armCommonTriggerLocked (re-)arms q's single internal trigger event in
// the timer heap at q's current head deadline, creating the trigger on
// first use. No-op if q is empty.
func (r *Reactor) armCommonTriggerLocked(q *commontimeout.Queue) {
	head, ok := q.HeadDeadline()
	if !ok {
		return
	}
	trig, exists := r.triggers[q]
	if !exists {
		trig = newEvent(KindTimer, nil, nil)
		trig.triggerQueue = q
		trig.priority = r.cfg.defaultPriority
		r.triggers[q] = trig
	}
	trig.deadline = head
	trig.hasDeadline = true
	if trig.HeapIndex() >= 0 {
		r.heap.Fix(trig)
	} else {
		r.heap.Push(trig)
		metrics.Add(metrics.HeapPushes, 1)
	}
}

// promoteExpiredTimersLocked pops every heap entry whose deadline has
// elapsed, activating ordinary timers directly and, for a common-
// timeout trigger, expiring and activating its whole queue before
// re-arming the trigger at the new head.
func (r *Reactor) promoteExpiredTimersLocked() {
	now := r.clk.Now()
	for {
		item := r.heap.Peek()
		if item == nil {
			break
		}
		ev := item.(*Event)
		if ev.deadline.After(now) {
			break
		}
		r.heap.Pop()
		metrics.Add(metrics.HeapPops, 1)
		ev.hasDeadline = false

		if ev.triggerQueue != nil {
			r.fireCommonTriggerLocked(ev.triggerQueue, now)
			continue
		}
		metrics.Add(metrics.HeapFires, 1)
		r.activateLocked(ev, Timeout, 1)
	}
}

// fireCommonTriggerLocked expires every due entry in q, activates each
// owning event, and re-arms q's trigger at the new head deadline.
func (r *Reactor) fireCommonTriggerLocked(q *commontimeout.Queue, now time.Time) {
	expired := q.Expire(now)
	if len(expired) > 0 {
		metrics.Add(metrics.CommonTimeoutExpires, uint64(len(expired)))
	}
	for _, e := range expired {
		owner, _ := e.Owner.(*Event)
		if owner == nil {
			continue
		}
		owner.commonEntry = nil
		owner.commonQueue = nil
		owner.hasDeadline = false
		r.activateLocked(owner, Timeout, 1)
	}
	r.armCommonTriggerLocked(q)
}

// descFor returns the shared backend.Desc for fd, creating it on first
// use. Every registrant on fd shares one Desc (spec.md §4.3).
func (r *Reactor) descFor(fd int) *backend.Desc {
	if d, ok := r.descs[fd]; ok {
		return d
	}
	d := &backend.Desc{FD: fd, Data: fd}
	r.descs[fd] = d
	return d
}

// wakeBackend arms the thread-wakeup notifier unconditionally. A call
// from the loop thread itself (e.g. a callback invoking Add on its own
// reactor) is harmless: Arm coalesces into at most one pending write,
// and the next backend wait simply observes and drains it immediately.
// Tracking owner-thread identity to skip same-thread wakeups would save
// that single extra wait/drain cycle at the cost of a mechanism Go's
// goroutine scheduler doesn't expose cheaply (spec.md §4.10).
func (r *Reactor) wakeBackend() {
	if err := r.wake.Arm(); err == nil {
		metrics.Add(metrics.WakeupWrites, 1)
	}
}

// clockNow returns the reactor's cached monotonic time, used by
// Event.Pending to report a timeout event's remaining duration.
func (r *Reactor) clockNow() time.Time {
	return r.clk.Now()
}
