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

// Package backend defines the pluggable readiness-poller contract
// (spec.md §4.2) and the concrete pollers: an edge-capable epoll backend
// on Linux, an edge-capable kqueue backend on the BSDs and Darwin, and a
// portable level-triggered poll(2) fallback usable anywhere golang.org/x
// /sys/unix.Poll is available. Generalizes the single hard-wired poller
// trpc-go/tnet picks per platform (internal/poller/poller_epoll.go,
// poller_kqueue.go) into a table of backends the reactor selects from at
// Create time, the way libevent's struct eventop table does.
package backend

import (
	"errors"
	"time"
)

// ErrNoBackendAvailable is returned by Select when no registered backend
// could be built for the current platform and configuration.
var ErrNoBackendAvailable = errors.New("backend: no backend available")

// errEdgeTriggeredUnsupported is returned by a backend's Add when asked
// to register EdgeTriggered and the backend cannot provide it (spec.md's
// Open Question on EDGE_TRIGGERED/backend mismatch: an explicit error,
// never a silent level-triggered downgrade).
var errEdgeTriggeredUnsupported = errors.New("backend: edge-triggered requested but not supported by this backend")

// Mask is a bitset of the readiness conditions a Desc subscribes to.
type Mask uint32

// Mask bits. EdgeTriggered is carried in the mask so Add/Del can see it
// alongside Read/Write when deciding how to program the backend.
const (
	Read Mask = 1 << iota
	Write
	EdgeTriggered
)

// Has reports whether m contains all bits of other.
func (m Mask) Has(other Mask) bool { return m&other == other }

// FeatureBits describes capabilities a backend does or doesn't provide,
// mirroring spec.md §4.2's metadata bit-array.
type FeatureBits uint32

// Feature bits.
const (
	// FeatureEdgeTriggered means the backend can deliver edge-triggered
	// notifications; backends without this bit must reject any Desc
	// that requests EdgeTriggered (spec.md's Open Question resolves to
	// an explicit error rather than a silent downgrade).
	FeatureEdgeTriggered FeatureBits = 1 << iota
	// FeatureO1Add means Add/Del are O(1) (as opposed to, e.g., a
	// select-style backend that rebuilds its fd set).
	FeatureO1Add
	// FeatureFDsDisjointFromInts means descriptors are not small dense
	// integers (relevant to windows-style handle tables; unused by the
	// unix backends implemented here, kept for API completeness).
	FeatureFDsDisjointFromInts
	// FeatureReinitAfterFork means the backend's kernel-side state does
	// not survive fork and must be recreated, with every event
	// re-registered from the master list (spec.md §4.7 fork safety).
	FeatureReinitAfterFork
)

// Has reports whether f contains all bits of other.
func (f FeatureBits) Has(other FeatureBits) bool { return f&other == other }

// Desc is the backend-private registration record for one file
// descriptor: the fd itself, its currently-subscribed mask, and an
// opaque Data pointer the backend passes back unexamined via
// ActivateFunc (the fd map stores its own bookkeeping handle there).
// FDInfo is the backend-declared per-fd scratch area (spec.md §4.3); it
// is allocated by the fd map, not by the backend.
type Desc struct {
	FD     int
	Mask   Mask
	Data   interface{}
	FDInfo []byte
}

// ActivateFunc is called by a backend's Dispatch for every readiness
// report it observes; res carries every direction bit of that report.
type ActivateFunc func(desc *Desc, res Mask)

// Backend is the pluggable readiness-poller contract (spec.md §4.2): a
// table of operations plus metadata, selected once per Reactor at
// Create time.
type Backend interface {
	// Name returns the backend's name (e.g. "epoll", "kqueue", "poll").
	Name() string
	// Features returns the backend's capability bits.
	Features() FeatureBits
	// FDInfoLen returns the number of scratch bytes this backend wants
	// reserved per fd in the fd map's entries.
	FDInfoLen() int
	// Add applies a subscription delta, enabling newMask (a superset or
	// modification of oldMask) for desc.FD. Idempotent; accepts
	// oldMask == newMask.
	Add(desc *Desc, oldMask, newMask Mask) error
	// Del applies a subscription delta, disabling dropMask for desc.FD.
	// Symmetric with Add.
	Del(desc *Desc, oldMask, dropMask Mask) error
	// Dispatch blocks up to timeout (negative means indefinite) waiting
	// for readiness, calling activate for every ready Desc before
	// returning. Returns a *TransientError on EINTR-equivalents; the
	// loop continues without counting the iteration as failed.
	Dispatch(timeout time.Duration, activate ActivateFunc) error
	// Close releases backend resources.
	Close() error
}

// ChangelistConfigurer is implemented by backends that can batch their
// Add/Del calls into a changelist flushed just before the next wait,
// coalescing repeated subscription changes against the same fd within
// one iteration (spec.md §6 epoll-use-changelist). Backends without
// this capability (kqueue, poll) simply don't implement it; Create
// checks for it with a type assertion rather than every Backend
// carrying a no-op UseChangelist method.
type ChangelistConfigurer interface {
	UseChangelist(enabled bool)
}

// TransientError marks a Dispatch failure the loop should absorb and
// retry rather than treat as fatal (spec.md §4.2, §7 "transient").
type TransientError struct{ Err error }

func (e *TransientError) Error() string { return "backend: transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a *TransientError.
func Transient(err error) error { return &TransientError{Err: err} }

// IsTransient reports whether err is a *TransientError.
func IsTransient(err error) bool {
	_, ok := err.(*TransientError)
	return ok
}
