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

	"github.com/pkg/errors"
)

// Kind classifies reactor errors so callers can branch on failure category
// instead of matching error strings.
type Kind int

// Error kinds, as described by the reactor's failure taxonomy.
const (
	// KindInvalidArg denotes a contradictory mask, out-of-range priority,
	// or a re-entrant loop call.
	KindInvalidArg Kind = iota
	// KindNotRegistered denotes that the operation required a registered
	// event. Non-fatal for Del.
	KindNotRegistered
	// KindBackendRefused denotes that the OS call failed permanently for
	// the given fd/mask.
	KindBackendRefused
	// KindTransient denotes an EINTR-like condition; the loop absorbs and
	// retries without counting the iteration as failed.
	KindTransient
	// KindOOM denotes an allocation failure. The reactor remains
	// consistent after this error is returned.
	KindOOM
	// KindClockSkew denotes an observed monotonic clock reversal. The
	// reactor logs it as a warning and does not rebase pending deadlines;
	// it is never returned to callers, but defined here for completeness
	// of the taxonomy and for log messages.
	KindClockSkew
	// KindNoBackend denotes that no backend could be selected for the
	// current configuration and platform.
	KindNoBackend
	// KindReentrant denotes a recursive call to Loop/Dispatch on the same
	// Reactor from the thread already running it.
	KindReentrant
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindInvalidArg:
		return "invalid-arg"
	case KindNotRegistered:
		return "not-registered"
	case KindBackendRefused:
		return "backend-refused"
	case KindTransient:
		return "transient"
	case KindOOM:
		return "oom"
	case KindClockSkew:
		return "clock-skew"
	case KindNoBackend:
		return "no-backend-available"
	case KindReentrant:
		return "reentrant"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the concrete error type returned by public reactor APIs. It
// always carries a Kind so callers can use errors.As/Is without string
// matching, and wraps the underlying cause (often a wrapped syscall error)
// the way tnet's backend wrapper wraps os.NewSyscallError results.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tevent: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("tevent: %s: %s", e.Op, e.Kind)
}

// Unwrap returns the wrapped cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind.
func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == te.Kind
}

// newError builds an *Error, wrapping cause with op context when non-nil.
func newError(kind Kind, op string, cause error) *Error {
	if cause != nil {
		cause = errors.Wrap(cause, op)
	}
	return &Error{Kind: kind, Op: op, Err: cause}
}

var (
	// ErrInvalidArg is returned for contradictory event kinds, an
	// out-of-range priority, or other argument-level misuse.
	ErrInvalidArg = &Error{Kind: KindInvalidArg, Op: "invalid-arg"}
	// ErrNotRegistered is returned when an operation requires a
	// registered event and the event is not registered.
	ErrNotRegistered = &Error{Kind: KindNotRegistered, Op: "not-registered"}
	// ErrBackendRefused is returned when the backend declines a
	// subscription change.
	ErrBackendRefused = &Error{Kind: KindBackendRefused, Op: "backend-refused"}
	// ErrNoBackendAvailable is returned by Create when no backend could
	// be selected for the given configuration and platform.
	ErrNoBackendAvailable = &Error{Kind: KindNoBackend, Op: "no-backend-available"}
	// ErrReentrant is returned by Loop/Dispatch when called recursively
	// on the thread already driving the loop.
	ErrReentrant = &Error{Kind: KindReentrant, Op: "reentrant"}
)
