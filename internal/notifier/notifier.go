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

// Package notifier implements the self-pipe abstraction used to preempt
// a blocked dispatch call (spec.md §4.9, §4.10): a cross-thread caller
// arms the notifier, the backend observes its fd as an ordinary readable
// fd registered through the backend's Add, and the owner drains it
// before running any queued jobs.
//
// This generalizes the eventfd wakeup poller_epoll.go wires up ad hoc
// (an fd registered for Readable, written to by notify(), drained in
// handle()) into a reusable type that works with every fd-based backend.
package notifier

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

// Notifier is a one-byte-payload cross-thread wakeup channel. Arm is safe
// to call from any goroutine and coalesces concurrent callers into a
// single pending wakeup (is_notify_pending in spec.md §4.10); Drain must
// be called from the backend's dispatch handler once the fd is observed
// readable.
type Notifier struct {
	fd      int
	writeFD int
	armed   atomic.Bool
	buf     [64]byte
}

// New creates a Notifier backed by a portable pipe(2) pair. The reactor
// uses it as its wakeup channel with every backend.
func New() (*Notifier, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, errors.Wrap(os.NewSyscallError("pipe2", err), "notifier: create")
	}
	return &Notifier{fd: fds[0], writeFD: fds[1]}, nil
}

// NewEventfd creates a Notifier backed by a single eventfd descriptor
// (Linux only), the same wakeup mechanism the Go runtime's netpoller
// uses. The reactor itself creates its notifier with New.
func NewEventfd() (*Notifier, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(os.NewSyscallError("eventfd", err), "notifier: create")
	}
	return &Notifier{fd: fd, writeFD: fd}, nil
}

// FD returns the descriptor backends should register for readability.
func (n *Notifier) FD() int {
	return n.fd
}

// Arm requests a wakeup, writing to the underlying fd at most once per
// drain cycle regardless of how many goroutines call Arm concurrently.
func (n *Notifier) Arm() error {
	if !n.armed.CompareAndSwap(false, true) {
		return nil
	}
	payload := n.buf[:1]
	if n.writeFD == n.fd {
		// eventfd only accepts an 8-byte counter increment.
		payload = []byte{1, 0, 0, 0, 0, 0, 0, 0}
	}
	for {
		_, err := unix.Write(n.writeFD, payload)
		if err == unix.EINTR {
			continue
		}
		if err != nil && err != unix.EAGAIN {
			return errors.Wrap(os.NewSyscallError("write", err), "notifier: arm")
		}
		return nil
	}
}

// Drain clears any pending wakeup and resets the armed flag so a
// subsequent Arm call writes again. It must be called once the
// notifier's fd is observed readable.
func (n *Notifier) Drain() {
	for {
		_, err := unix.Read(n.fd, n.buf[:])
		if err == unix.EINTR {
			continue
		}
		break
	}
	n.armed.Store(false)
}

// Close releases the underlying descriptor(s).
func (n *Notifier) Close() error {
	if n.writeFD != n.fd {
		_ = unix.Close(n.writeFD)
	}
	return os.NewSyscallError("close", unix.Close(n.fd))
}
