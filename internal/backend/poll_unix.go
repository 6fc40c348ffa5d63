// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package backend

import (
	"os"
	"time"

	"golang.org/x/sys/unix"

	"trpc.group/trpc-go/tevent/internal/locker"
)

// pollPriority is deliberately last: poll(2) is O(n) per Dispatch call
// and carries no edge-triggered mode, so epoll/kqueue are always
// preferred when available. It exists as the portable fallback spec.md
// §4.2 requires for platforms (or sandboxes) where the native backend
// is unavailable, generalizing what a select(2)-style backend would
// offer without that call's FD_SETSIZE ceiling.
const pollPriority = 100

func init() {
	Register("poll", pollPriority, func() (Backend, error) { return newPoll() })
}

// poll is the level-triggered, O(n)-per-wait fallback backend built on
// golang.org/x/sys/unix.Poll. Unlike epoll/kqueue it cannot stash a
// *Desc inside a kernel-owned event slot, so it keeps its own fd->*Desc
// table guarded by internal/locker's spinlock, the same primitive
// trpc-go/tnet uses to guard its Desc arena. Thread wakeup is the
// reactor's responsibility (a plain registered fd via the ordinary Add
// path); poll carries no internal notifier of its own.
type poll struct {
	mu    locker.Locker
	descs map[int]*Desc
	masks map[int]Mask
}

func newPoll() (Backend, error) {
	return &poll{
		descs: make(map[int]*Desc),
		masks: make(map[int]Mask),
	}, nil
}

// Name implements Backend.
func (p *poll) Name() string { return "poll" }

// Features implements Backend.
func (p *poll) Features() FeatureBits { return 0 }

// FDInfoLen implements Backend.
func (p *poll) FDInfoLen() int { return 0 }

// Add implements Backend. Rejects EdgeTriggered rather than silently
// running the fd level-triggered: spec.md's Open Question on
// EDGE_TRIGGERED/backend mismatch resolves to an explicit error, not a
// downgrade.
func (p *poll) Add(desc *Desc, oldMask, newMask Mask) error {
	if newMask.Has(EdgeTriggered) {
		return errEdgeTriggeredUnsupported
	}
	p.mu.Lock()
	p.descs[desc.FD] = desc
	p.masks[desc.FD] = newMask
	p.mu.Unlock()
	return nil
}

// Del implements Backend.
func (p *poll) Del(desc *Desc, oldMask, dropMask Mask) error {
	remain := oldMask &^ dropMask
	p.mu.Lock()
	if remain == 0 {
		delete(p.descs, desc.FD)
		delete(p.masks, desc.FD)
	} else {
		p.masks[desc.FD] = remain
	}
	p.mu.Unlock()
	return nil
}

// Dispatch implements Backend.
func (p *poll) Dispatch(timeout time.Duration, activate ActivateFunc) error {
	p.mu.Lock()
	fds := make([]unix.PollFd, 0, len(p.descs))
	order := make([]*Desc, 0, len(p.descs))
	for fd, desc := range p.descs {
		var events int16
		mask := p.masks[fd]
		if mask.Has(Read) {
			events |= unix.POLLIN
		}
		if mask.Has(Write) {
			events |= unix.POLLOUT
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: events})
		order = append(order, desc)
	}
	p.mu.Unlock()

	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}
	n, err := unix.Poll(fds, msec)
	if err != nil {
		if err == unix.EINTR {
			return Transient(err)
		}
		return os.NewSyscallError("poll", err)
	}
	if n == 0 {
		return nil
	}
	for i, pfd := range fds {
		if pfd.Revents == 0 {
			continue
		}
		var res Mask
		hup := pfd.Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0
		if pfd.Revents&unix.POLLIN != 0 || hup {
			res |= Read
		}
		if pfd.Revents&unix.POLLOUT != 0 || hup {
			res |= Write
		}
		if res != 0 {
			activate(order[i], res)
		}
	}
	return nil
}

// Close implements Backend.
func (p *poll) Close() error { return nil }
