// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build linux
// +build linux

package backend

import (
	"os"
	"sync"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"trpc.group/trpc-go/tevent/internal/backend/event"
)

const (
	rflags = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR | unix.EPOLLPRI
	wflags = unix.EPOLLOUT | unix.EPOLLHUP | unix.EPOLLERR

	epollPriority     = 0
	defaultEventCount = 64
)

func init() {
	Register("epoll", epollPriority, func() (Backend, error) { return newEpoll() })
}

// epoll is the edge-capable readiness backend used on Linux. It is the
// generalization of trpc-go/tnet's internal/poller/poller_epoll.go: the
// same "classify HUP/ERR before READ/WRITE because they can coexist"
// handling, now driven through the Backend contract's Add/Del/Dispatch
// instead of the Control(Event) switch tnet used for its five fixed
// operations. Thread wakeup is the reactor's responsibility (a plain
// registered fd via the ordinary Add path); epoll carries no internal
// notifier of its own.
type epoll struct {
	fd     int
	events []event.EpollEvent

	mu            sync.Mutex
	useChangelist bool
	kernelMask    map[int]Mask
	pendingMask   map[int]Mask
	pendingDescs  map[int]*Desc
}

func newEpoll() (Backend, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epoll{
		fd:           fd,
		events:       make([]event.EpollEvent, defaultEventCount),
		kernelMask:   make(map[int]Mask),
		pendingMask:  make(map[int]Mask),
		pendingDescs: make(map[int]*Desc),
	}, nil
}

// UseChangelist implements backend.ChangelistConfigurer.
func (ep *epoll) UseChangelist(enabled bool) {
	ep.mu.Lock()
	ep.useChangelist = enabled
	ep.mu.Unlock()
}

// Name implements Backend.
func (ep *epoll) Name() string { return "epoll" }

// Features implements Backend.
func (ep *epoll) Features() FeatureBits {
	return FeatureEdgeTriggered | FeatureO1Add | FeatureReinitAfterFork
}

// FDInfoLen implements Backend.
func (ep *epoll) FDInfoLen() int { return 0 }

func toEpollFlags(m Mask) uint32 {
	var flags uint32
	if m.Has(Read) {
		flags |= rflags
	}
	if m.Has(Write) {
		flags |= wflags
	}
	if m.Has(EdgeTriggered) {
		flags |= unix.EPOLLET
	}
	return flags
}

// Add implements Backend. When a changelist is enabled (WithEpollUse
// Changelist), the epoll_ctl call is deferred to the next flushChange
// list instead of issued immediately, so repeated Add/Del pairs against
// the same fd within one loop iteration coalesce into at most one
// syscall.
func (ep *epoll) Add(desc *Desc, oldMask, newMask Mask) error {
	ep.mu.Lock()
	if ep.useChangelist {
		ep.pendingMask[desc.FD] = newMask
		ep.pendingDescs[desc.FD] = desc
		ep.mu.Unlock()
		return nil
	}
	ep.mu.Unlock()

	evt := event.EpollEvent{Events: toEpollFlags(newMask)}
	event.SetDesc(&evt, unsafe.Pointer(desc))
	op := unix.EPOLL_CTL_MOD
	if oldMask == 0 {
		op = unix.EPOLL_CTL_ADD
	}
	if err := epollCtl(ep.fd, op, desc.FD, &evt); err != nil {
		return errors.Wrap(os.NewSyscallError("epoll_ctl", err), "epoll: add")
	}
	return nil
}

// Del implements Backend.
func (ep *epoll) Del(desc *Desc, oldMask, dropMask Mask) error {
	remain := oldMask &^ dropMask &^ EdgeTriggered

	ep.mu.Lock()
	if ep.useChangelist {
		ep.pendingMask[desc.FD] = remain
		ep.pendingDescs[desc.FD] = desc
		ep.mu.Unlock()
		return nil
	}
	ep.mu.Unlock()

	if remain == 0 {
		if err := epollCtl(ep.fd, unix.EPOLL_CTL_DEL, desc.FD, nil); err != nil {
			return errors.Wrap(os.NewSyscallError("epoll_ctl del", err), "epoll: del")
		}
		return nil
	}
	return ep.Add(desc, oldMask, remain|(oldMask&EdgeTriggered))
}

// flushChangelist applies every pending Add/Del recorded since the last
// flush, issuing at most one epoll_ctl call per distinct fd touched
// (ADD if the kernel has never seen the fd, MOD if it has, DEL if the
// final pending mask is empty; none if the mask is empty and the kernel
// has never seen the fd), then clears the pending set.
func (ep *epoll) flushChangelist() error {
	ep.mu.Lock()
	pendingMask := ep.pendingMask
	pendingDescs := ep.pendingDescs
	ep.pendingMask = make(map[int]Mask)
	ep.pendingDescs = make(map[int]*Desc)
	ep.mu.Unlock()

	for fd, mask := range pendingMask {
		_, wasKnown := ep.kernelMask[fd]
		if mask == 0 {
			if wasKnown {
				if err := epollCtl(ep.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
					return errors.Wrap(os.NewSyscallError("epoll_ctl del", err), "epoll: flush")
				}
				delete(ep.kernelMask, fd)
			}
			continue
		}
		evt := event.EpollEvent{Events: toEpollFlags(mask)}
		event.SetDesc(&evt, unsafe.Pointer(pendingDescs[fd]))
		op := unix.EPOLL_CTL_MOD
		if !wasKnown {
			op = unix.EPOLL_CTL_ADD
		}
		if err := epollCtl(ep.fd, op, fd, &evt); err != nil {
			return errors.Wrap(os.NewSyscallError("epoll_ctl", err), "epoll: flush")
		}
		ep.kernelMask[fd] = mask
	}
	return nil
}

// Dispatch implements Backend.
func (ep *epoll) Dispatch(timeout time.Duration, activate ActivateFunc) error {
	ep.mu.Lock()
	useChangelist := ep.useChangelist
	ep.mu.Unlock()
	if useChangelist {
		if err := ep.flushChangelist(); err != nil {
			return err
		}
	}

	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}
	n, err := epollWait(ep.fd, ep.events, msec)
	if err != nil {
		if err == unix.EINTR {
			return Transient(err)
		}
		return os.NewSyscallError("epoll_wait", err)
	}
	for i := 0; i < n; i++ {
		ev := &ep.events[i]
		desc := (*Desc)(event.GetDesc(ev))
		if desc == nil {
			continue
		}
		var res Mask
		hup := ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP|unix.EPOLLERR) != 0
		if ev.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 || hup {
			res |= Read
		}
		if ev.Events&unix.EPOLLOUT != 0 || hup {
			res |= Write
		}
		if res != 0 {
			activate(desc, res)
		}
	}
	return nil
}

// Close implements Backend.
func (ep *epoll) Close() error {
	return os.NewSyscallError("close", unix.Close(ep.fd))
}

func epollWait(epfd int, events []event.EpollEvent, msec int) (int, error) {
	var r0 uintptr
	var err error
	_p0 := unsafe.Pointer(&events[0])
	if msec == 0 {
		r0, _, err = unix.RawSyscall6(unix.SYS_EPOLL_PWAIT, uintptr(epfd), uintptr(_p0), uintptr(len(events)), 0, 0, 0)
	} else {
		r0, _, err = unix.Syscall6(unix.SYS_EPOLL_PWAIT, uintptr(epfd), uintptr(_p0), uintptr(len(events)), uintptr(msec), 0, 0)
	}
	if err == unix.Errno(0) {
		err = nil
	}
	return int(r0), err
}

func epollCtl(epfd, op, fd int, evt *event.EpollEvent) error {
	_, _, err := unix.RawSyscall6(unix.SYS_EPOLL_CTL, uintptr(epfd), uintptr(op), uintptr(fd), uintptr(unsafe.Pointer(evt)), 0, 0)
	if err == unix.Errno(0) {
		return nil
	}
	return err
}
