// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

package backend

import (
	"os"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	kqueuePriority    = 0
	defaultKeventSize = 64
)

func init() {
	Register("kqueue", kqueuePriority, func() (Backend, error) { return newKqueue() })
}

// kqueue is the edge-capable readiness backend used on the BSDs and
// Darwin. Generalizes trpc-go/tnet's internal/poller/poller_kqueue.go:
// the same EV_EOF/EV_ERROR before READ/WRITE handling, now driven
// through Add/Del/Dispatch instead of the fixed Control(Event) switch.
// Unlike epoll, Kevent_t's Udata field is already a pointer-sized slot
// on every kqueue platform, so no per-architecture layout override is
// needed the way event.EpollEvent requires. Thread wakeup is the
// reactor's responsibility (a plain registered fd via the ordinary Add
// path); kqueue carries no internal EVFILT_USER trigger of its own.
type kqueue struct {
	fd     int
	events []unix.Kevent_t
}

func newKqueue() (Backend, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return &kqueue{fd: fd, events: make([]unix.Kevent_t, defaultKeventSize)}, nil
}

// Name implements Backend.
func (k *kqueue) Name() string { return "kqueue" }

// Features implements Backend.
func (k *kqueue) Features() FeatureBits {
	return FeatureEdgeTriggered | FeatureO1Add
}

// FDInfoLen implements Backend.
func (k *kqueue) FDInfoLen() int { return 0 }

func keventFlags(m Mask) uint16 {
	flags := uint16(unix.EV_ADD | unix.EV_ENABLE | unix.EV_RECEIPT)
	if m.Has(EdgeTriggered) {
		flags |= unix.EV_CLEAR
	}
	return flags
}

func (k *kqueue) submit(evts ...unix.Kevent_t) error {
	_, err := unix.Kevent(k.fd, evts, nil, nil)
	if err != nil && err != unix.EINPROGRESS {
		return err
	}
	return nil
}

// Add implements Backend.
func (k *kqueue) Add(desc *Desc, oldMask, newMask Mask) error {
	flags := keventFlags(newMask)
	var evts []unix.Kevent_t
	if newMask.Has(Read) {
		evt := unix.Kevent_t{Ident: newKeventIdent(desc.FD), Filter: unix.EVFILT_READ, Flags: flags}
		*(**Desc)(unsafe.Pointer(&evt.Udata)) = desc
		evts = append(evts, evt)
	}
	if newMask.Has(Write) {
		evt := unix.Kevent_t{Ident: newKeventIdent(desc.FD), Filter: unix.EVFILT_WRITE, Flags: flags}
		*(**Desc)(unsafe.Pointer(&evt.Udata)) = desc
		evts = append(evts, evt)
	}
	if err := k.submit(evts...); err != nil {
		return errors.Wrap(os.NewSyscallError("kevent", err), "kqueue: add")
	}
	return nil
}

// Del implements Backend.
func (k *kqueue) Del(desc *Desc, oldMask, dropMask Mask) error {
	var evts []unix.Kevent_t
	if dropMask.Has(Read) {
		evts = append(evts, unix.Kevent_t{Ident: newKeventIdent(desc.FD), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE})
	}
	if dropMask.Has(Write) {
		evts = append(evts, unix.Kevent_t{Ident: newKeventIdent(desc.FD), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE})
	}
	if len(evts) == 0 {
		return nil
	}
	if err := k.submit(evts...); err != nil {
		return errors.Wrap(os.NewSyscallError("kevent", err), "kqueue: del")
	}
	return nil
}

// Dispatch implements Backend.
func (k *kqueue) Dispatch(timeout time.Duration, activate ActivateFunc) error {
	var ts unix.Timespec
	tsp := &ts
	if timeout < 0 {
		tsp = nil
	} else {
		ts = unix.NsecToTimespec(int64(timeout))
	}
	n, err := unix.Kevent(k.fd, nil, k.events, tsp)
	if n < 0 && err == unix.EINTR {
		return Transient(err)
	}
	if err != nil {
		return os.NewSyscallError("kevent", err)
	}
	for i := 0; i < n; i++ {
		ev := k.events[i]
		desc := *(**Desc)(unsafe.Pointer(&ev.Udata))
		var res Mask
		hup := ev.Flags&(unix.EV_EOF|unix.EV_ERROR) != 0
		if ev.Filter == unix.EVFILT_READ || hup {
			res |= Read
		}
		if ev.Filter == unix.EVFILT_WRITE || hup {
			res |= Write
		}
		if res != 0 {
			activate(desc, res)
		}
	}
	return nil
}

// Close implements Backend.
func (k *kqueue) Close() error {
	return os.NewSyscallError("close", unix.Close(k.fd))
}
