// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux && !(arm64 || loong64 || mips || mipsle)

package event

import "unsafe"

// EpollEvent mirrors the kernel's struct epoll_event on architectures
// where the 8-byte data union starts immediately after Events, with no
// compiler-inserted alignment gap.
type EpollEvent struct {
	Events uint32
	Fd     int32
	Pad    int32
}

// SetDesc stashes p in the event's data union.
func SetDesc(e *EpollEvent, p unsafe.Pointer) {
	*(*unsafe.Pointer)(unsafe.Pointer(&e.Fd)) = p
}

// GetDesc recovers the pointer stashed by SetDesc.
func GetDesc(e *EpollEvent) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&e.Fd))
}
