// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// This file may have been modified; modifications tracked alongside the
// rest of this module.

package event

import "unsafe"

// EpollEvent defines epoll event data.
type EpollEvent struct {
	Events    uint32
	pad_cgo_0 [4]byte
	Data      [8]byte // unaligned uintptr
}

// SetDesc stashes p in the event's data union.
func SetDesc(e *EpollEvent, p unsafe.Pointer) {
	*(*unsafe.Pointer)(unsafe.Pointer(&e.Data[0])) = p
}

// GetDesc recovers the pointer stashed by SetDesc.
func GetDesc(e *EpollEvent) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&e.Data[0]))
}
