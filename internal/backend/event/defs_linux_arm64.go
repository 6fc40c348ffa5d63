// Copyright 2022 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
//
// This file may have been modified; modifications tracked alongside the
// rest of this module.

package event

import "unsafe"

// EpollEvent defines epoll event data. arm64 requires 8-byte alignment
// for the data union, so the kernel struct carries a 4-byte padding word
// between Events and the union that the amd64 layout doesn't need.
type EpollEvent struct {
	Events uint32
	_pad   uint32
	Data   [8]byte // to match amd64
}

// SetDesc stashes p in the event's data union.
func SetDesc(e *EpollEvent, p unsafe.Pointer) {
	*(*unsafe.Pointer)(unsafe.Pointer(&e.Data[0])) = p
}

// GetDesc recovers the pointer stashed by SetDesc.
func GetDesc(e *EpollEvent) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&e.Data[0]))
}
