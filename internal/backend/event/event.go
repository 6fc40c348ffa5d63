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

// Package event defines the raw epoll_event layout the epoll backend
// passes to epoll_ctl/epoll_wait directly, plus the Data slot accessors
// used to stash a *backend.Desc pointer in it.
//
// golang.org/x/sys/unix.EpollEvent's own field layout for the 8-byte data
// union varies by architecture: on amd64/386/arm its Fd/Pad fields sit
// immediately after Events with no gap, so a pointer-sized write starting
// at &evt.Fd lands correctly; on arm64 the generated struct inserts an
// extra 4-byte PadFd before Fd, shifting the union's real start. Rather
// than special-case every architecture at the call site, every variant
// here defines its own EpollEvent with an explicit Data slot and getter/
// setter pair, generalizing the three architecture overrides
// trpc-go/tnet's internal/poller/event package carries for exactly this
// reason.
package event
