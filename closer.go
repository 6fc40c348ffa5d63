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

import "trpc.group/trpc-go/tevent/internal/safejob"

// closer composes the safejob primitives that serialize a Reactor's
// callback-invocation critical section against concurrent shutdown and
// against cross-thread Del calls. callbackJob blocks around every
// callback invocation; a cross-thread Del that targets the event
// currently running acquires and immediately releases it, which is
// exactly the condition-variable-style wait spec.md §5 requires
// ("Cross-thread del while the target callback is running blocks ...
// until the callback returns"). closeJob guards Close from running
// concurrently with Loop teardown more than once.
type closer struct {
	callbackJob safejob.ExclusiveBlockJob
	closeJob    safejob.OnceJob
}

// closed returns whether the reactor has been closed.
func (c *closer) closed() bool {
	return c.closeJob.Closed()
}

// beginCallback marks the start of a callback invocation. Returns false
// if the reactor is already closed.
func (c *closer) beginCallback() bool {
	if !c.callbackJob.Begin() {
		return false
	}
	if c.closed() {
		c.callbackJob.End()
		return false
	}
	return true
}

// endCallback marks the end of a callback invocation, releasing any
// cross-thread Del blocked waiting for it.
func (c *closer) endCallback() {
	c.callbackJob.End()
}

// waitForRunningCallback blocks until no callback is currently running,
// then returns immediately. Used by Del when the target event is the
// one currently active.
func (c *closer) waitForRunningCallback() {
	if c.callbackJob.Begin() {
		c.callbackJob.End()
	}
}

// close marks the reactor closed, running closeFn exactly once no
// matter how many goroutines call close concurrently.
func (c *closer) close(closeFn func()) {
	if c.closeJob.Begin() {
		closeFn()
	}
}
