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

// Package clock provides the reactor's cached monotonic time source, with
// detection of the monotonic reading stepping backwards between samples.
//
// Only the loop thread may call Refresh; Now is safe to read from any
// goroutine because it is backed by an atomic value, matching the
// single-writer/multi-reader discipline the reactor maintains over its
// cached deadline.
package clock

import (
	"time"

	"go.uber.org/atomic"
)

// Clock owns the cached "now" sampled once per loop iteration. Exposing
// only Now (read) and Refresh (write, loop-thread only) prevents the
// accidental staleness that a directly-exported time.Time field would
// invite.
type Clock struct {
	now          atomic.Time
	lastWall     time.Time
	lastWallSecs int64
	skewed       atomic.Bool
	noCache      bool
}

// New creates a Clock primed with the current monotonic time, caching
// it across calls to Now until the next Refresh.
func New() *Clock {
	return newClock(false)
}

// NewUncached creates a Clock whose Now always samples time.Now
// directly rather than returning the value cached at the last Refresh.
// Backs the reactor's no-cache-time/precise-timer config options.
func NewUncached() *Clock {
	return newClock(true)
}

func newClock(noCache bool) *Clock {
	c := &Clock{noCache: noCache}
	now := time.Now()
	c.now.Store(now)
	c.lastWall = now
	c.lastWallSecs = now.Unix()
	return c
}

// Now returns the cached time sampled at the last Refresh call, or, in
// uncached mode (NewUncached), the current time sampled fresh on every
// call. It is safe to call from any goroutine.
func (c *Clock) Now() time.Time {
	if c.noCache {
		return time.Now()
	}
	return c.now.Load()
}

// Skewed reports whether the most recent Refresh detected the monotonic
// clock going backwards relative to the previous cached sample.
func (c *Clock) Skewed() bool {
	return c.skewed.Load()
}

// Refresh resamples the cached time. It must only be called from the loop
// thread. It returns the delta (new - old); a negative delta indicates
// skew. The reactor does not use this delta and does not rebase pending
// deadlines.
//
// The check that backs Skewed is only recomputed once per cached-clock
// second, bounding the cost of the comparison on workloads that call
// Refresh every iteration.
func (c *Clock) Refresh() time.Duration {
	old := c.now.Load()
	now := time.Now()
	delta := now.Sub(old)
	c.now.Store(now)

	if now.Unix() != c.lastWallSecs {
		c.skewed.Store(delta < 0)
		c.lastWall = now
		c.lastWallSecs = now.Unix()
	}
	return delta
}

// Rebase shifts a deadline by delta, used to preserve the remaining
// duration of a pending timer when Refresh reports negative skew.
func Rebase(deadline time.Time, delta time.Duration) time.Time {
	return deadline.Add(delta)
}
