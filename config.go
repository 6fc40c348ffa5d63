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

import (
	"os"

	"trpc.group/trpc-go/tevent/internal/backend"
)

// Option configures a Reactor at Create time, following the same
// functional-options shape trpc-go/tnet uses for its service options:
// a thin wrapper around an unexported mutator so the option set can
// grow without breaking callers.
type Option struct {
	f func(*config)
}

// config is the resolved set of knobs Create consults; spec.md §6's
// Config options.
type config struct {
	avoidMethods    map[string]bool
	requireFeatures backend.FeatureBits
	noLock          bool
	ignoreEnv       bool
	startupIOCP     bool
	preciseTimer    bool
	noCacheTime     bool
	epollChangelist bool
	showMethod      bool
	numPriorities   int
	defaultPriority int
}

const defaultNumPriorities = 3

func newConfig(opts ...Option) *config {
	c := &config{
		avoidMethods:  make(map[string]bool),
		numPriorities: defaultNumPriorities,
	}
	for _, o := range opts {
		o.f(c)
	}
	c.defaultPriority = c.numPriorities / 2
	if !c.ignoreEnv {
		c.applyEnv()
	}
	return c
}

// applyEnv honors the EVENT_NO*/EVENT_PRECISE_TIMER/EVENT_SHOW_METHOD
// environment variables spec.md §6 lists, unless WithIgnoreEnv was
// given. EVENT_SHOW_METHOD's effect (logging the backend Select picked)
// happens in Create, once a backend is actually chosen.
func (c *config) applyEnv() {
	envAvoid := map[string]string{
		"EVENT_NOKQUEUE": "kqueue",
		"EVENT_NOPOLL":   "poll",
		"EVENT_NOSELECT": "select",
		"EVENT_NOEPOLL":  "epoll",
		"EVENT_NODEVPOLL": "devpoll",
		"EVENT_NOEVPORT":  "evport",
		"EVENT_NOWIN32":   "win32",
	}
	for env, name := range envAvoid {
		if _, ok := os.LookupEnv(env); ok {
			c.avoidMethods[name] = true
		}
	}
	if _, ok := os.LookupEnv("EVENT_PRECISE_TIMER"); ok {
		c.preciseTimer = true
	}
	if _, ok := os.LookupEnv("EVENT_SHOW_METHOD"); ok {
		c.showMethod = true
	}
}

// WithAvoidMethod excludes a backend by name from Select (spec.md §6
// avoid_method). May be given multiple times.
func WithAvoidMethod(name string) Option {
	return Option{func(c *config) { c.avoidMethods[name] = true }}
}

// WithRequireFeatures rejects any backend whose feature bits do not
// satisfy required.
func WithRequireFeatures(required backend.FeatureBits) Option {
	return Option{func(c *config) { c.requireFeatures |= required }}
}

// WithNoLock disables the reactor's internal mutex (Reactor.mu becomes
// a no-op lock), for callers who guarantee single-threaded use of this
// Reactor and want to skip synchronization overhead. Misuse causes data
// races; the caller is responsible for the guarantee.
func WithNoLock() Option {
	return Option{func(c *config) { c.noLock = true }}
}

// WithIgnoreEnv disables honoring the EVENT_NO*/EVENT_PRECISE_TIMER
// environment variables.
func WithIgnoreEnv() Option {
	return Option{func(c *config) { c.ignoreEnv = true }}
}

// WithStartupIOCP requests completion-port backend initialization on
// platforms that support it. No-op: no completion-port backend is
// registered in this build (spec.md §1 Non-goals).
func WithStartupIOCP() Option {
	return Option{func(c *config) { c.startupIOCP = true }}
}

// WithPreciseTimer requests the most precise timer source the platform
// offers rather than the default cached-clock granularity. Go's
// runtime exposes exactly one monotonic clock (no separate coarse/fast
// source to pick between the way the C implementations this was ported
// from choose between CLOCK_MONOTONIC_COARSE and CLOCK_MONOTONIC), so
// here it resolves to the same uncached-clock behavior WithNoCacheTime
// requests: either option disables Clock's per-iteration caching.
func WithPreciseTimer() Option {
	return Option{func(c *config) { c.preciseTimer = true }}
}

// WithNoCacheTime disables per-iteration clock caching; Now() calls the
// underlying clock source on every use instead of reading the value
// cached at the start of the iteration.
func WithNoCacheTime() Option {
	return Option{func(c *config) { c.noCacheTime = true }}
}

// WithEpollUseChangelist enables batching epoll_ctl calls into a
// changelist applied just before the next epoll_wait, amortizing
// repeated Add/Del pairs against the same fd within one iteration.
// Takes effect only when the selected backend implements
// backend.ChangelistConfigurer (currently epoll); a no-op on every
// other backend.
func WithEpollUseChangelist() Option {
	return Option{func(c *config) { c.epollChangelist = true }}
}

// WithNumPriorities sets the number of activation queues (spec.md §4.1
// priority_init); legal only at Create time.
func WithNumPriorities(n int) Option {
	return Option{func(c *config) {
		if n > 0 {
			c.numPriorities = n
		}
	}}
}
