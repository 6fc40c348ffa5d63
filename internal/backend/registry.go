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

package backend

import "fmt"

// Builder constructs a fresh Backend instance, failing if the OS refuses
// the underlying syscalls (e.g. resource exhaustion).
type Builder func() (Backend, error)

// candidate pairs a backend name with its builder and a priority: lower
// priority values are tried first, mirroring spec.md §4.2's "candidate
// backends are tried in a fixed priority order".
type candidate struct {
	name     string
	priority int
	build    Builder
}

var candidates []candidate

// Register adds a backend to the selection table. Platform-specific
// init() functions (in epoll_linux.go, kqueue_unix.go and poll_unix.go)
// call this;
// lower priority values are preferred.
func Register(name string, priority int, build Builder) {
	candidates = append(candidates, candidate{name: name, priority: priority, build: build})
}

// Select tries every registered backend in priority order, skipping any
// whose name is in avoid or whose feature bits do not satisfy require.
// It returns the first backend that builds successfully, or
// ErrNoBackendAvailable if none do.
func Select(avoid map[string]bool, require FeatureBits) (Backend, error) {
	ordered := make([]candidate, len(candidates))
	copy(ordered, candidates)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].priority < ordered[j-1].priority; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	var lastErr error
	for _, c := range ordered {
		if avoid[c.name] {
			continue
		}
		b, err := c.build()
		if err != nil {
			lastErr = err
			continue
		}
		if !b.Features().Has(require) {
			_ = b.Close()
			continue
		}
		return b, nil
	}
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoBackendAvailable, lastErr)
	}
	return nil, ErrNoBackendAvailable
}

// Names returns the names of every backend registered for this platform,
// in priority order, for diagnostics (EVENT_SHOW_METHOD).
func Names() []string {
	ordered := make([]candidate, len(candidates))
	copy(ordered, candidates)
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].priority < ordered[j-1].priority; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	names := make([]string, len(ordered))
	for i, c := range ordered {
		names[i] = c.name
	}
	return names
}
