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

// Package metrics provides reactor runtime monitoring data: backend
// dispatch efficiency, timer heap churn, activation throughput, and
// common-timeout/signal coalescing, a good tool for tuning how many
// priority queues or common-timeout durations a reactor should use.
package metrics

import (
	"fmt"
	"time"

	"go.uber.org/atomic"
)

// All metrics definitions.
const (
	// Backend dispatch metrics.
	BackendDispatchCalls = iota
	BackendDispatchNoWait
	BackendEvents
	BackendTransientErrors
	BackendAddCalls
	BackendDelCalls

	// Timer heap metrics.
	HeapPushes
	HeapPops
	HeapFires

	// Common-timeout metrics.
	CommonTimeoutAdds
	CommonTimeoutExpires

	// Activation queue metrics.
	ActivationPushes
	ActivationRuns
	ActivationPreemptions

	// Deferred-callback metrics.
	DeferredPushes
	DeferredRuns

	// Signal metrics.
	SignalDeliveries
	SignalCoalesced

	// Thread-wakeup metrics.
	WakeupWrites
	WakeupDrains

	TaskAssigned
	Max
)

var (
	metrics [Max]atomic.Uint64
)

// Add metrics counter.
func Add(name int, delta uint64) {
	if name >= Max {
		return
	}
	metrics[name].Add(delta)
}

// Get one metric counter.
func Get(name int) uint64 {
	if name >= Max {
		return 0
	}
	return metrics[name].Load()
}

// GetAll get all metrics.
func GetAll() [Max]uint64 {
	var m [Max]uint64
	for i := range metrics {
		m[i] = metrics[i].Load()
	}
	return m
}

// ShowMetricsOfPeriod shows metric info of duration d from now on.
// It will block d duration, and then prints metrics info.
func ShowMetricsOfPeriod(d time.Duration) {
	old := GetAll()
	<-time.After(d)
	latest := GetAll()
	var m [Max]uint64
	for i := range metrics {
		m[i] = latest[i] - old[i]
	}
	showAll(m)
}

// ShowMetrics shows metric info in console.
func ShowMetrics() {
	m := GetAll()
	showAll(m)
}

func showAll(m [Max]uint64) {
	fmt.Println("######### reactor metrics (", time.Now().Format("2006-01-02 15:04:05"), ") ###########")
	showBackendMetrics(m)
	showTimerMetrics(m)
	showActivationMetrics(m)
	showSignalMetrics(m)
	fmt.Printf("%-59s: %d\n", "# number of task assigned (doTask)", m[TaskAssigned])
	fmt.Printf("\n")
}

func showBackendMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# BACKEND - number of dispatch calls", m[BackendDispatchCalls])
	fmt.Printf("%-59s: %d\n", "# BACKEND - number of dispatch calls with timeout=0", m[BackendDispatchNoWait])
	fmt.Printf("%-59s: %d\n", "# BACKEND - number of ready events observed", m[BackendEvents])
	fmt.Printf("%-59s: %d\n", "# BACKEND - number of transient (EINTR-like) errors absorbed", m[BackendTransientErrors])
	fmt.Printf("%-59s: %d\n", "# BACKEND - number of Add calls", m[BackendAddCalls])
	fmt.Printf("%-59s: %d\n", "# BACKEND - number of Del calls", m[BackendDelCalls])
	if m[BackendDispatchCalls] > 0 {
		fmt.Printf("%-59s: %.2f\n", "# BACKEND - average events per dispatch",
			float64(m[BackendEvents])/float64(m[BackendDispatchCalls]))
	}
}

func showTimerMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# TIMER - number of heap pushes", m[HeapPushes])
	fmt.Printf("%-59s: %d\n", "# TIMER - number of heap pops", m[HeapPops])
	fmt.Printf("%-59s: %d\n", "# TIMER - number of timer fires", m[HeapFires])
	fmt.Printf("%-59s: %d\n", "# TIMER - number of common-timeout adds", m[CommonTimeoutAdds])
	fmt.Printf("%-59s: %d\n", "# TIMER - number of common-timeout expires", m[CommonTimeoutExpires])
}

func showActivationMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# ACTIVATION - number of events queued", m[ActivationPushes])
	fmt.Printf("%-59s: %d\n", "# ACTIVATION - number of callbacks run", m[ActivationRuns])
	fmt.Printf("%-59s: %d\n", "# ACTIVATION - number of higher-priority preemptions", m[ActivationPreemptions])
	fmt.Printf("%-59s: %d\n", "# DEFERRED - number of callbacks queued", m[DeferredPushes])
	fmt.Printf("%-59s: %d\n", "# DEFERRED - number of callbacks run", m[DeferredRuns])
}

func showSignalMetrics(m [Max]uint64) {
	fmt.Printf("%-59s: %d\n", "# SIGNAL - number of raw deliveries observed", m[SignalDeliveries])
	fmt.Printf("%-59s: %d\n", "# SIGNAL - number of deliveries coalesced into one activation", m[SignalCoalesced])
	fmt.Printf("%-59s: %d\n", "# WAKEUP - number of self-pipe writes", m[WakeupWrites])
	fmt.Printf("%-59s: %d\n", "# WAKEUP - number of self-pipe drains", m[WakeupDrains])
}
