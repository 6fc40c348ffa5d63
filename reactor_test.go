// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package tevent_test

import (
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/tevent"
)

func pipeFDs(t *testing.T) (rd, wr *os.File) {
	rd, wr, err := os.Pipe()
	require.NoError(t, err)
	require.NoError(t, syscall.SetNonblock(int(rd.Fd()), true))
	t.Cleanup(func() {
		rd.Close()
		wr.Close()
	})
	return rd, wr
}

func TestReadEventFiresOnWrite(t *testing.T) {
	r, err := tevent.Create()
	require.NoError(t, err)
	defer r.Close()

	rd, wr := pipeFDs(t)
	done := make(chan struct{})
	ev := tevent.NewFDEvent(int(rd.Fd()), tevent.Read, func(ev *tevent.Event, res tevent.Mask, ncalls int) {
		buf := make([]byte, 16)
		n, _ := syscall.Read(ev.FD(), buf)
		if n > 0 {
			close(done)
		}
	}, nil)
	require.NoError(t, r.Add(ev, 0))

	go func() {
		time.Sleep(10 * time.Millisecond)
		wr.Write([]byte("x"))
	}()

	go func() {
		<-done
		r.LoopBreak()
	}()

	_, err = r.Loop(0)
	assert.NoError(t, err)
	select {
	case <-done:
	default:
		t.Fatal("read callback never fired")
	}
}

func TestOneShotEventUnregistersBeforeCallback(t *testing.T) {
	r, err := tevent.Create()
	require.NoError(t, err)
	defer r.Close()

	rd, wr := pipeFDs(t)
	var pendingDuringCallback tevent.Mask
	ev := tevent.NewFDEvent(int(rd.Fd()), tevent.Read, func(ev *tevent.Event, res tevent.Mask, ncalls int) {
		pendingDuringCallback = ev.Pending(tevent.Read, nil)
		r.LoopBreak()
	}, nil)
	require.NoError(t, r.Add(ev, 0))
	wr.Write([]byte("x"))

	_, err = r.Loop(0)
	assert.NoError(t, err)
	assert.Equal(t, tevent.Mask(0), pendingDuringCallback)
}

func TestPersistEventStaysRegistered(t *testing.T) {
	r, err := tevent.Create()
	require.NoError(t, err)
	defer r.Close()

	rd, wr := pipeFDs(t)
	var count int
	var mu sync.Mutex
	ev := tevent.NewFDEvent(int(rd.Fd()), tevent.Read|tevent.Persist, func(ev *tevent.Event, res tevent.Mask, ncalls int) {
		buf := make([]byte, 16)
		syscall.Read(ev.FD(), buf)
		mu.Lock()
		count++
		n := count
		mu.Unlock()
		if n >= 2 {
			r.LoopBreak()
		}
	}, nil)
	require.NoError(t, r.Add(ev, 0))

	go func() {
		time.Sleep(5 * time.Millisecond)
		wr.Write([]byte("a"))
		time.Sleep(20 * time.Millisecond)
		wr.Write([]byte("b"))
	}()

	_, err = r.Loop(tevent.LoopUntilEmpty)
	assert.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestTimerEventFiresAfterDeadline(t *testing.T) {
	r, err := tevent.Create()
	require.NoError(t, err)
	defer r.Close()

	fired := make(chan tevent.Mask, 1)
	ev := tevent.NewTimerEvent(func(ev *tevent.Event, res tevent.Mask, ncalls int) {
		fired <- res
		r.LoopBreak()
	}, nil)
	require.NoError(t, r.Add(ev, 10*time.Millisecond))

	_, err = r.Loop(0)
	require.NoError(t, err)
	select {
	case res := <-fired:
		assert.True(t, res.Has(tevent.Timeout))
	default:
		t.Fatal("timer never fired")
	}
}

func TestActiveOnUnregisteredEventIsPermitted(t *testing.T) {
	r, err := tevent.Create()
	require.NoError(t, err)
	defer r.Close()

	called := make(chan int, 1)
	ev := tevent.NewTimerEvent(func(ev *tevent.Event, res tevent.Mask, ncalls int) {
		called <- ncalls
		r.LoopBreak()
	}, nil)
	r.Active(ev, tevent.Timeout, 1)

	_, err = r.Loop(0)
	require.NoError(t, err)
	select {
	case n := <-called:
		assert.Equal(t, 1, n)
	default:
		t.Fatal("callback for unregistered-but-activated event never ran")
	}
}

func TestLoopReturnsNoEventsWhenNothingRegistered(t *testing.T) {
	r, err := tevent.Create()
	require.NoError(t, err)
	defer r.Close()

	res, err := r.Loop(0)
	assert.NoError(t, err)
	assert.Equal(t, tevent.LoopNoEvents, res)
}

func TestLoopExitStopsAfterDuration(t *testing.T) {
	r, err := tevent.Create()
	require.NoError(t, err)
	defer r.Close()

	r.AddVirtual()
	defer r.DelVirtual()
	require.NoError(t, r.LoopExit(20*time.Millisecond))

	start := time.Now()
	res, err := r.Loop(tevent.LoopUntilEmpty)
	assert.NoError(t, err)
	assert.Equal(t, tevent.LoopNormal, res)
	assert.True(t, time.Since(start) >= 15*time.Millisecond)
}

func TestReentrantLoopIsRejected(t *testing.T) {
	r, err := tevent.Create()
	require.NoError(t, err)
	defer r.Close()

	var innerErr error
	ev := tevent.NewTimerEvent(func(ev *tevent.Event, res tevent.Mask, ncalls int) {
		_, innerErr = r.Loop(0)
		r.LoopBreak()
	}, nil)
	require.NoError(t, r.Add(ev, time.Millisecond))

	_, err = r.Loop(0)
	require.NoError(t, err)
	assert.ErrorIs(t, innerErr, tevent.ErrReentrant)
}

func TestCommonTimeoutSharesOneDeadline(t *testing.T) {
	r, err := tevent.Create()
	require.NoError(t, err)
	defer r.Close()

	d := r.CommonTimeout(15 * time.Millisecond)
	var mu sync.Mutex
	fireCount := 0
	cb := func(ev *tevent.Event, res tevent.Mask, ncalls int) {
		mu.Lock()
		fireCount++
		n := fireCount
		mu.Unlock()
		if n == 2 {
			r.LoopBreak()
		}
	}
	ev1 := tevent.NewTimerEvent(cb, nil)
	ev2 := tevent.NewTimerEvent(cb, nil)
	require.NoError(t, r.Add(ev1, d))
	require.NoError(t, r.Add(ev2, d))

	_, err = r.Loop(0)
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, fireCount)
}

func TestDeferRunsAfterDrainBeforeNextWait(t *testing.T) {
	r, err := tevent.Create()
	require.NoError(t, err)
	defer r.Close()

	var order []string
	ev := tevent.NewTimerEvent(func(ev *tevent.Event, res tevent.Mask, ncalls int) {
		order = append(order, "callback")
		r.Defer(func() {
			order = append(order, "deferred")
			r.LoopBreak()
		})
	}, nil)
	require.NoError(t, r.Add(ev, time.Millisecond))

	_, err = r.Loop(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"callback", "deferred"}, order)
}

func TestPriorityInitRejectsAfterRegistration(t *testing.T) {
	r, err := tevent.Create()
	require.NoError(t, err)
	defer r.Close()

	ev := tevent.NewTimerEvent(nil, nil)
	require.NoError(t, r.Add(ev, time.Hour))
	assert.Error(t, r.PriorityInit(5))
}

func TestAddRejectsVirtualEvent(t *testing.T) {
	r, err := tevent.Create()
	require.NoError(t, err)
	defer r.Close()

	ev := tevent.NewVirtualEvent()
	assert.ErrorIs(t, r.Add(ev, 0), tevent.ErrInvalidArg)
}

func TestAddRejectsFDEventWithoutReadOrWrite(t *testing.T) {
	r, err := tevent.Create()
	require.NoError(t, err)
	defer r.Close()

	rd, _ := pipeFDs(t)
	ev := tevent.NewFDEvent(int(rd.Fd()), tevent.Persist, nil, nil)
	assert.ErrorIs(t, r.Add(ev, 0), tevent.ErrInvalidArg)
}

func TestDelOnPendingTimerPreventsCallback(t *testing.T) {
	r, err := tevent.Create()
	require.NoError(t, err)
	defer r.Close()

	calledCh := make(chan struct{}, 1)
	ev := tevent.NewTimerEvent(func(ev *tevent.Event, res tevent.Mask, ncalls int) {
		calledCh <- struct{}{}
	}, nil)
	require.NoError(t, r.Add(ev, time.Hour))
	require.NoError(t, r.Del(ev))
	require.NoError(t, r.LoopExit(20*time.Millisecond))

	_, err = r.Loop(tevent.LoopUntilEmpty)
	require.NoError(t, err)
	select {
	case <-calledCh:
		t.Fatal("deleted event's callback ran")
	default:
	}
}

func TestSetPriorityOrdersActivation(t *testing.T) {
	r, err := tevent.Create(tevent.WithNumPriorities(3))
	require.NoError(t, err)
	defer r.Close()

	var order []string
	record := func(name string) tevent.Callback {
		return func(ev *tevent.Event, res tevent.Mask, ncalls int) {
			order = append(order, name)
		}
	}

	low := tevent.NewTimerEvent(record("low"), nil)
	require.NoError(t, low.SetPriority(2))
	require.NoError(t, r.Add(low, 0))

	high := tevent.NewTimerEvent(record("high"), nil)
	require.NoError(t, high.SetPriority(0))
	require.NoError(t, r.Add(high, 0))

	_, err = r.Loop(tevent.LoopOnce)
	require.NoError(t, err)
	require.Equal(t, []string{"high", "low"}, order)
}

func TestWithNoLockStillDispatches(t *testing.T) {
	r, err := tevent.Create(tevent.WithNoLock())
	require.NoError(t, err)
	defer r.Close()

	calledCh := make(chan struct{}, 1)
	rd, wr := pipeFDs(t)
	ev := tevent.NewFDEvent(int(rd.Fd()), tevent.Read, func(ev *tevent.Event, res tevent.Mask, ncalls int) {
		calledCh <- struct{}{}
	}, nil)
	require.NoError(t, r.Add(ev, 0))
	wr.Write([]byte("x"))

	_, err = r.Loop(tevent.LoopOnce)
	require.NoError(t, err)
	select {
	case <-calledCh:
	default:
		t.Fatal("read callback did not run under WithNoLock")
	}
}

func TestDispatchIsLoopWithDefaultFlags(t *testing.T) {
	r, err := tevent.Create()
	require.NoError(t, err)
	defer r.Close()

	res, err := r.Dispatch()
	assert.NoError(t, err)
	assert.Equal(t, tevent.LoopNoEvents, res)
}
