// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package backend

import (
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeForPoll(t *testing.T) (rd, wr *os.File) {
	rd, wr, err := os.Pipe()
	require.NoError(t, err)
	require.NoError(t, syscall.SetNonblock(int(rd.Fd()), true))
	t.Cleanup(func() {
		rd.Close()
		wr.Close()
	})
	return rd, wr
}

func TestPollAddRejectsEdgeTriggered(t *testing.T) {
	b, err := newPoll()
	require.NoError(t, err)
	defer b.Close()

	rd, _ := pipeForPoll(t)
	desc := &Desc{FD: int(rd.Fd())}
	err = b.Add(desc, 0, Read|EdgeTriggered)
	assert.ErrorIs(t, err, errEdgeTriggeredUnsupported)
}

func TestPollFeaturesHaveNoEdgeTriggered(t *testing.T) {
	b, err := newPoll()
	require.NoError(t, err)
	defer b.Close()
	assert.False(t, b.Features().Has(FeatureEdgeTriggered))
}

func TestPollDispatchActivatesOnReadiness(t *testing.T) {
	be, err := newPoll()
	require.NoError(t, err)
	defer be.Close()
	p := be.(*poll)

	rd, wr := pipeForPoll(t)
	desc := &Desc{FD: int(rd.Fd())}
	require.NoError(t, p.Add(desc, 0, Read))

	wr.Write([]byte("x"))

	var gotDesc *Desc
	var gotRes Mask
	err = p.Dispatch(time.Second, func(d *Desc, res Mask) {
		gotDesc = d
		gotRes = res
	})
	require.NoError(t, err)
	assert.Same(t, desc, gotDesc)
	assert.True(t, gotRes.Has(Read))
}

func TestPollDelRemovesDesc(t *testing.T) {
	be, err := newPoll()
	require.NoError(t, err)
	defer be.Close()
	p := be.(*poll)

	rd, wr := pipeForPoll(t)
	desc := &Desc{FD: int(rd.Fd())}
	require.NoError(t, p.Add(desc, 0, Read))
	require.NoError(t, p.Del(desc, Read, Read))

	wr.Write([]byte("x"))

	called := false
	err = p.Dispatch(20*time.Millisecond, func(d *Desc, res Mask) {
		called = true
	})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestPollDispatchWithNoDescsRespectsTimeout(t *testing.T) {
	be, err := newPoll()
	require.NoError(t, err)
	defer be.Close()
	p := be.(*poll)

	start := time.Now()
	called := false
	err = p.Dispatch(20*time.Millisecond, func(d *Desc, res Mask) { called = true })
	require.NoError(t, err)
	assert.False(t, called)
	assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
}

func TestPollNameAndFDInfoLen(t *testing.T) {
	b, err := newPoll()
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "poll", b.Name())
	assert.Equal(t, 0, b.FDInfoLen())
}
