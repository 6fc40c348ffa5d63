// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

//go:build linux
// +build linux

package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpollAddAcceptsEdgeTriggered(t *testing.T) {
	b, err := newEpoll()
	require.NoError(t, err)
	defer b.Close()

	rd, _ := pipeForPoll(t)
	desc := &Desc{FD: int(rd.Fd())}
	assert.NoError(t, b.Add(desc, 0, Read))

	rd2, _ := pipeForPoll(t)
	desc2 := &Desc{FD: int(rd2.Fd())}
	assert.NoError(t, b.Add(desc2, 0, Read|EdgeTriggered))
}

func TestEpollFeaturesSupportEdgeTriggered(t *testing.T) {
	b, err := newEpoll()
	require.NoError(t, err)
	defer b.Close()
	assert.True(t, b.Features().Has(FeatureEdgeTriggered))
	assert.True(t, b.Features().Has(FeatureO1Add))
}

func TestEpollDispatchActivatesOnReadiness(t *testing.T) {
	be, err := newEpoll()
	require.NoError(t, err)
	defer be.Close()
	ep := be.(*epoll)

	rd, wr := pipeForPoll(t)
	desc := &Desc{FD: int(rd.Fd())}
	require.NoError(t, ep.Add(desc, 0, Read))
	wr.Write([]byte("x"))

	var gotDesc *Desc
	var gotRes Mask
	err = ep.Dispatch(time.Second, func(d *Desc, res Mask) {
		gotDesc = d
		gotRes = res
	})
	require.NoError(t, err)
	assert.Same(t, desc, gotDesc)
	assert.True(t, gotRes.Has(Read))
}

func TestEpollDelRemovesRegistration(t *testing.T) {
	be, err := newEpoll()
	require.NoError(t, err)
	defer be.Close()
	ep := be.(*epoll)

	rd, wr := pipeForPoll(t)
	desc := &Desc{FD: int(rd.Fd())}
	require.NoError(t, ep.Add(desc, 0, Read))
	require.NoError(t, ep.Del(desc, Read, Read))
	wr.Write([]byte("x"))

	called := false
	err = ep.Dispatch(20*time.Millisecond, func(d *Desc, res Mask) { called = true })
	require.NoError(t, err)
	assert.False(t, called)
}

func TestEpollChangelistCoalescesAddDel(t *testing.T) {
	be, err := newEpoll()
	require.NoError(t, err)
	defer be.Close()
	ep := be.(*epoll)
	ep.UseChangelist(true)

	rd, wr := pipeForPoll(t)
	desc := &Desc{FD: int(rd.Fd())}
	require.NoError(t, ep.Add(desc, 0, Read))
	require.NoError(t, ep.Add(desc, Read, Read|Write))

	assert.Empty(t, ep.kernelMask, "no epoll_ctl should fire before flushChangelist")
	assert.Len(t, ep.pendingMask, 1)

	require.NoError(t, ep.flushChangelist())
	assert.Equal(t, Read|Write, ep.kernelMask[desc.FD])
	assert.Empty(t, ep.pendingMask, "flush must clear the pending set")

	wr.Write([]byte("x"))
	var gotRes Mask
	err = ep.Dispatch(time.Second, func(d *Desc, res Mask) { gotRes = res })
	require.NoError(t, err)
	assert.True(t, gotRes.Has(Read))
}

func TestEpollChangelistDelClearsKernelMask(t *testing.T) {
	be, err := newEpoll()
	require.NoError(t, err)
	defer be.Close()
	ep := be.(*epoll)
	ep.UseChangelist(true)

	rd, _ := pipeForPoll(t)
	desc := &Desc{FD: int(rd.Fd())}
	require.NoError(t, ep.Add(desc, 0, Read))
	require.NoError(t, ep.flushChangelist())
	require.Contains(t, ep.kernelMask, desc.FD)

	require.NoError(t, ep.Del(desc, Read, Read))
	require.NoError(t, ep.flushChangelist())
	assert.NotContains(t, ep.kernelMask, desc.FD)
}

func TestEpollNameAndFDInfoLen(t *testing.T) {
	b, err := newEpoll()
	require.NoError(t, err)
	defer b.Close()
	assert.Equal(t, "epoll", b.Name())
	assert.Equal(t, 0, b.FDInfoLen())
}
