// Tencent is pleased to support the open source community by making tRPC available.
// Copyright (C) 2023 THL A29 Limited, a Tencent company. All rights reserved.
// If you have downloaded a copy of the tRPC source code from Tencent,
// please note that tRPC source code is licensed under the Apache 2.0 License,
// A copy of the Apache 2.0 License is included in this file.

package commontimeout_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"trpc.group/trpc-go/tevent/internal/commontimeout"
)

func TestRegistryLookupCreatesOnce(t *testing.T) {
	r := commontimeout.NewRegistry()
	_, ok := r.Has(time.Second)
	assert.False(t, ok)

	q1 := r.Lookup(time.Second)
	q2 := r.Lookup(time.Second)
	assert.Same(t, q1, q2)

	q3, ok := r.Has(time.Second)
	assert.True(t, ok)
	assert.Same(t, q1, q3)
}

func TestRegistryByIndex(t *testing.T) {
	r := commontimeout.NewRegistry()
	a := r.Lookup(time.Second)
	b := r.Lookup(2 * time.Second)
	assert.Same(t, a, r.ByIndex(a.Index))
	assert.Same(t, b, r.ByIndex(b.Index))
	assert.Nil(t, r.ByIndex(99))
	assert.Len(t, r.Queues(), 2)
}

func TestQueueAddIsFIFO(t *testing.T) {
	q := commontimeout.NewQueue(10*time.Millisecond, 0)
	now := time.Now()
	e1 := q.Add(now, "first")
	e2 := q.Add(now, "second")
	assert.Equal(t, 2, q.Len())
	assert.True(t, e1.InQueue())
	assert.True(t, e2.InQueue())

	expired := q.Expire(now.Add(20 * time.Millisecond))
	assert.Len(t, expired, 2)
	assert.Equal(t, "first", expired[0].Owner)
	assert.Equal(t, "second", expired[1].Owner)
	assert.Equal(t, 0, q.Len())
}

func TestQueueExpirePartial(t *testing.T) {
	q := commontimeout.NewQueue(10*time.Millisecond, 0)
	now := time.Now()
	q.Add(now, "early")
	q.Add(now.Add(5*time.Millisecond), "late")

	expired := q.Expire(now.Add(12 * time.Millisecond))
	assert.Len(t, expired, 1)
	assert.Equal(t, "early", expired[0].Owner)
	assert.Equal(t, 1, q.Len())
}

func TestQueueRemove(t *testing.T) {
	q := commontimeout.NewQueue(time.Second, 0)
	now := time.Now()
	e := q.Add(now, "owner")
	q.Remove(e)
	assert.False(t, e.InQueue())
	assert.Equal(t, 0, q.Len())
	// Removing twice is a no-op.
	q.Remove(e)
}

func TestQueueHeadDeadline(t *testing.T) {
	q := commontimeout.NewQueue(time.Second, 0)
	_, ok := q.HeadDeadline()
	assert.False(t, ok)

	now := time.Now()
	q.Add(now, "owner")
	d, ok := q.HeadDeadline()
	assert.True(t, ok)
	assert.Equal(t, now.Add(time.Second), d)
}

func TestEncodeDecodeTokenRoundTrip(t *testing.T) {
	token, ok := commontimeout.EncodeToken(3, 5*time.Second)
	assert.True(t, ok)
	idx, d := commontimeout.DecodeToken(token)
	assert.Equal(t, 3, idx)
	assert.Equal(t, 5*time.Second, d)
}

func TestEncodeTokenRejectsOutOfRangeIndex(t *testing.T) {
	_, ok := commontimeout.EncodeToken(16, time.Second)
	assert.False(t, ok)
}

func TestRealMicroseconds(t *testing.T) {
	assert.Equal(t, int64(123), commontimeout.RealMicroseconds(0xf000007b))
}
